// Package event defines the events the stack delivers to its listener.
package event

import (
	"errors"

	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
)

// ErrEventReleased is returned when a released event is dispatched again.
var ErrEventReleased = errors.New("event already released")

// Type enumerates event variants.
type Type int

const (
	RegistrationSuccess Type = iota + 1
	RegistrationFailure

	CallInvite
	CallReinvite
	CallNoAnswer
	CallProceeding
	CallRinging
	CallAnswered
	CallRedirected
	CallRequestFailure
	CallServerFailure
	CallGlobalFailure
	CallAck
	CallCancelled

	CallMessageNew
	CallMessageProceeding
	CallMessageAnswered
	CallMessageRedirected
	CallMessageRequestFailure
	CallMessageServerFailure
	CallMessageGlobalFailure

	CallClosed
	CallReleased

	MessageNew
	MessageProceeding
	MessageAnswered
	MessageRedirected
	MessageRequestFailure
	MessageServerFailure
	MessageGlobalFailure

	SubscriptionNoAnswer
	SubscriptionProceeding
	SubscriptionAnswered
	SubscriptionRedirected
	SubscriptionRequestFailure
	SubscriptionServerFailure
	SubscriptionGlobalFailure
	SubscriptionNotify

	InSubscriptionNew

	NotificationNoAnswer
	NotificationProceeding
	NotificationAnswered
	NotificationRedirected
	NotificationRequestFailure
	NotificationServerFailure
	NotificationGlobalFailure
)

var typeNames = map[Type]string{
	RegistrationSuccess:        "RegistrationSuccess",
	RegistrationFailure:        "RegistrationFailure",
	CallInvite:                 "CallInvite",
	CallReinvite:               "CallReinvite",
	CallNoAnswer:               "CallNoAnswer",
	CallProceeding:             "CallProceeding",
	CallRinging:                "CallRinging",
	CallAnswered:               "CallAnswered",
	CallRedirected:             "CallRedirected",
	CallRequestFailure:         "CallRequestFailure",
	CallServerFailure:          "CallServerFailure",
	CallGlobalFailure:          "CallGlobalFailure",
	CallAck:                    "CallAck",
	CallCancelled:              "CallCancelled",
	CallMessageNew:             "CallMessageNew",
	CallMessageProceeding:      "CallMessageProceeding",
	CallMessageAnswered:        "CallMessageAnswered",
	CallMessageRedirected:      "CallMessageRedirected",
	CallMessageRequestFailure:  "CallMessageRequestFailure",
	CallMessageServerFailure:   "CallMessageServerFailure",
	CallMessageGlobalFailure:   "CallMessageGlobalFailure",
	CallClosed:                 "CallClosed",
	CallReleased:               "CallReleased",
	MessageNew:                 "MessageNew",
	MessageProceeding:          "MessageProceeding",
	MessageAnswered:            "MessageAnswered",
	MessageRedirected:          "MessageRedirected",
	MessageRequestFailure:      "MessageRequestFailure",
	MessageServerFailure:       "MessageServerFailure",
	MessageGlobalFailure:       "MessageGlobalFailure",
	SubscriptionNoAnswer:       "SubscriptionNoAnswer",
	SubscriptionProceeding:     "SubscriptionProceeding",
	SubscriptionAnswered:       "SubscriptionAnswered",
	SubscriptionRedirected:     "SubscriptionRedirected",
	SubscriptionRequestFailure: "SubscriptionRequestFailure",
	SubscriptionServerFailure:  "SubscriptionServerFailure",
	SubscriptionGlobalFailure:  "SubscriptionGlobalFailure",
	SubscriptionNotify:         "SubscriptionNotify",
	InSubscriptionNew:          "InSubscriptionNew",
	NotificationNoAnswer:       "NotificationNoAnswer",
	NotificationProceeding:     "NotificationProceeding",
	NotificationAnswered:       "NotificationAnswered",
	NotificationRedirected:     "NotificationRedirected",
	NotificationRequestFailure: "NotificationRequestFailure",
	NotificationServerFailure:  "NotificationServerFailure",
	NotificationGlobalFailure:  "NotificationGlobalFailure",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Types returns every defined type in declaration order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := RegistrationSuccess; t <= NotificationGlobalFailure; t++ {
		out = append(out, t)
	}
	return out
}

// Event is one notification for the listener. The payload is valid until
// Release.
type Event struct {
	Type           Type
	TransactionID  handle.ID
	DialogID       handle.ID
	CallID         handle.ID
	RegistrationID handle.ID
	SubscriptionID handle.ID

	Request  *message.Request
	Response *message.Response
	Ack      *message.Request
	Err      error
	TextInfo string

	released bool
}

// Released reports whether Release was called.
func (e *Event) Released() bool { return e.released }

// Release drops the payload. The event may not be dispatched afterwards.
func (e *Event) Release() {
	e.Request = nil
	e.Response = nil
	e.Ack = nil
	e.Err = nil
	e.released = true
}

// StatusCode returns the response status, or 0 without a response.
func (e *Event) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
