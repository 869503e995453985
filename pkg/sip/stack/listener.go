package stack

import (
	"fmt"

	"github.com/tanbro/sipua/pkg/sip/event"
)

// Listener receives the stack events. Each event type has its own method;
// embed NopListener to ignore the ones you do not handle.
//
// Callbacks run without the Context lock held and may call Lock or Do.
type Listener interface {
	// Registrations
	OnRegistrationSuccess(c *Context, e *event.Event)
	OnRegistrationFailure(c *Context, e *event.Event)

	// Calls
	// OnCallInvite reports a new inbound call. Answer it with Session.Answer
	// on the event's TransactionID.
	OnCallInvite(c *Context, e *event.Event)
	OnCallReinvite(c *Context, e *event.Event)
	// OnCallNoAnswer reports that an outbound call rang too long and is being
	// cancelled.
	OnCallNoAnswer(c *Context, e *event.Event)
	OnCallProceeding(c *Context, e *event.Event)
	OnCallRinging(c *Context, e *event.Event)
	// OnCallAnswered reports a 2xx to an outbound INVITE. Send the ACK with
	// Session.SendAck on the event's DialogID.
	OnCallAnswered(c *Context, e *event.Event)
	OnCallRedirected(c *Context, e *event.Event)
	OnCallRequestFailure(c *Context, e *event.Event)
	OnCallServerFailure(c *Context, e *event.Event)
	OnCallGlobalFailure(c *Context, e *event.Event)
	// OnCallAck reports the ACK confirming an answered inbound call.
	OnCallAck(c *Context, e *event.Event)
	OnCallCancelled(c *Context, e *event.Event)

	// Requests inside a call
	OnCallMessageNew(c *Context, e *event.Event)
	OnCallMessageProceeding(c *Context, e *event.Event)
	OnCallMessageAnswered(c *Context, e *event.Event)
	OnCallMessageRedirected(c *Context, e *event.Event)
	OnCallMessageRequestFailure(c *Context, e *event.Event)
	OnCallMessageServerFailure(c *Context, e *event.Event)
	OnCallMessageGlobalFailure(c *Context, e *event.Event)

	// Call lifetime
	OnCallClosed(c *Context, e *event.Event)
	// OnCallReleased is the last event of a call; its id is no longer valid.
	OnCallReleased(c *Context, e *event.Event)

	// Requests outside of any dialog
	OnMessageNew(c *Context, e *event.Event)
	OnMessageProceeding(c *Context, e *event.Event)
	OnMessageAnswered(c *Context, e *event.Event)
	OnMessageRedirected(c *Context, e *event.Event)
	OnMessageRequestFailure(c *Context, e *event.Event)
	OnMessageServerFailure(c *Context, e *event.Event)
	OnMessageGlobalFailure(c *Context, e *event.Event)

	// Outbound subscriptions
	OnSubscriptionNoAnswer(c *Context, e *event.Event)
	OnSubscriptionProceeding(c *Context, e *event.Event)
	OnSubscriptionAnswered(c *Context, e *event.Event)
	OnSubscriptionRedirected(c *Context, e *event.Event)
	OnSubscriptionRequestFailure(c *Context, e *event.Event)
	OnSubscriptionServerFailure(c *Context, e *event.Event)
	OnSubscriptionGlobalFailure(c *Context, e *event.Event)
	// OnSubscriptionNotify reports a NOTIFY on an outbound subscription. It
	// must be answered.
	OnSubscriptionNotify(c *Context, e *event.Event)

	// Inbound subscriptions
	// OnInSubscriptionNew reports an inbound SUBSCRIBE. It must be answered.
	OnInSubscriptionNew(c *Context, e *event.Event)
	OnNotificationNoAnswer(c *Context, e *event.Event)
	OnNotificationProceeding(c *Context, e *event.Event)
	OnNotificationAnswered(c *Context, e *event.Event)
	OnNotificationRedirected(c *Context, e *event.Event)
	OnNotificationRequestFailure(c *Context, e *event.Event)
	OnNotificationServerFailure(c *Context, e *event.Event)
	OnNotificationGlobalFailure(c *Context, e *event.Event)
}

// NopListener implements Listener by ignoring every event.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) OnRegistrationSuccess(*Context, *event.Event) {}
func (NopListener) OnRegistrationFailure(*Context, *event.Event) {}
func (NopListener) OnCallInvite(*Context, *event.Event) {}
func (NopListener) OnCallReinvite(*Context, *event.Event) {}
func (NopListener) OnCallNoAnswer(*Context, *event.Event) {}
func (NopListener) OnCallProceeding(*Context, *event.Event) {}
func (NopListener) OnCallRinging(*Context, *event.Event) {}
func (NopListener) OnCallAnswered(*Context, *event.Event) {}
func (NopListener) OnCallRedirected(*Context, *event.Event) {}
func (NopListener) OnCallRequestFailure(*Context, *event.Event) {}
func (NopListener) OnCallServerFailure(*Context, *event.Event) {}
func (NopListener) OnCallGlobalFailure(*Context, *event.Event) {}
func (NopListener) OnCallAck(*Context, *event.Event) {}
func (NopListener) OnCallCancelled(*Context, *event.Event) {}
func (NopListener) OnCallMessageNew(*Context, *event.Event) {}
func (NopListener) OnCallMessageProceeding(*Context, *event.Event) {}
func (NopListener) OnCallMessageAnswered(*Context, *event.Event) {}
func (NopListener) OnCallMessageRedirected(*Context, *event.Event) {}
func (NopListener) OnCallMessageRequestFailure(*Context, *event.Event) {}
func (NopListener) OnCallMessageServerFailure(*Context, *event.Event) {}
func (NopListener) OnCallMessageGlobalFailure(*Context, *event.Event) {}
func (NopListener) OnCallClosed(*Context, *event.Event) {}
func (NopListener) OnCallReleased(*Context, *event.Event) {}
func (NopListener) OnMessageNew(*Context, *event.Event) {}
func (NopListener) OnMessageProceeding(*Context, *event.Event) {}
func (NopListener) OnMessageAnswered(*Context, *event.Event) {}
func (NopListener) OnMessageRedirected(*Context, *event.Event) {}
func (NopListener) OnMessageRequestFailure(*Context, *event.Event) {}
func (NopListener) OnMessageServerFailure(*Context, *event.Event) {}
func (NopListener) OnMessageGlobalFailure(*Context, *event.Event) {}
func (NopListener) OnSubscriptionNoAnswer(*Context, *event.Event) {}
func (NopListener) OnSubscriptionProceeding(*Context, *event.Event) {}
func (NopListener) OnSubscriptionAnswered(*Context, *event.Event) {}
func (NopListener) OnSubscriptionRedirected(*Context, *event.Event) {}
func (NopListener) OnSubscriptionRequestFailure(*Context, *event.Event) {}
func (NopListener) OnSubscriptionServerFailure(*Context, *event.Event) {}
func (NopListener) OnSubscriptionGlobalFailure(*Context, *event.Event) {}
func (NopListener) OnSubscriptionNotify(*Context, *event.Event) {}
func (NopListener) OnInSubscriptionNew(*Context, *event.Event) {}
func (NopListener) OnNotificationNoAnswer(*Context, *event.Event) {}
func (NopListener) OnNotificationProceeding(*Context, *event.Event) {}
func (NopListener) OnNotificationAnswered(*Context, *event.Event) {}
func (NopListener) OnNotificationRedirected(*Context, *event.Event) {}
func (NopListener) OnNotificationRequestFailure(*Context, *event.Event) {}
func (NopListener) OnNotificationServerFailure(*Context, *event.Event) {}
func (NopListener) OnNotificationGlobalFailure(*Context, *event.Event) {}

// Dispatch calls the method of l matching the type of e.
func Dispatch(l Listener, c *Context, e *event.Event) error {
	if e.Released() {
		return event.ErrEventReleased
	}
	switch e.Type {
	case event.RegistrationSuccess:
		l.OnRegistrationSuccess(c, e)
	case event.RegistrationFailure:
		l.OnRegistrationFailure(c, e)
	case event.CallInvite:
		l.OnCallInvite(c, e)
	case event.CallReinvite:
		l.OnCallReinvite(c, e)
	case event.CallNoAnswer:
		l.OnCallNoAnswer(c, e)
	case event.CallProceeding:
		l.OnCallProceeding(c, e)
	case event.CallRinging:
		l.OnCallRinging(c, e)
	case event.CallAnswered:
		l.OnCallAnswered(c, e)
	case event.CallRedirected:
		l.OnCallRedirected(c, e)
	case event.CallRequestFailure:
		l.OnCallRequestFailure(c, e)
	case event.CallServerFailure:
		l.OnCallServerFailure(c, e)
	case event.CallGlobalFailure:
		l.OnCallGlobalFailure(c, e)
	case event.CallAck:
		l.OnCallAck(c, e)
	case event.CallCancelled:
		l.OnCallCancelled(c, e)
	case event.CallMessageNew:
		l.OnCallMessageNew(c, e)
	case event.CallMessageProceeding:
		l.OnCallMessageProceeding(c, e)
	case event.CallMessageAnswered:
		l.OnCallMessageAnswered(c, e)
	case event.CallMessageRedirected:
		l.OnCallMessageRedirected(c, e)
	case event.CallMessageRequestFailure:
		l.OnCallMessageRequestFailure(c, e)
	case event.CallMessageServerFailure:
		l.OnCallMessageServerFailure(c, e)
	case event.CallMessageGlobalFailure:
		l.OnCallMessageGlobalFailure(c, e)
	case event.CallClosed:
		l.OnCallClosed(c, e)
	case event.CallReleased:
		l.OnCallReleased(c, e)
	case event.MessageNew:
		l.OnMessageNew(c, e)
	case event.MessageProceeding:
		l.OnMessageProceeding(c, e)
	case event.MessageAnswered:
		l.OnMessageAnswered(c, e)
	case event.MessageRedirected:
		l.OnMessageRedirected(c, e)
	case event.MessageRequestFailure:
		l.OnMessageRequestFailure(c, e)
	case event.MessageServerFailure:
		l.OnMessageServerFailure(c, e)
	case event.MessageGlobalFailure:
		l.OnMessageGlobalFailure(c, e)
	case event.SubscriptionNoAnswer:
		l.OnSubscriptionNoAnswer(c, e)
	case event.SubscriptionProceeding:
		l.OnSubscriptionProceeding(c, e)
	case event.SubscriptionAnswered:
		l.OnSubscriptionAnswered(c, e)
	case event.SubscriptionRedirected:
		l.OnSubscriptionRedirected(c, e)
	case event.SubscriptionRequestFailure:
		l.OnSubscriptionRequestFailure(c, e)
	case event.SubscriptionServerFailure:
		l.OnSubscriptionServerFailure(c, e)
	case event.SubscriptionGlobalFailure:
		l.OnSubscriptionGlobalFailure(c, e)
	case event.SubscriptionNotify:
		l.OnSubscriptionNotify(c, e)
	case event.InSubscriptionNew:
		l.OnInSubscriptionNew(c, e)
	case event.NotificationNoAnswer:
		l.OnNotificationNoAnswer(c, e)
	case event.NotificationProceeding:
		l.OnNotificationProceeding(c, e)
	case event.NotificationAnswered:
		l.OnNotificationAnswered(c, e)
	case event.NotificationRedirected:
		l.OnNotificationRedirected(c, e)
	case event.NotificationRequestFailure:
		l.OnNotificationRequestFailure(c, e)
	case event.NotificationServerFailure:
		l.OnNotificationServerFailure(c, e)
	case event.NotificationGlobalFailure:
		l.OnNotificationGlobalFailure(c, e)
	default:
		return fmt.Errorf("unknown event type %d", int(e.Type))
	}
	return nil
}
