package stack

import (
	"github.com/tanbro/sipua/pkg/sip/event"
)

// methodRecorder records the name of every Listener method called.
type methodRecorder struct {
	calls []string
}

func (r *methodRecorder) OnRegistrationSuccess(*Context, *event.Event) {
	r.calls = append(r.calls, "OnRegistrationSuccess")
}

func (r *methodRecorder) OnRegistrationFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnRegistrationFailure")
}

func (r *methodRecorder) OnCallInvite(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallInvite")
}

func (r *methodRecorder) OnCallReinvite(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallReinvite")
}

func (r *methodRecorder) OnCallNoAnswer(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallNoAnswer")
}

func (r *methodRecorder) OnCallProceeding(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallProceeding")
}

func (r *methodRecorder) OnCallRinging(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallRinging")
}

func (r *methodRecorder) OnCallAnswered(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallAnswered")
}

func (r *methodRecorder) OnCallRedirected(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallRedirected")
}

func (r *methodRecorder) OnCallRequestFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallRequestFailure")
}

func (r *methodRecorder) OnCallServerFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallServerFailure")
}

func (r *methodRecorder) OnCallGlobalFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallGlobalFailure")
}

func (r *methodRecorder) OnCallAck(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallAck")
}

func (r *methodRecorder) OnCallCancelled(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallCancelled")
}

func (r *methodRecorder) OnCallMessageNew(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageNew")
}

func (r *methodRecorder) OnCallMessageProceeding(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageProceeding")
}

func (r *methodRecorder) OnCallMessageAnswered(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageAnswered")
}

func (r *methodRecorder) OnCallMessageRedirected(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageRedirected")
}

func (r *methodRecorder) OnCallMessageRequestFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageRequestFailure")
}

func (r *methodRecorder) OnCallMessageServerFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageServerFailure")
}

func (r *methodRecorder) OnCallMessageGlobalFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallMessageGlobalFailure")
}

func (r *methodRecorder) OnCallClosed(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallClosed")
}

func (r *methodRecorder) OnCallReleased(*Context, *event.Event) {
	r.calls = append(r.calls, "OnCallReleased")
}

func (r *methodRecorder) OnMessageNew(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageNew")
}

func (r *methodRecorder) OnMessageProceeding(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageProceeding")
}

func (r *methodRecorder) OnMessageAnswered(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageAnswered")
}

func (r *methodRecorder) OnMessageRedirected(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageRedirected")
}

func (r *methodRecorder) OnMessageRequestFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageRequestFailure")
}

func (r *methodRecorder) OnMessageServerFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageServerFailure")
}

func (r *methodRecorder) OnMessageGlobalFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnMessageGlobalFailure")
}

func (r *methodRecorder) OnSubscriptionNoAnswer(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionNoAnswer")
}

func (r *methodRecorder) OnSubscriptionProceeding(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionProceeding")
}

func (r *methodRecorder) OnSubscriptionAnswered(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionAnswered")
}

func (r *methodRecorder) OnSubscriptionRedirected(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionRedirected")
}

func (r *methodRecorder) OnSubscriptionRequestFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionRequestFailure")
}

func (r *methodRecorder) OnSubscriptionServerFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionServerFailure")
}

func (r *methodRecorder) OnSubscriptionGlobalFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionGlobalFailure")
}

func (r *methodRecorder) OnSubscriptionNotify(*Context, *event.Event) {
	r.calls = append(r.calls, "OnSubscriptionNotify")
}

func (r *methodRecorder) OnInSubscriptionNew(*Context, *event.Event) {
	r.calls = append(r.calls, "OnInSubscriptionNew")
}

func (r *methodRecorder) OnNotificationNoAnswer(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationNoAnswer")
}

func (r *methodRecorder) OnNotificationProceeding(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationProceeding")
}

func (r *methodRecorder) OnNotificationAnswered(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationAnswered")
}

func (r *methodRecorder) OnNotificationRedirected(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationRedirected")
}

func (r *methodRecorder) OnNotificationRequestFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationRequestFailure")
}

func (r *methodRecorder) OnNotificationServerFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationServerFailure")
}

func (r *methodRecorder) OnNotificationGlobalFailure(*Context, *event.Event) {
	r.calls = append(r.calls, "OnNotificationGlobalFailure")
}
