package event

// Category groups requests whose responses map to the same event family.
type Category int

const (
	CategoryCall Category = iota
	CategoryCallMessage
	CategoryMessage
	CategoryRegistration
	CategorySubscription
	CategoryNotification
)

func (c Category) String() string {
	switch c {
	case CategoryCall:
		return "call"
	case CategoryCallMessage:
		return "call_message"
	case CategoryMessage:
		return "message"
	case CategoryRegistration:
		return "registration"
	case CategorySubscription:
		return "subscription"
	case CategoryNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// family lists the event for each response class, 1xx to 6xx, followed by
// the event for a timeout or transport failure.
type family [7]Type

var families = map[Category]family{
	CategoryCall: {
		CallProceeding, CallAnswered, CallRedirected,
		CallRequestFailure, CallServerFailure, CallGlobalFailure,
		CallRequestFailure,
	},
	CategoryCallMessage: {
		CallMessageProceeding, CallMessageAnswered, CallMessageRedirected,
		CallMessageRequestFailure, CallMessageServerFailure, CallMessageGlobalFailure,
		CallMessageRequestFailure,
	},
	CategoryMessage: {
		MessageProceeding, MessageAnswered, MessageRedirected,
		MessageRequestFailure, MessageServerFailure, MessageGlobalFailure,
		MessageRequestFailure,
	},
	CategoryRegistration: {
		0, RegistrationSuccess, RegistrationFailure,
		RegistrationFailure, RegistrationFailure, RegistrationFailure,
		RegistrationFailure,
	},
	CategorySubscription: {
		SubscriptionProceeding, SubscriptionAnswered, SubscriptionRedirected,
		SubscriptionRequestFailure, SubscriptionServerFailure, SubscriptionGlobalFailure,
		SubscriptionNoAnswer,
	},
	CategoryNotification: {
		NotificationProceeding, NotificationAnswered, NotificationRedirected,
		NotificationRequestFailure, NotificationServerFailure, NotificationGlobalFailure,
		NotificationNoAnswer,
	},
}

// ForResponse maps a response status to an event type. ok is false when
// the category has no event for the status (1xx to REGISTER).
func ForResponse(c Category, status int) (Type, bool) {
	f, ok := families[c]
	class := status / 100
	if !ok || class < 1 || class > 6 {
		return 0, false
	}
	t := f[class-1]
	if c == CategoryCall && (status == 180 || status == 183) {
		t = CallRinging
	}
	return t, t != 0
}

// ForFailure is the event for a timeout or transport failure.
func ForFailure(c Category) Type {
	f, ok := families[c]
	if !ok {
		return 0
	}
	return f[6]
}
