package dialog

import (
	"fmt"

	"github.com/tanbro/sipua/pkg/sip/message"
)

// Key identifies a dialog (RFC 3261 12). RemoteTag is empty while a UAC
// dialog waits for its first tagged response.
type Key struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (k Key) String() string {
	return fmt.Sprintf("%s;local=%s;remote=%s", k.CallID, k.LocalTag, k.RemoteTag)
}

func (k Key) pending() Key {
	return Key{CallID: k.CallID, LocalTag: k.LocalTag}
}

// KeyFromMessage derives the dialog key of msg as seen by this UA. For a
// message the UA sent as UAC, or a response it received, the local tag is
// the From tag; for requests received (uas true) it is the To tag.
func KeyFromMessage(msg message.Message, uas bool) (Key, error) {
	callID := message.CallID(msg)
	if callID == "" {
		return Key{}, fmt.Errorf("%w: missing Call-ID", ErrInvalidRequest)
	}
	fromTag, toTag := message.FromTag(msg), message.ToTag(msg)
	if fromTag == "" {
		return Key{}, fmt.Errorf("%w: missing From tag", ErrInvalidRequest)
	}
	if uas {
		return Key{CallID: callID, LocalTag: toTag, RemoteTag: fromTag}, nil
	}
	return Key{CallID: callID, LocalTag: fromTag, RemoteTag: toTag}, nil
}
