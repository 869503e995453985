package transaction

import (
	"fmt"

	"github.com/tanbro/sipua/pkg/sip/message"
)

// Key identifies a transaction: top Via branch, method and side.
type Key struct {
	Branch string
	Method string
	Client bool
}

func (k Key) String() string {
	side := "server"
	if k.Client {
		side = "client"
	}
	return fmt.Sprintf("%s|%s|%s", k.Branch, k.Method, side)
}

// ServerKey derives the server transaction key of an inbound request.
// An ACK maps onto the INVITE transaction it acknowledges.
func ServerKey(req *message.Request) (Key, error) {
	branch := message.Branch(req)
	if branch == "" {
		return Key{}, fmt.Errorf("%w: missing Via branch", ErrInvalidRequest)
	}
	method := req.Method
	if method == message.MethodAck {
		method = message.MethodInvite
	}
	return Key{Branch: branch, Method: method}, nil
}

// ClientKey derives the client transaction key of an inbound response from
// its top Via branch and CSeq method.
func ClientKey(resp *message.Response) (Key, error) {
	branch := message.Branch(resp)
	if branch == "" {
		return Key{}, fmt.Errorf("%w: missing Via branch", ErrInvalidResponse)
	}
	_, method, err := message.CSeq(resp)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return Key{Branch: branch, Method: method, Client: true}, nil
}

func requestKey(req *message.Request) (Key, error) {
	branch := message.Branch(req)
	if branch == "" {
		return Key{}, fmt.Errorf("%w: missing Via branch", ErrInvalidRequest)
	}
	return Key{Branch: branch, Method: req.Method, Client: true}, nil
}
