package call

import (
	"fmt"
	"strings"

	"github.com/tanbro/sipua/pkg/sip/event"
	"github.com/tanbro/sipua/pkg/sip/handle"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

// SendMessage sends an out-of-dialog request such as MESSAGE or OPTIONS
// and returns its transaction id. Responses arrive as Message events. A
// request that cannot be sent is reported as MessageRequestFailure and
// the returned id is nil.
func (m *Manager) SendMessage(method, to, from string, opts ...Option) (handle.ID, error) {
	method = strings.ToUpper(method)
	switch method {
	case message.MethodInvite, message.MethodAck, message.MethodCancel, message.MethodBye,
		message.MethodRegister, message.MethodSubscribe:
		return handle.Nil, fmt.Errorf("%w: %s has its own operation", ErrInvalidMethod, method)
	}
	o := collect(opts)
	reqOpts := append(m.baseOptions(from, message.IsTargetRefresh(method)), o.requestOptions()...)
	req, err := message.BuildRequest(method, to, from, reqOpts...)
	if err != nil {
		return handle.Nil, err
	}
	m.stamp(req)
	dest, err := destination(req)
	if err != nil {
		return handle.Nil, err
	}
	tx, err := m.engine.Request(req, dest)
	if err != nil {
		m.log.Warn("request not sent", "method", method, "dest", dest, "error", err)
		m.push(&event.Event{Type: event.MessageRequestFailure, Request: req, Err: err})
		return handle.Nil, nil
	}
	m.bind(tx, &binding{purpose: purposeMessage})
	return tx.ID(), nil
}

func (m *Manager) outOfDialogResponse(tx *transaction.Transaction, resp *message.Response) {
	typ, ok := event.ForResponse(event.CategoryMessage, resp.StatusCode)
	if !ok {
		return
	}
	m.push(&event.Event{Type: typ, TransactionID: tx.ID(), Request: tx.Request(), Response: resp})
}
