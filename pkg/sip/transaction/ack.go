package transaction

import (
	"strconv"

	"github.com/tanbro/sipua/pkg/sip/message"
)

// NewAck builds the ACK for a non-2xx final response to an INVITE
// (RFC 3261 17.1.1.3). It reuses the INVITE's top Via, so it matches the
// server transaction on the far end.
func NewAck(invite *message.Request, resp *message.Response) *message.Request {
	ack := &message.Request{
		Method:     message.MethodAck,
		RequestURI: invite.RequestURI.Clone(),
		Headers:    message.NewHeaders(),
	}
	if via := invite.HeaderSet().List("Via"); len(via) > 0 {
		ack.Headers.Add("Via", via[0])
	}
	for _, route := range invite.GetHeaders("Route") {
		ack.Headers.Add("Route", route)
	}
	ack.Headers.Add("Max-Forwards", strconv.Itoa(message.DefaultMaxForwards))
	ack.Headers.Add("From", invite.GetHeader("From"))
	ack.Headers.Add("To", resp.GetHeader("To"))
	ack.Headers.Add("Call-ID", invite.GetHeader("Call-ID"))
	seq, _, _ := message.CSeq(invite)
	ack.Headers.Add("CSeq", message.FormatCSeq(seq, message.MethodAck))
	ack.SetBody(nil)
	return ack
}

// NewCancel builds the CANCEL for a pending INVITE (RFC 3261 9.1). It
// carries the INVITE's top Via, so it shares the branch but forms its own
// transaction.
func NewCancel(invite *message.Request) *message.Request {
	cancel := &message.Request{
		Method:     message.MethodCancel,
		RequestURI: invite.RequestURI.Clone(),
		Headers:    message.NewHeaders(),
	}
	if via := invite.HeaderSet().List("Via"); len(via) > 0 {
		cancel.Headers.Add("Via", via[0])
	}
	for _, route := range invite.GetHeaders("Route") {
		cancel.Headers.Add("Route", route)
	}
	cancel.Headers.Add("Max-Forwards", strconv.Itoa(message.DefaultMaxForwards))
	cancel.Headers.Add("From", invite.GetHeader("From"))
	cancel.Headers.Add("To", invite.GetHeader("To"))
	cancel.Headers.Add("Call-ID", invite.GetHeader("Call-ID"))
	seq, _, _ := message.CSeq(invite)
	cancel.Headers.Add("CSeq", message.FormatCSeq(seq, message.MethodCancel))
	cancel.SetBody(nil)
	return cancel
}
