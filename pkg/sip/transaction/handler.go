package transaction

import "github.com/tanbro/sipua/pkg/sip/message"

// Handler is the transaction user. The engine calls it synchronously from
// HandleMessage, RunTimers, Request and Respond; implementations may call
// back into the engine.
type Handler interface {
	// OnRequest is called once for every new server transaction.
	OnRequest(tx *Transaction, req *message.Request)
	// OnResponse is called for responses matched to a client transaction,
	// including 2xx retransmissions absorbed in Accepted.
	OnResponse(tx *Transaction, resp *message.Response)
	// OnAck is called for an ACK that does not belong to a non-2xx
	// exchange. tx is the Accepted INVITE server transaction when the ACK
	// reused its branch, nil otherwise.
	OnAck(tx *Transaction, ack *message.Request, source string)
	// OnTimeout is called once when a transaction dies on its timeout
	// deadline; err wraps ErrTimeout.
	OnTimeout(tx *Transaction, err error)
	OnTransportError(tx *Transaction, err error)
	// OnTerminated is called last, after the transaction has been removed.
	OnTerminated(tx *Transaction)
}

// NopHandler ignores every callback. Embed it to implement a subset.
type NopHandler struct{}

func (NopHandler) OnRequest(*Transaction, *message.Request) {}
func (NopHandler) OnResponse(*Transaction, *message.Response) {}
func (NopHandler) OnAck(*Transaction, *message.Request, string) {}
func (NopHandler) OnTimeout(*Transaction, error) {}
func (NopHandler) OnTransportError(*Transaction, error) {}
func (NopHandler) OnTerminated(*Transaction) {}
