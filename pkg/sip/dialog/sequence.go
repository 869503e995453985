package dialog

import (
	"fmt"

	"github.com/tanbro/sipua/pkg/sip/message"
)

// Sequence tracks the local and remote CSeq numbers of a dialog.
//
// RFC 3261 12.2.1.1: the local number increases by one for every new
// request; ACK and CANCEL reuse the number of the request they refer to.
// 12.2.2: a remote request with a lower number than the last one is out
// of order.
type Sequence struct {
	local     uint32
	remote    uint32
	remoteSet bool
}

func newSequence(local uint32) Sequence {
	return Sequence{local: local}
}

// Next advances and returns the local CSeq.
func (s *Sequence) Next() uint32 {
	s.local++
	return s.local
}

func (s *Sequence) Local() uint32 { return s.local }

// Remote returns the last accepted remote CSeq and whether one was seen.
func (s *Sequence) Remote() (uint32, bool) { return s.remote, s.remoteSet }

func (s *Sequence) setRemote(seq uint32) {
	s.remote = seq
	s.remoteSet = true
}

// Check validates a remote request. It records seq only when the request
// is accepted. ACK and CANCEL are always accepted and never recorded.
func (s *Sequence) Check(seq uint32, method string) error {
	if method == message.MethodAck || method == message.MethodCancel {
		return nil
	}
	if s.remoteSet && seq <= s.remote {
		return fmt.Errorf("%w: got %d, last %d", ErrCSeqOutOfOrder, seq, s.remote)
	}
	s.setRemote(seq)
	return nil
}
