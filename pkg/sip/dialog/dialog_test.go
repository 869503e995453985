package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanbro/sipua/pkg/sip/message"
)

func newInvite(t *testing.T) *message.Request {
	t.Helper()
	req, err := message.BuildRequest(message.MethodInvite, "sip:bob@example.com", "sip:alice@example.com",
		message.WithContact("<sip:alice@10.0.0.1:5060>"))
	require.NoError(t, err)
	return req
}

func reply(req *message.Request, status int, tag, contact string, recordRoutes ...string) *message.Response {
	b := message.NewResponse(req, status, "").ToTag(tag)
	if contact != "" {
		b.Header("Contact", contact)
	}
	for _, rr := range recordRoutes {
		b.Header("Record-Route", rr)
	}
	return b.Build()
}

func TestUAC_PendingBindsThenConfirms(t *testing.T) {
	m := NewManager()
	req := newInvite(t)

	d, err := m.CreateUAC(req)
	require.NoError(t, err)
	assert.Equal(t, StateInit, d.State())
	assert.Empty(t, d.RemoteTag())
	assert.Equal(t, message.FromTag(req), d.LocalTag())

	got, created, err := m.HandleResponse(req, reply(req, 100, "", ""))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, created)

	got, created, err = m.HandleResponse(req, reply(req, 180, "T1", "<sip:bob@10.0.0.2>"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, d, got)
	assert.Equal(t, StateEarly, d.State())
	assert.Equal(t, "T1", d.RemoteTag())
	assert.Equal(t, "T1", message.Tag(d.RemoteURI()))

	got, _, err = m.HandleResponse(req, reply(req, 200, "T1", "<sip:bob@10.0.0.3>",
		"<sip:p2.example.com;lr>", "<sip:p1.example.com;lr>"))
	require.NoError(t, err)
	assert.Same(t, d, got)
	assert.Equal(t, StateConfirmed, d.State())
	assert.Equal(t, "10.0.0.3", d.RemoteTarget().Host)
	assert.Equal(t, []string{"<sip:p1.example.com;lr>", "<sip:p2.example.com;lr>"}, d.RouteSet().Routes(), "UAC reverses Record-Route")
	assert.True(t, d.RouteSet().Frozen())

	found, ok := m.Lookup(Key{CallID: message.CallID(req), LocalTag: d.LocalTag(), RemoteTag: "T1"})
	require.True(t, ok)
	assert.Same(t, d, found)
	assert.Equal(t, 1, m.Len())
}

func TestUAC_ForkCreatesSecondEarlyDialog(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	_, err := m.CreateUAC(req)
	require.NoError(t, err)

	a, created, err := m.HandleResponse(req, reply(req, 180, "A", "<sip:a@10.0.0.2>"))
	require.NoError(t, err)
	assert.False(t, created)
	b, created, err := m.HandleResponse(req, reply(req, 183, "B", "<sip:b@10.0.0.3>"))
	require.NoError(t, err)
	assert.True(t, created)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.CallID(), b.CallID())
	assert.Equal(t, StateEarly, a.State())
	assert.Equal(t, StateEarly, b.State())
	assert.Len(t, m.Siblings(a), 2)
}

func TestUAC_TwoXXWithoutTag(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	_, err := m.CreateUAC(req)
	require.NoError(t, err)

	_, _, err = m.HandleResponse(req, reply(req, 200, "", ""))
	assert.ErrorIs(t, err, ErrInvalidResponse)

	d, _, err := m.HandleResponse(req, reply(req, 486, "x", ""))
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestUAC_RouteSetFrozen(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	_, err := m.CreateUAC(req)
	require.NoError(t, err)
	d, _, err := m.HandleResponse(req, reply(req, 200, "T1", "<sip:bob@10.0.0.2>", "<sip:p1;lr>"))
	require.NoError(t, err)

	assert.ErrorIs(t, d.routes.Set([]string{"<sip:evil;lr>"}, d.Role()), ErrRouteSetFrozen)
	assert.Equal(t, []string{"<sip:p1;lr>"}, d.RouteSet().Routes())

	// a later 2xx with different Record-Route leaves the set alone
	_, _, err = m.HandleResponse(req, reply(req, 200, "T1", "<sip:bob@10.0.0.9>", "<sip:other;lr>"))
	require.NoError(t, err)
	assert.Equal(t, []string{"<sip:p1;lr>"}, d.RouteSet().Routes())
	assert.Equal(t, "10.0.0.9", d.RemoteTarget().Host)
}

func TestDialog_NewRequest(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	_, err := m.CreateUAC(req)
	require.NoError(t, err)
	d, _, err := m.HandleResponse(req, reply(req, 200, "T1", "<sip:bob@10.0.0.2:5070>", "<sip:p1.example.com;lr>"))
	require.NoError(t, err)

	bye, err := d.NewRequest(message.MethodBye)
	require.NoError(t, err)
	assert.Equal(t, "sip:bob@10.0.0.2:5070", bye.RequestURI.String())
	assert.Equal(t, []string{"<sip:p1.example.com;lr>"}, bye.GetHeaders("Route"))
	assert.Equal(t, message.CallID(req), message.CallID(bye))
	assert.Equal(t, d.LocalTag(), message.FromTag(bye))
	assert.Equal(t, "T1", message.ToTag(bye))
	seq, method, err := message.CSeq(bye)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), seq)
	assert.Equal(t, message.MethodBye, method)

	info, err := d.NewRequest(message.MethodInfo)
	require.NoError(t, err)
	seq, _, _ = message.CSeq(info)
	assert.Equal(t, uint32(3), seq, "local CSeq strictly increases")

	ack, err := d.NewAck()
	require.NoError(t, err)
	seq, method, _ = message.CSeq(ack)
	assert.Equal(t, uint32(1), seq, "ACK reuses the INVITE number")
	assert.Equal(t, message.MethodAck, method)

	_, err = d.NewRequest(message.MethodCancel)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDialog_StrictRoute(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	_, err := m.CreateUAC(req)
	require.NoError(t, err)
	d, _, err := m.HandleResponse(req, reply(req, 200, "T1", "<sip:bob@10.0.0.2>", "<sip:p2.example.com>", "<sip:p1.example.com>"))
	require.NoError(t, err)

	bye, err := d.NewRequest(message.MethodBye)
	require.NoError(t, err)
	assert.Equal(t, "sip:p1.example.com", bye.RequestURI.String())
	assert.Equal(t, []string{"<sip:p2.example.com>", "<sip:bob@10.0.0.2>"}, bye.GetHeaders("Route"))
}

func TestUAS_CreateAndCSeqCheck(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	req.AddHeader("Record-Route", "<sip:p1.example.com;lr>")
	req.AddHeader("Record-Route", "<sip:p2.example.com;lr>")

	d, err := m.CreateUAS(req, reply(req, 180, "uas1", ""))
	require.NoError(t, err)
	assert.Equal(t, UAS, d.Role())
	assert.Equal(t, StateEarly, d.State())
	assert.Equal(t, "alice", d.RemoteTarget().User)
	assert.Equal(t, []string{"<sip:p1.example.com;lr>", "<sip:p2.example.com;lr>"}, d.RouteSet().Routes(), "UAS keeps order")

	same, err := m.CreateUAS(req, reply(req, 200, "uas1", ""))
	require.NoError(t, err)
	assert.Same(t, d, same)
	assert.Equal(t, StateConfirmed, d.State())

	// inbound in-dialog request from the caller
	bye := message.NewRequest(message.MethodBye, message.MustParseURI("sip:bob@10.0.0.1")).
		From(req.GetHeader("From"), "").
		To(message.WithTag(req.GetHeader("To"), "uas1"), "").
		CallID(message.CallID(req)).
		CSeq(1, message.MethodBye).
		Via("UDP", "10.0.0.2", 5060, message.GenerateBranch())
	old, err := bye.Build()
	require.NoError(t, err)

	found, ok := m.Match(old)
	require.True(t, ok)
	assert.Same(t, d, found)

	err = d.ProcessRequest(old)
	assert.ErrorIs(t, err, ErrCSeqOutOfOrder)
	remote, _ := d.RemoteCSeq()
	assert.Equal(t, uint32(1), remote, "rejected request leaves state untouched")

	ack := old.CloneRequest()
	ack.Method = message.MethodAck
	ack.SetHeader("CSeq", message.FormatCSeq(1, message.MethodAck))
	assert.NoError(t, d.ProcessRequest(ack), "ACK is exempt")

	reinvite := old.CloneRequest()
	reinvite.Method = message.MethodInvite
	reinvite.SetHeader("CSeq", message.FormatCSeq(2, message.MethodInvite))
	reinvite.SetHeader("Contact", "<sip:alice@192.168.1.5>")
	require.NoError(t, d.ProcessRequest(reinvite))
	assert.Equal(t, "192.168.1.5", d.RemoteTarget().Host)
	remote, _ = d.RemoteCSeq()
	assert.Equal(t, uint32(2), remote)
}

func TestUAS_RequiresTags(t *testing.T) {
	m := NewManager()
	req := newInvite(t)

	_, err := m.CreateUAS(req, reply(req, 180, "", ""))
	assert.ErrorIs(t, err, ErrInvalidResponse)
	_, err = m.CreateUAS(req, reply(req, 486, "x", ""))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestManager_Terminate(t *testing.T) {
	m := NewManager()
	req := newInvite(t)
	d, err := m.CreateUAC(req)
	require.NoError(t, err)

	require.NoError(t, m.Terminate(d.ID()))
	assert.Equal(t, StateTerminated, d.State())
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, m.Terminate(d.ID()), ErrDialogNotFound)

	_, err = d.NewRequest(message.MethodBye)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestSequence(t *testing.T) {
	s := newSequence(10)
	assert.Equal(t, uint32(11), s.Next())
	require.NoError(t, s.Check(5, message.MethodInfo))
	assert.ErrorIs(t, s.Check(5, message.MethodInfo), ErrCSeqOutOfOrder)
	assert.ErrorIs(t, s.Check(4, message.MethodBye), ErrCSeqOutOfOrder)
	assert.NoError(t, s.Check(1, message.MethodCancel))
	assert.NoError(t, s.Check(6, message.MethodBye))
}
