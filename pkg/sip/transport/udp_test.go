package transport

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tanbro/sipua/internal/netmock"
)

const ping = "OPTIONS sip:b@127.0.0.1 SIP/2.0\r\nContent-Length: 0\r\n\r\n"

func setupMockUDP(t *testing.T) (*UDP, *netmock.MockPacketConn) {
	t.Helper()

	ctrl := gomock.NewController(t)
	conn := netmock.NewMockPacketConn(ctrl)
	conn.EXPECT().
		SetReadDeadline(gomock.AssignableToTypeOf(time.Time{})).
		Return(nil).
		AnyTimes()
	conn.EXPECT().
		LocalAddr().
		Return(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5060}).
		AnyTimes()

	tp, err := NewUDP(conn, Options{})
	require.NoError(t, err)
	return tp, conn
}

func TestUDP_NilConn(t *testing.T) {
	_, err := NewUDP(nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestUDP_SendWritesDatagram(t *testing.T) {
	tp, conn := setupMockUDP(t)

	conn.EXPECT().
		WriteTo(
			[]byte(ping),
			gomock.Cond(func(x *net.UDPAddr) bool {
				return x.IP.Equal(net.ParseIP("10.1.2.3")) && x.Port == 5070
			}),
		).
		DoAndReturn(func(b []byte, _ net.Addr) (int, error) { return len(b), nil }).
		Times(1)

	require.NoError(t, tp.Send([]byte(ping), "10.1.2.3:5070"))
	assert.Equal(t, uint64(1), tp.Stats().MessagesSent)
	assert.Equal(t, uint64(len(ping)), tp.Stats().BytesSent)
}

func TestUDP_SendErrors(t *testing.T) {
	tp, conn := setupMockUDP(t)

	err := tp.Send([]byte(ping), "no-port")
	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "resolve", terr.Op)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	conn.EXPECT().
		WriteTo(gomock.Any(), gomock.Any()).
		Return(0, errors.New("network is unreachable"))
	err = tp.Send([]byte(ping), "10.1.2.3:5060")
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, ProtocolUDP, terr.Transport)
	assert.Equal(t, "send", terr.Op)
	assert.Equal(t, uint64(1), tp.Stats().Errors)
}

func TestUDP_Receive(t *testing.T) {
	tp, conn := setupMockUDP(t)
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 5060}

	gomock.InOrder(
		conn.EXPECT().
			ReadFrom(gomock.Any()).
			DoAndReturn(func(p []byte) (int, net.Addr, error) {
				return copy(p, ping), src, nil
			}),
		conn.EXPECT().
			ReadFrom(gomock.Any()).
			Return(0, nil, os.ErrDeadlineExceeded),
	)

	pkt, ok, err := tp.Receive(10 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ping, string(pkt.Data))
	assert.Equal(t, src, pkt.Source)

	_, ok, err = tp.Receive(10 * time.Millisecond)
	require.NoError(t, err, "timeout is not an error")
	assert.False(t, ok)
}

func TestUDP_Close(t *testing.T) {
	tp, conn := setupMockUDP(t)
	conn.EXPECT().Close().Return(nil).Times(1)

	require.NoError(t, tp.Close())
	assert.ErrorIs(t, tp.Close(), ErrClosed)
	assert.ErrorIs(t, tp.Send([]byte(ping), "10.1.2.3:5060"), ErrClosed)

	_, _, err := tp.Receive(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUDP_Loopback(t *testing.T) {
	a, err := ListenUDP("udp4", "127.0.0.1:0", Options{ReuseAddr: true})
	require.NoError(t, err)
	defer a.Close()

	b, err := ListenUDP("udp4", "127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte(ping), b.LocalAddr().String()))

	pkt, ok, err := b.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ping, string(pkt.Data))
	assert.Equal(t, a.LocalAddr().String(), pkt.Source.String())
	assert.False(t, a.Reliable())
}
