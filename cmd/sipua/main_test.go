package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAnswerMedia(t *testing.T) {
	offer, err := buildOffer("192.0.2.10", 4000)
	require.NoError(t, err)

	text := string(offer)
	assert.True(t, strings.HasPrefix(text, "v=0\r\n"))
	assert.Contains(t, text, "m=audio 4000 RTP/AVP 0 8 101\r\n")
	assert.Contains(t, text, "a=rtpmap:101 telephone-event/8000\r\n")
	assert.Contains(t, text, "c=IN IP4 192.0.2.10\r\n")

	media, err := remoteMedia(offer)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10:4000", media)
}

func TestOfferIPv6(t *testing.T) {
	offer, err := buildOffer("2001:db8::1", 5004)
	require.NoError(t, err)
	assert.Contains(t, string(offer), "c=IN IP6 2001:db8::1\r\n")

	media, err := remoteMedia(offer)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:5004", media)
}

func TestRemoteMediaWithoutAudio(t *testing.T) {
	_, err := remoteMedia([]byte("v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\ns=-\r\nt=0 0\r\n"))
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestConfigCommand(t *testing.T) {
	out := run(t, "config", "--log-format", "text", "--log-level", "error")
	assert.Contains(t, out, "user_agent: sipua/")
	assert.Contains(t, out, "transport: udp")
	assert.Contains(t, out, "format: text")
	assert.Contains(t, out, "level: error")
}

func TestVersionCommand(t *testing.T) {
	out := run(t, "version", "--log-level", "error")
	assert.True(t, strings.HasPrefix(out, "sipua "))
}

func TestListenRejectsProvisionalStatus(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"listen", "--status", "180", "--log-level", "error"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, root.Execute(), "--status")
}
