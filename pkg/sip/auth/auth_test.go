package auth

import (
	"testing"

	"github.com/icholy/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanbro/sipua/pkg/sip/message"
)

func TestStore_Lookup(t *testing.T) {
	var s Store
	_, ok := s.Lookup("example.com")
	assert.False(t, ok)

	s.Add(Credential{Username: "any", Password: "x"})
	s.Add(Credential{Username: "alice", Password: "old", Realm: "example.com"})
	s.Add(Credential{Username: "alice", Password: "secret", Realm: "example.com"})
	assert.Equal(t, 2, s.Len())

	c, ok := s.Lookup("example.com")
	require.True(t, ok)
	assert.Equal(t, "secret", c.Password)

	c, ok = s.Lookup("other.org")
	require.True(t, ok)
	assert.Equal(t, "any", c.Username)

	s.Clear()
	_, ok = s.Lookup("example.com")
	assert.False(t, ok)
}

func newRegister(t *testing.T) *message.Request {
	t.Helper()
	req, err := message.BuildRequest(message.MethodRegister, "sip:alice@example.com", "sip:alice@example.com")
	require.NoError(t, err)
	return req
}

func TestChallengeFrom(t *testing.T) {
	req := newRegister(t)
	chal := digest.Challenge{Realm: "example.com", Nonce: "abc123", Algorithm: "MD5"}

	resp := message.BuildResponse(req, 407, "")
	resp.AddHeader("Proxy-Authenticate", chal.String())
	got, err := ChallengeFrom(resp)
	require.NoError(t, err)
	assert.Equal(t, "Proxy-Authorization", got.Header)
	assert.Equal(t, "example.com", got.Realm)
	assert.Equal(t, "abc123", got.Nonce)

	_, err = ChallengeFrom(message.BuildResponse(req, 401, ""))
	assert.ErrorIs(t, err, ErrNoChallenge)
	_, err = ChallengeFrom(message.BuildResponse(req, 200, ""))
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestDigest_Authorize(t *testing.T) {
	req := newRegister(t)
	chal := &digest.Challenge{Realm: "example.com", Nonce: "n0nce", Algorithm: "MD5"}

	resp := message.BuildResponse(req, 401, "")
	resp.AddHeader("WWW-Authenticate", chal.String())
	parsed, err := ChallengeFrom(resp)
	require.NoError(t, err)
	assert.Equal(t, "Authorization", parsed.Header)

	value, err := Digest{}.Authorize(req, parsed, Credential{Username: "alice", AuthUsername: "alice-auth", Password: "secret"})
	require.NoError(t, err)

	creds, err := digest.ParseCredentials(value)
	require.NoError(t, err)
	assert.Equal(t, "alice-auth", creds.Username)
	assert.Equal(t, "sip:example.com", creds.URI)

	want, err := digest.Digest(chal, digest.Options{
		Method:   "REGISTER",
		URI:      "sip:example.com",
		Username: "alice-auth",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, want.Response, creds.Response)
}
