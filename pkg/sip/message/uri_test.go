package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want *URI
	}{
		{
			name: "basic",
			uri:  "sip:alice@atlanta.com",
			want: &URI{Scheme: "sip", User: "alice", Host: "atlanta.com"},
		},
		{
			name: "port",
			uri:  "sip:alice@atlanta.com:5070",
			want: &URI{Scheme: "sip", User: "alice", Host: "atlanta.com", Port: 5070},
		},
		{
			name: "password",
			uri:  "sip:alice:secretpass@atlanta.com",
			want: &URI{Scheme: "sip", User: "alice", Password: "secretpass", Host: "atlanta.com"},
		},
		{
			name: "ordered params",
			uri:  "sip:alice@atlanta.com;transport=tcp;lr",
			want: &URI{
				Scheme: "sip", User: "alice", Host: "atlanta.com",
				Params: Params{{Name: "transport", Value: "tcp"}, {Name: "lr"}},
			},
		},
		{
			name: "headers",
			uri:  "sips:bob@biloxi.com?subject=project%20x&priority=urgent",
			want: &URI{
				Scheme: "sips", User: "bob", Host: "biloxi.com",
				Headers: Params{{Name: "subject", Value: "project x"}, {Name: "priority", Value: "urgent"}},
			},
		},
		{
			name: "ipv6",
			uri:  "sip:alice@[2001:db8::1]:5060",
			want: &URI{Scheme: "sip", User: "alice", Host: "[2001:db8::1]", Port: 5060},
		},
		{
			name: "escaped user",
			uri:  "sip:%2B1555@carrier.net",
			want: &URI{Scheme: "sip", User: "+1555", Host: "carrier.net"},
		},
		{
			name: "host only",
			uri:  "sip:registrar.example.com",
			want: &URI{Scheme: "sip", Host: "registrar.example.com"},
		},
		{
			name: "tel",
			uri:  "tel:+1-201-555-0123;phone-context=example.com",
			want: &URI{Scheme: "tel", User: "+1-201-555-0123", Params: Params{{Name: "phone-context", Value: "example.com"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseURI_Errors(t *testing.T) {
	for _, s := range []string{
		"",
		"alice@atlanta.com",
		"http://example.com",
		"sip:alice@",
		"sip:alice@host:abc",
		"sip:alice@host:70000",
		"sip:[2001:db8::1",
		"sip:[zz::1]",
		"tel:",
	} {
		_, err := ParseURI(s)
		assert.ErrorIs(t, err, ErrInvalidURI, "input %q", s)
	}
}

func TestURI_StringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"sip:alice@atlanta.com",
		"sip:alice:pw@atlanta.com:5070;transport=tcp;lr",
		"sips:bob@biloxi.com;maddr=10.0.0.1?subject=hi",
		"sip:[2001:db8::1]:5060",
		"sip:+1555@carrier.net;user=phone",
		"tel:+15550123",
	} {
		u, err := ParseURI(s)
		require.NoError(t, err)
		assert.Equal(t, s, u.String())

		again, err := ParseURI(u.String())
		require.NoError(t, err)
		assert.Equal(t, u, again)
	}
}

func TestURI_EscapesUser(t *testing.T) {
	u := &URI{Scheme: "sip", User: "a b", Host: "h"}
	assert.Equal(t, "sip:a%20b@h", u.String())
}

func TestURI_Clone(t *testing.T) {
	u := MustParseURI("sip:alice@atlanta.com;lr")
	c := u.Clone()
	c.Params = c.Params.Set("lr", "on")
	c.Host = "elsewhere"

	assert.Equal(t, "sip:alice@atlanta.com;lr", u.String())
	assert.Equal(t, "sip:alice@elsewhere;lr=on", c.String())
	assert.Nil(t, (*URI)(nil).Clone())
}

func TestURI_HostPortAndTransport(t *testing.T) {
	assert.Equal(t, "atlanta.com:5060", MustParseURI("sip:atlanta.com").HostPort())
	assert.Equal(t, "atlanta.com:5061", MustParseURI("sips:atlanta.com").HostPort())
	assert.Equal(t, "[2001:db8::1]:5080", MustParseURI("sip:[2001:db8::1]:5080").HostPort())

	assert.Equal(t, "udp", MustParseURI("sip:a@b").Transport())
	assert.Equal(t, "tcp", MustParseURI("sip:a@b;transport=TCP").Transport())
	assert.Equal(t, "tls", MustParseURI("sips:a@b").Transport())
}
