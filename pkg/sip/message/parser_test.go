package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inviteMsg = "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.com>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 10\r\n" +
	"\r\n" +
	"v=0\r\no=tesTRAILING"

func TestParser_ValidRequest(t *testing.T) {
	parser := NewParser(true)

	msg, err := parser.Parse([]byte(inviteMsg))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, MethodInvite, req.Method)
	assert.Equal(t, "sip:bob@biloxi.com", req.RequestURI.String())
	assert.Equal(t, "a84b4c76e66710@pc33.atlanta.com", CallID(req))
	assert.Equal(t, "z9hG4bK776asdhds", Branch(req))
	assert.Equal(t, "1928301774", FromTag(req))
	assert.Equal(t, "", ToTag(req))
	assert.Equal(t, "v=0\r\no=tes", string(req.Body()), "body is cut at Content-Length")

	seq, method, err := CSeq(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(314159), seq)
	assert.Equal(t, MethodInvite, method)
}

func TestParser_CompactHeaders(t *testing.T) {
	raw := "OPTIONS sip:carol@chicago.com SIP/2.0\r\n" +
		"v: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bKa\r\n" +
		"t: <sip:carol@chicago.com>\r\n" +
		"f: Alice <sip:alice@atlanta.com>;tag=1\r\n" +
		"i: abc\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"l: 0\r\n" +
		"\r\n"

	msg, err := NewParser(true).Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "abc", msg.GetHeader("Call-ID"))
	assert.Equal(t, "<sip:carol@chicago.com>", msg.GetHeader("To"))
	assert.Equal(t, "z9hG4bKa", Branch(msg))
	// compact names are kept on the wire
	assert.Equal(t, "v", msg.HeaderSet().Fields()[0].Name)
}

func TestParser_ValidResponse(t *testing.T) {
	raw := "SIP/2.0 180 Ringing\r\n" +
		"Via: SIP/2.0/UDP server10.biloxi.com;branch=z9hG4bK4b43c2ff8.1\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
		"To: Bob <sip:bob@biloxi.com>;tag=a6c85cf\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := NewParser(true).Parse([]byte(raw))
	require.NoError(t, err)

	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.Equal(t, 180, resp.StatusCode)
	assert.Equal(t, "Ringing", resp.ReasonPhrase)
	assert.True(t, resp.IsProvisional())
	assert.Len(t, resp.GetHeaders("Via"), 2)
	assert.Equal(t, "z9hG4bK4b43c2ff8.1", Branch(resp))
	assert.Equal(t, "a6c85cf", ToTag(resp))
	assert.Equal(t, MethodInvite, Method(resp))
}

func TestParser_DefaultReasonPhrase(t *testing.T) {
	raw := "SIP/2.0 486\r\nCall-ID: x\r\n\r\n"
	msg, err := NewParser(false).Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Busy Here", msg.(*Response).ReasonPhrase)
}

func TestParser_HeaderFolding(t *testing.T) {
	raw := "MESSAGE sip:a@b SIP/2.0\r\n" +
		"Subject: first\r\n" +
		" second\r\n" +
		"\tthird\r\n" +
		"Call-ID: x\r\n" +
		"\r\n"

	msg, err := NewParser(false).Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "first second third", msg.GetHeader("Subject"))
	assert.Equal(t, "x", msg.GetHeader("Call-ID"))
}

func TestParser_Errors(t *testing.T) {
	requestLine := "INVITE sip:bob@biloxi.com SIP/2.0\r\n"

	tests := []struct {
		name   string
		strict bool
		msg    string
		err    error
		offset int
	}{
		{"empty", false, "", ErrInvalidMessage, 0},
		{"keep-alive only", false, "\r\n\r\n", ErrInvalidMessage, 0},
		{"no header terminator", false, requestLine + "Call-ID: x\r\n", ErrInvalidMessage, len(requestLine) + 12},
		{"bad request line", false, "INVITE sip:bob@biloxi.com\r\n\r\n", ErrInvalidRequestLine, 0},
		{"bad version", false, "INVITE sip:bob@biloxi.com SIP/3.0\r\n\r\n", ErrInvalidSIPVersion, 0},
		{"bad uri", false, "INVITE bob SIP/2.0\r\n\r\n", ErrInvalidURI, 0},
		{"bad status code", false, "SIP/2.0 99 Low\r\n\r\n", ErrInvalidStatusCode, 0},
		{"bad status line", false, "SIP/2.0\r\n\r\n", ErrInvalidStatusLine, 0},
		{"unknown method strict", true, "FOO sip:a@b SIP/2.0\r\n\r\n", ErrInvalidMethod, 0},
		{"header without colon strict", true, requestLine + "Via: SIP/2.0/UDP h\r\nBroken\r\n\r\n", ErrInvalidHeader, len(requestLine) + 20},
		{"missing headers strict", true, requestLine + "Call-ID: x\r\n\r\n", ErrMissingHeader, -1},
		{"truncated body", false, requestLine + "Content-Length: 10\r\n\r\nabc", ErrBodyTruncated, len(requestLine) + 22},
		{"bad content length", false, requestLine + "Content-Length: ten\r\n\r\n", ErrInvalidHeader, len(requestLine)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(tt.strict).Parse([]byte(tt.msg))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.offset, perr.Offset)
		})
	}
}

func TestParser_NonStrictSkipsMalformedHeaders(t *testing.T) {
	raw := "OPTIONS sip:a@b SIP/2.0\r\nBroken\r\nCall-ID: x\r\n\r\n"

	msg, err := NewParser(false).Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, msg.HeaderSet().Len())
}

func TestParser_Limits(t *testing.T) {
	parser := NewParser(false)

	_, err := parser.Parse(make([]byte, maxMessageSize+1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	long := "OPTIONS sip:a@b SIP/2.0\r\nX-Long: " + strings.Repeat("a", maxHeaderSize) + "\r\n\r\n"
	_, err = parser.Parse([]byte(long))
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	var sb strings.Builder
	sb.WriteString("OPTIONS sip:a@b SIP/2.0\r\n")
	for i := 0; i <= maxHeaders; i++ {
		sb.WriteString("X-H: v\r\n")
	}
	sb.WriteString("\r\n")
	_, err = parser.Parse([]byte(sb.String()))
	assert.ErrorIs(t, err, ErrTooManyHeaders)
}

func TestParser_RoundTrip(t *testing.T) {
	parser := NewParser(false)

	req, err := BuildRequest(MethodInvite, "Bob <sip:bob@biloxi.com>", "sip:alice@atlanta.com",
		WithRoute("sip:proxy.atlanta.com;lr"),
		WithSubject("lunch"),
		WithBody("application/sdp", []byte("v=0\r\n")),
		WithHeader("Route", "<sip:second.atlanta.com;lr>"),
	)
	require.NoError(t, err)
	// interleave a second Via after other headers
	req.AddHeader("Via", "SIP/2.0/TCP relay.example.com;branch=z9hG4bKrelay")

	resp := BuildResponse(req, 200, "")
	resp.SetHeader("To", WithTag(resp.GetHeader("To"), "T1"))

	for _, m := range []Message{req, resp} {
		data, err := parser.Serialize(m)
		require.NoError(t, err)

		back, err := parser.Parse(data)
		require.NoError(t, err)

		assert.Empty(t, cmp.Diff(m.HeaderSet().Fields(), back.HeaderSet().Fields()))
		assert.Equal(t, m.Body(), back.Body())
		assert.Equal(t, m.StartLine(), back.StartLine())
	}
}

func TestParser_SerializeErrors(t *testing.T) {
	parser := NewParser(false)
	uri := MustParseURI("sip:a@b")

	tests := []struct {
		name   string
		msg    Message
		header string
		err    error
	}{
		{"missing uri", &Request{Method: "OPTIONS"}, "", ErrMissingRequestURI},
		{"bad method", &Request{Method: "OP TIONS", RequestURI: uri}, "", ErrInvalidMethod},
		{"bad status", &Response{StatusCode: 42}, "", ErrInvalidStatusCode},
		{
			"empty header name",
			&Request{Method: "OPTIONS", RequestURI: uri, Headers: &Headers{fields: []Header{{Name: "", Value: "x"}}}},
			"", ErrInvalidHeaderName,
		},
		{
			"crlf in value",
			&Request{Method: "OPTIONS", RequestURI: uri, Headers: &Headers{fields: []Header{{Name: "Subject", Value: "a\r\nb"}}}},
			"Subject", ErrInvalidHeaderValue,
		},
		{
			"padded value",
			&Request{Method: "OPTIONS", RequestURI: uri, Headers: &Headers{fields: []Header{{Name: "X-Pad", Value: "  padded  "}}}},
			"X-Pad", ErrInvalidHeaderValue,
		},
		{"empty reason", &Response{StatusCode: 200}, "", ErrInvalidHeaderValue},
		{"padded reason", &Response{StatusCode: 200, ReasonPhrase: " OK"}, "", ErrInvalidHeaderValue},
		{
			"content length mismatch",
			&Request{Method: "OPTIONS", RequestURI: uri, Headers: &Headers{fields: []Header{{Name: "Content-Length", Value: "3"}}}},
			"Content-Length", ErrInvalidHeaderValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Serialize(tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var ferr *FormatError
			require.True(t, errors.As(err, &ferr))
			assert.Equal(t, tt.header, ferr.Header)
		})
	}
}

func TestParser_SerializedMessagesParseBack(t *testing.T) {
	parser := NewParser(false)
	values := []string{"plain", "", "a  b", "a\tb", " lead", "trail ", "\tboth\t", "x;y=\"z \""}
	reasons := []string{"OK", "", "Fine  Thanks", " OK", "OK "}

	for _, v := range values {
		for _, r := range reasons {
			resp := &Response{StatusCode: 200, ReasonPhrase: r}
			resp.AddHeader("X-Value", v)
			resp.SetBody(nil)

			data, err := parser.Serialize(resp)
			if err != nil {
				var ferr *FormatError
				assert.True(t, errors.As(err, &ferr), "value %q reason %q", v, r)
				continue
			}
			back, err := parser.Parse(data)
			require.NoError(t, err, "value %q reason %q", v, r)
			got := back.(*Response)
			assert.Equal(t, r, got.ReasonPhrase)
			assert.Equal(t, v, got.GetHeader("X-Value"), "reason %q", r)
		}
	}
}

func TestFrameLength(t *testing.T) {
	msg := "OPTIONS sip:a@b SIP/2.0\r\nContent-Length: 4\r\n\r\nbody"
	stream := []byte("\r\n" + msg + "NEXT")

	n, ok, err := FrameLength(stream[:10])
	require.NoError(t, err)
	assert.False(t, ok)

	n, ok, err = FrameLength(stream[:len(stream)-6])
	require.NoError(t, err)
	assert.False(t, ok, "body incomplete")

	n, ok, err = FrameLength(stream)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(msg)+2, n)

	_, _, err = FrameLength([]byte("OPTIONS sip:a@b SIP/2.0\r\nl: -1\r\n\r\n"))
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestRequest_String(t *testing.T) {
	req := &Request{Method: MethodOptions, RequestURI: MustParseURI("sip:a@b")}
	req.AddHeader("Call-ID", "x")
	req.SetBody([]byte("hi"))

	assert.Equal(t, "OPTIONS sip:a@b SIP/2.0\r\nCall-ID: x\r\nContent-Length: 2\r\n\r\nhi", req.String())
}

func TestResponse_Clone(t *testing.T) {
	resp := &Response{StatusCode: 200, ReasonPhrase: "OK"}
	resp.SetHeader("To", "<sip:a@b>")
	clone := resp.CloneResponse()
	clone.SetHeader("To", "<sip:c@d>")

	assert.Equal(t, "<sip:a@b>", resp.GetHeader("To"))
	assert.Equal(t, "SIP/2.0 200 OK\r\nTo: <sip:a@b>\r\n\r\n", resp.String())
}
