package message

import (
	"bytes"
	"strconv"
	"strings"
)

// SIPVersion is the only protocol version spoken.
const SIPVersion = "SIP/2.0"

// Request methods
const (
	MethodInvite    = "INVITE"
	MethodAck       = "ACK"
	MethodBye       = "BYE"
	MethodCancel    = "CANCEL"
	MethodOptions   = "OPTIONS"
	MethodRegister  = "REGISTER"
	MethodInfo      = "INFO"
	MethodUpdate    = "UPDATE"
	MethodMessage   = "MESSAGE"
	MethodSubscribe = "SUBSCRIBE"
	MethodNotify    = "NOTIFY"
	MethodRefer     = "REFER"
	MethodPrack     = "PRACK"
	MethodPublish   = "PUBLISH"
)

// Message is the common interface for SIP requests and responses
type Message interface {
	// IsRequest returns true if this is a request
	IsRequest() bool

	// IsResponse returns true if this is a response
	IsResponse() bool

	// StartLine returns the request or status line without CRLF
	StartLine() string

	// HeaderSet returns the ordered header list
	HeaderSet() *Headers

	// GetHeader returns the first value of a header
	GetHeader(name string) string

	// GetHeaders returns all values of a header
	GetHeaders(name string) []string

	// SetHeader sets a header value (replaces existing)
	SetHeader(name string, value string)

	// AddHeader adds a header value (appends to existing)
	AddHeader(name string, value string)

	// RemoveHeader removes all values of a header
	RemoveHeader(name string)

	// Body returns the message body
	Body() []byte

	// SetBody sets the message body and keeps Content-Length in sync
	SetBody(body []byte)

	// Clone returns a deep copy
	Clone() Message

	// String returns the wire representation
	String() string
}

// Request represents a SIP request
type Request struct {
	Method     string
	RequestURI *URI
	Headers    *Headers
	body       []byte
}

// Response represents a SIP response
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      *Headers
	body         []byte
}

// headerBody is the part of Message needed to write it out.
type headerBody interface {
	HeaderSet() *Headers
	Body() []byte
}

func writeMessage(buf *bytes.Buffer, startLine string, m headerBody) {
	buf.WriteString(startLine)
	buf.WriteString("\r\n")
	if h := m.HeaderSet(); h != nil {
		for _, f := range h.fields {
			buf.WriteString(f.Name)
			buf.WriteString(": ")
			buf.WriteString(f.Value)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body())
}

func setBody(h *Headers, body []byte) []byte {
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if len(body) == 0 {
		return nil
	}
	return body
}

// Request methods

// IsRequest returns true
func (r *Request) IsRequest() bool { return true }

// IsResponse returns false
func (r *Request) IsResponse() bool { return false }

// StartLine returns "METHOD uri SIP/2.0".
func (r *Request) StartLine() string {
	uri := ""
	if r.RequestURI != nil {
		uri = r.RequestURI.String()
	}
	return r.Method + " " + uri + " " + SIPVersion
}

// HeaderSet returns the header list, creating it on first use
func (r *Request) HeaderSet() *Headers {
	if r.Headers == nil {
		r.Headers = NewHeaders()
	}
	return r.Headers
}

// GetHeader returns the first value of a header
func (r *Request) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// GetHeaders returns all values of a header
func (r *Request) GetHeaders(name string) []string {
	if r.Headers == nil {
		return nil
	}
	return r.Headers.GetAll(name)
}

// SetHeader sets a header value
func (r *Request) SetHeader(name, value string) {
	r.HeaderSet().Set(name, value)
}

// AddHeader adds a header value
func (r *Request) AddHeader(name, value string) {
	r.HeaderSet().Add(name, value)
}

// RemoveHeader removes a header
func (r *Request) RemoveHeader(name string) {
	if r.Headers != nil {
		r.Headers.Remove(name)
	}
}

// Body returns the message body
func (r *Request) Body() []byte {
	return r.body
}

// SetBody sets the message body
func (r *Request) SetBody(body []byte) {
	r.body = setBody(r.HeaderSet(), body)
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() Message {
	return r.CloneRequest()
}

// CloneRequest is Clone with the concrete type.
func (r *Request) CloneRequest() *Request {
	clone := &Request{
		Method:     r.Method,
		RequestURI: r.RequestURI.Clone(),
		body:       bytes.Clone(r.body),
	}
	if r.Headers != nil {
		clone.Headers = r.Headers.Clone()
	}
	return clone
}

// String returns the string representation
func (r *Request) String() string {
	var buf bytes.Buffer
	writeMessage(&buf, r.StartLine(), r)
	return buf.String()
}

// Response methods

// IsRequest returns false
func (r *Response) IsRequest() bool { return false }

// IsResponse returns true
func (r *Response) IsResponse() bool { return true }

// StartLine returns "SIP/2.0 code reason".
func (r *Response) StartLine() string {
	return SIPVersion + " " + strconv.Itoa(r.StatusCode) + " " + r.ReasonPhrase
}

// HeaderSet returns the header list, creating it on first use
func (r *Response) HeaderSet() *Headers {
	if r.Headers == nil {
		r.Headers = NewHeaders()
	}
	return r.Headers
}

// GetHeader returns the first value of a header
func (r *Response) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// GetHeaders returns all values of a header
func (r *Response) GetHeaders(name string) []string {
	if r.Headers == nil {
		return nil
	}
	return r.Headers.GetAll(name)
}

// SetHeader sets a header value
func (r *Response) SetHeader(name, value string) {
	r.HeaderSet().Set(name, value)
}

// AddHeader adds a header value
func (r *Response) AddHeader(name, value string) {
	r.HeaderSet().Add(name, value)
}

// RemoveHeader removes a header
func (r *Response) RemoveHeader(name string) {
	if r.Headers != nil {
		r.Headers.Remove(name)
	}
}

// Body returns the message body
func (r *Response) Body() []byte {
	return r.body
}

// SetBody sets the message body
func (r *Response) SetBody(body []byte) {
	r.body = setBody(r.HeaderSet(), body)
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() Message {
	return r.CloneResponse()
}

// CloneResponse is Clone with the concrete type.
func (r *Response) CloneResponse() *Response {
	clone := &Response{
		StatusCode:   r.StatusCode,
		ReasonPhrase: r.ReasonPhrase,
		body:         bytes.Clone(r.body),
	}
	if r.Headers != nil {
		clone.Headers = r.Headers.Clone()
	}
	return clone
}

// String returns the string representation
func (r *Response) String() string {
	var buf bytes.Buffer
	writeMessage(&buf, r.StartLine(), r)
	return buf.String()
}

// IsProvisional reports a 1xx response.
func (r *Response) IsProvisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }

// IsSuccess reports a 2xx response.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsFinal reports a final (>= 200) response.
func (r *Response) IsFinal() bool { return r.StatusCode >= 200 }

// Class returns the hundreds digit of the status code.
func (r *Response) Class() int { return r.StatusCode / 100 }

// IsDialogCreating reports whether a request of this method establishes a
// dialog.
func IsDialogCreating(method string) bool {
	switch strings.ToUpper(method) {
	case MethodInvite, MethodSubscribe, MethodRefer:
		return true
	}
	return false
}

// IsTargetRefresh reports whether an in-dialog request of this method
// updates the remote target.
func IsTargetRefresh(method string) bool {
	switch strings.ToUpper(method) {
	case MethodInvite, MethodUpdate, MethodSubscribe, MethodNotify, MethodRefer:
		return true
	}
	return false
}
