package message

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxForwards is the RFC 3261 Max-Forwards value.
const DefaultMaxForwards = 70

// RequestBuilder helps build SIP requests
type RequestBuilder struct {
	method      string
	uri         *URI
	headers     *Headers
	body        []byte
	maxForwards int
}

// NewRequest creates a new request builder
func NewRequest(method string, uri *URI) *RequestBuilder {
	return &RequestBuilder{
		method:      strings.ToUpper(method),
		uri:         uri,
		headers:     NewHeaders(),
		maxForwards: DefaultMaxForwards,
	}
}

// Via adds a Via header
func (b *RequestBuilder) Via(transport, host string, port int, branch string) *RequestBuilder {
	via := &Via{Transport: strings.ToUpper(transport), Host: host, Port: port}
	if branch != "" {
		via.Params = via.Params.Set("branch", branch)
	}
	if transport == "" {
		via.Transport = "UDP"
	}
	b.headers.Add("Via", via.String())
	return b
}

// From sets the From header
func (b *RequestBuilder) From(addr string, tag string) *RequestBuilder {
	if tag != "" {
		addr = WithTag(addr, tag)
	}
	b.headers.Set("From", addr)
	return b
}

// To sets the To header
func (b *RequestBuilder) To(addr string, tag string) *RequestBuilder {
	if tag != "" {
		addr = WithTag(addr, tag)
	}
	b.headers.Set("To", addr)
	return b
}

// CallID sets the Call-ID header
func (b *RequestBuilder) CallID(callID string) *RequestBuilder {
	b.headers.Set("Call-ID", callID)
	return b
}

// CSeq sets the CSeq header
func (b *RequestBuilder) CSeq(seq uint32, method string) *RequestBuilder {
	b.headers.Set("CSeq", FormatCSeq(seq, method))
	return b
}

// Contact sets the Contact header
func (b *RequestBuilder) Contact(uri *URI) *RequestBuilder {
	b.headers.Set("Contact", "<"+uri.String()+">")
	return b
}

// MaxForwards sets the Max-Forwards value
func (b *RequestBuilder) MaxForwards(value int) *RequestBuilder {
	b.maxForwards = value
	return b
}

// Header adds a custom header
func (b *RequestBuilder) Header(name, value string) *RequestBuilder {
	b.headers.Add(name, value)
	return b
}

// Body sets the message body
func (b *RequestBuilder) Body(contentType string, body []byte) *RequestBuilder {
	b.body = body
	if len(body) > 0 {
		b.headers.Set("Content-Type", contentType)
	} else {
		b.headers.Remove("Content-Type")
	}
	return b
}

// Route adds a Route header
func (b *RequestBuilder) Route(route string) *RequestBuilder {
	b.headers.Add("Route", route)
	return b
}

// Build creates the final Request
func (b *RequestBuilder) Build() (*Request, error) {
	if b.uri == nil {
		return nil, ErrMissingRequestURI
	}
	if b.headers.Get("Max-Forwards") == "" {
		b.headers.Set("Max-Forwards", strconv.Itoa(b.maxForwards))
	}

	req := &Request{
		Method:     b.method,
		RequestURI: b.uri,
		Headers:    b.headers,
	}
	req.SetBody(b.body)

	if err := validateRequestHeaders(req); err != nil {
		return nil, err
	}
	return req, nil
}

// RequestOptions are the optional parts of BuildRequest.
type RequestOptions struct {
	Route       string
	Subject     string
	Contact     string
	CallID      string
	CSeq        uint32
	Transport   string
	ViaHost     string
	ViaPort     int
	ContentType string
	Body        []byte
	Headers     []Header
}

// RequestOption configures BuildRequest.
type RequestOption func(*RequestOptions)

// WithRoute sets a proxy the request is sent through.
func WithRoute(route string) RequestOption {
	return func(o *RequestOptions) { o.Route = route }
}

// WithSubject sets the Subject header.
func WithSubject(subject string) RequestOption {
	return func(o *RequestOptions) { o.Subject = subject }
}

// WithContact sets the Contact header value.
func WithContact(contact string) RequestOption {
	return func(o *RequestOptions) { o.Contact = contact }
}

// WithCallID overrides the generated Call-ID.
func WithCallID(callID string) RequestOption {
	return func(o *RequestOptions) { o.CallID = callID }
}

// WithCSeq overrides the initial CSeq number.
func WithCSeq(seq uint32) RequestOption {
	return func(o *RequestOptions) { o.CSeq = seq }
}

// WithVia sets the transport and sent-by of the Via header.
func WithVia(transport, host string, port int) RequestOption {
	return func(o *RequestOptions) {
		o.Transport, o.ViaHost, o.ViaPort = transport, host, port
	}
}

// WithBody sets the body and its content type.
func WithBody(contentType string, body []byte) RequestOption {
	return func(o *RequestOptions) { o.ContentType, o.Body = contentType, body }
}

// WithHeader appends an extra header.
func WithHeader(name, value string) RequestOption {
	return func(o *RequestOptions) { o.Headers = append(o.Headers, Header{Name: name, Value: value}) }
}

// BuildRequest builds an out-of-dialog request from to/from addresses. It
// fills Via with a fresh branch, From with a fresh tag, Call-ID, CSeq,
// Max-Forwards and Content-Length.
func BuildRequest(method, to, from string, opts ...RequestOption) (*Request, error) {
	o := RequestOptions{CSeq: 1, Transport: "UDP"}
	for _, opt := range opts {
		opt(&o)
	}

	method = strings.ToUpper(method)
	if !isToken(method) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	toURI, err := AddressURI(to)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	fromURI, err := AddressURI(from)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}

	requestURI := toURI.Clone()
	if method == MethodRegister {
		// REGISTER targets the registrar domain
		requestURI = &URI{Scheme: toURI.Scheme, Host: toURI.Host, Port: toURI.Port}
	}

	viaHost := o.ViaHost
	if viaHost == "" {
		viaHost = fromURI.Host
	}
	callID := o.CallID
	if callID == "" {
		callID = GenerateCallID(viaHost)
	}

	b := NewRequest(method, requestURI).
		Via(o.Transport, viaHost, o.ViaPort, GenerateBranch()).
		From(normalizeAddress(from), GenerateTag()).
		To(normalizeAddress(to), "").
		CallID(callID).
		CSeq(o.CSeq, method)

	if o.Route != "" {
		b.Route(routeAddress(o.Route))
	}

	contact := o.Contact
	if contact == "" && needsContact(method) {
		contact = "<" + (&URI{Scheme: fromURI.Scheme, User: fromURI.User, Host: viaHost, Port: o.ViaPort}).String() + ">"
	}
	if contact != "" {
		b.headers.Set("Contact", normalizeAddress(contact))
	}
	if o.Subject != "" {
		b.Header("Subject", o.Subject)
	}
	for _, h := range o.Headers {
		b.Header(h.Name, h.Value)
	}
	if len(o.Body) > 0 {
		b.Body(o.ContentType, o.Body)
	}

	return b.Build()
}

func needsContact(method string) bool {
	switch method {
	case MethodInvite, MethodSubscribe, MethodRefer, MethodRegister:
		return true
	}
	return false
}

// normalizeAddress turns a bare URI into name-addr form. Values that do not
// parse are returned unchanged.
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsRune(s, '<') {
		return s
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return s
	}
	return addr.String()
}

// routeAddress wraps a bare route URI in angle brackets so that its
// parameters (lr) stay inside the URI.
func routeAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.ContainsRune(s, '<') {
		return s
	}
	return "<" + s + ">"
}

// ResponseBuilder helps build SIP responses
type ResponseBuilder struct {
	statusCode   int
	reasonPhrase string
	headers      *Headers
	body         []byte
}

// NewResponse creates a response builder from a request
func NewResponse(request *Request, statusCode int, reasonPhrase string) *ResponseBuilder {
	headers := NewHeaders()

	// Via headers keep their order
	for _, via := range request.GetHeaders("Via") {
		headers.Add("Via", via)
	}
	headers.Set("From", request.GetHeader("From"))
	headers.Set("To", request.GetHeader("To"))
	headers.Set("Call-ID", request.GetHeader("Call-ID"))
	headers.Set("CSeq", request.GetHeader("CSeq"))

	if IsDialogCreating(request.Method) && statusCode > 100 && statusCode < 300 {
		for _, rr := range request.GetHeaders("Record-Route") {
			headers.Add("Record-Route", rr)
		}
	}

	return &ResponseBuilder{
		statusCode:   statusCode,
		reasonPhrase: reasonPhrase,
		headers:      headers,
	}
}

// Contact sets the Contact header
func (b *ResponseBuilder) Contact(uri *URI) *ResponseBuilder {
	b.headers.Set("Contact", "<"+uri.String()+">")
	return b
}

// Header adds a custom header
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers.Add(name, value)
	return b
}

// Body sets the response body
func (b *ResponseBuilder) Body(contentType string, body []byte) *ResponseBuilder {
	b.body = body
	if len(body) > 0 {
		b.headers.Set("Content-Type", contentType)
	} else {
		b.headers.Remove("Content-Type")
	}
	return b
}

// ToTag adds a tag to the To header unless it already carries one
func (b *ResponseBuilder) ToTag(tag string) *ResponseBuilder {
	to := b.headers.Get("To")
	if to != "" && tag != "" && Tag(to) == "" {
		b.headers.Set("To", WithTag(to, tag))
	}
	return b
}

// Build creates the final Response
func (b *ResponseBuilder) Build() *Response {
	if b.reasonPhrase == "" {
		b.reasonPhrase = ReasonPhrase(b.statusCode)
	}

	resp := &Response{
		StatusCode:   b.statusCode,
		ReasonPhrase: b.reasonPhrase,
		Headers:      b.headers,
	}
	resp.SetBody(b.body)
	return resp
}

// BuildResponse builds a response to req with the mandatory headers copied.
// An empty reason selects the default phrase.
func BuildResponse(req *Request, status int, reason string) *Response {
	return NewResponse(req, status, reason).Build()
}
