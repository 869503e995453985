package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const (
	// Maximum sizes for security
	maxMessageSize = 65536 // 64KB
	maxHeaderSize  = 8192  // 8KB
	maxHeaders     = 100   // Maximum number of headers
)

// Parser parses SIP messages and writes them back to the wire.
type Parser struct {
	strict bool       // RFC compliance mode
	pool   *sync.Pool // serialization buffers
}

// NewParser creates a new parser
func NewParser(strict bool) *Parser {
	return &Parser{
		strict: strict,
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Strict reports whether mandatory headers are validated.
func (p *Parser) Strict() bool {
	return p.strict
}

// line is one header-section line and its byte offset in the input.
type line struct {
	text   []byte
	offset int
}

// Parse parses a SIP message from bytes. Errors are *ParseError.
func (p *Parser) Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, parseErr(0, ErrInvalidMessage)
	}
	if len(data) > maxMessageSize {
		return nil, parseErr(maxMessageSize, ErrMessageTooLarge)
	}

	// leading CRLFs are keep-alives
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if start == len(data) {
		return nil, parseErr(0, ErrInvalidMessage)
	}

	headerEnd, sepLen := headerBoundary(data[start:])
	if headerEnd < 0 {
		return nil, parseErr(len(data), fmt.Errorf("%w: no empty line after headers", ErrInvalidMessage))
	}
	headerEnd += start
	bodyStart := headerEnd + sepLen

	lines := splitLines(data[start:headerEnd], start)
	first := lines[0]

	headers, err := p.parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}

	body, err := p.parseBody(data, bodyStart, headers, lines[1:])
	if err != nil {
		return nil, err
	}

	firstLine := strings.TrimSpace(string(first.text))
	if strings.HasPrefix(strings.ToUpper(firstLine), "SIP/") {
		return p.parseResponse(firstLine, first.offset, headers, body)
	}
	return p.parseRequest(firstLine, first.offset, headers, body)
}

func headerBoundary(data []byte) (end, sepLen int) {
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	lf := bytes.Index(data, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	}
	return -1, 0
}

func splitLines(data []byte, base int) []line {
	var lines []line
	off := 0
	for off <= len(data) {
		nl := bytes.IndexByte(data[off:], '\n')
		end := len(data)
		if nl >= 0 {
			end = off + nl
		}
		text := bytes.TrimSuffix(data[off:end], []byte("\r"))
		lines = append(lines, line{text: text, offset: base + off})
		if nl < 0 {
			break
		}
		off = end + 1
	}
	return lines
}

// parseRequest parses a SIP request
func (p *Parser) parseRequest(firstLine string, offset int, headers *Headers, body []byte) (*Request, error) {
	// METHOD REQUEST-URI SIP-VERSION
	parts := strings.Fields(firstLine)
	if len(parts) != 3 {
		return nil, parseErr(offset, ErrInvalidRequestLine)
	}

	method := parts[0]
	if !isToken(method) {
		return nil, parseErr(offset, fmt.Errorf("%w: %q", ErrInvalidMethod, method))
	}
	method = strings.ToUpper(method)
	if p.strict && !knownMethod(method) {
		return nil, parseErr(offset, fmt.Errorf("%w: %q", ErrInvalidMethod, method))
	}

	requestURI, err := ParseURI(parts[1])
	if err != nil {
		return nil, parseErr(offset, fmt.Errorf("%w: %w", ErrInvalidRequestLine, err))
	}

	if !strings.EqualFold(parts[2], SIPVersion) {
		return nil, parseErr(offset, ErrInvalidSIPVersion)
	}

	req := &Request{
		Method:     method,
		RequestURI: requestURI,
		Headers:    headers,
		body:       body,
	}

	if p.strict {
		if err := validateRequestHeaders(req); err != nil {
			return nil, parseErr(-1, err)
		}
	}

	return req, nil
}

// parseResponse parses a SIP response
func (p *Parser) parseResponse(firstLine string, offset int, headers *Headers, body []byte) (*Response, error) {
	// SIP-VERSION STATUS-CODE REASON-PHRASE
	parts := strings.SplitN(firstLine, " ", 3)
	if len(parts) < 2 {
		return nil, parseErr(offset, ErrInvalidStatusLine)
	}

	if !strings.EqualFold(parts[0], SIPVersion) {
		return nil, parseErr(offset, ErrInvalidSIPVersion)
	}

	statusCode, err := strconv.Atoi(parts[1])
	if err != nil || statusCode < 100 || statusCode > 699 {
		return nil, parseErr(offset, fmt.Errorf("%w: %q", ErrInvalidStatusCode, parts[1]))
	}

	reasonPhrase := ""
	if len(parts) > 2 {
		reasonPhrase = strings.TrimSpace(parts[2])
	}
	if reasonPhrase == "" {
		reasonPhrase = ReasonPhrase(statusCode)
	}

	resp := &Response{
		StatusCode:   statusCode,
		ReasonPhrase: reasonPhrase,
		Headers:      headers,
		body:         body,
	}

	if p.strict {
		if err := validateCommonHeaders(resp); err != nil {
			return nil, parseErr(-1, err)
		}
	}

	return resp, nil
}

// parseHeaders parses SIP headers
func (p *Parser) parseHeaders(lines []line) (*Headers, error) {
	headers := NewHeaders()

	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		if len(ln.text) == 0 {
			continue
		}
		text := ln.text

		// line folding
		if i+1 < len(lines) && isFolded(lines[i+1].text) {
			text = bytes.Clone(text)
			for i+1 < len(lines) && isFolded(lines[i+1].text) {
				i++
				text = append(text, ' ')
				text = append(text, bytes.TrimSpace(lines[i].text)...)
			}
		}

		if len(text) > maxHeaderSize {
			return nil, parseErr(ln.offset, ErrHeaderTooLarge)
		}

		colon := bytes.IndexByte(text, ':')
		if colon <= 0 {
			if p.strict {
				return nil, parseErr(ln.offset, fmt.Errorf("%w: %q", ErrInvalidHeader, text))
			}
			continue // Skip malformed header in non-strict mode
		}

		name := string(bytes.TrimSpace(text[:colon]))
		value := string(bytes.TrimSpace(text[colon+1:]))
		if !isToken(name) {
			if p.strict {
				return nil, parseErr(ln.offset, fmt.Errorf("%w: name %q", ErrInvalidHeader, name))
			}
			continue
		}

		if headers.Len() == maxHeaders {
			return nil, parseErr(ln.offset, ErrTooManyHeaders)
		}
		headers.Add(name, value)
	}

	return headers, nil
}

func isFolded(b []byte) bool {
	return len(b) > 0 && (b[0] == ' ' || b[0] == '\t')
}

func (p *Parser) parseBody(data []byte, bodyStart int, headers *Headers, lines []line) ([]byte, error) {
	body := data[bodyStart:]

	if !headers.Has("Content-Length") {
		if len(body) == 0 {
			return nil, nil
		}
		return bytes.Clone(body), nil
	}

	raw := headers.Get("Content-Length")
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return nil, parseErr(headerOffset(lines, "Content-Length"), fmt.Errorf("%w: Content-Length %q", ErrInvalidHeader, raw))
	}
	if n > len(body) {
		return nil, parseErr(bodyStart, fmt.Errorf("%w: want %d bytes, have %d", ErrBodyTruncated, n, len(body)))
	}
	if n == 0 {
		return nil, nil
	}
	return bytes.Clone(body[:n]), nil
}

func headerOffset(lines []line, name string) int {
	for _, ln := range lines {
		colon := bytes.IndexByte(ln.text, ':')
		if colon > 0 && SameName(string(bytes.TrimSpace(ln.text[:colon])), name) {
			return ln.offset
		}
	}
	return -1
}

func validateCommonHeaders(m Message) error {
	for _, header := range []string{"To", "From", "Call-ID", "CSeq", "Via"} {
		if m.GetHeader(header) == "" {
			return fmt.Errorf("%w: %s", ErrMissingHeader, header)
		}
	}
	if _, _, err := CSeq(m); err != nil {
		return err
	}
	return nil
}

// validateRequestHeaders validates mandatory request headers
func validateRequestHeaders(req *Request) error {
	if err := validateCommonHeaders(req); err != nil {
		return err
	}

	switch req.Method {
	case MethodInvite, MethodSubscribe, MethodRefer:
		if req.GetHeader("Contact") == "" {
			return fmt.Errorf("%w: Contact required for %s", ErrMissingHeader, req.Method)
		}
	}

	_, method, _ := CSeq(req)
	if method != req.Method {
		return fmt.Errorf("%w: CSeq method %s != %s", ErrInvalidHeader, method, req.Method)
	}

	return nil
}

func knownMethod(method string) bool {
	switch method {
	case MethodInvite, MethodAck, MethodBye, MethodCancel, MethodOptions, MethodRegister,
		MethodPrack, MethodSubscribe, MethodNotify, MethodPublish, MethodInfo, MethodRefer,
		MethodMessage, MethodUpdate:
		return true
	}
	return false
}

// isToken reports whether s is a non-empty RFC 3261 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || strings.IndexByte("-.!%*_+`'~", c) >= 0 {
			continue
		}
		return false
	}
	return true
}

// Serialize writes m in wire format. Errors are *FormatError.
func (p *Parser) Serialize(m Message) ([]byte, error) {
	if err := checkMessage(m); err != nil {
		return nil, err
	}

	buf := p.pool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		p.pool.Put(buf)
	}()

	writeMessage(buf, m.StartLine(), m)
	return bytes.Clone(buf.Bytes()), nil
}

func checkMessage(m Message) error {
	switch msg := m.(type) {
	case *Request:
		if !isToken(msg.Method) {
			return &FormatError{Err: fmt.Errorf("%w: %q", ErrInvalidMethod, msg.Method)}
		}
		if msg.RequestURI == nil {
			return &FormatError{Err: ErrMissingRequestURI}
		}
	case *Response:
		if msg.StatusCode < 100 || msg.StatusCode > 699 {
			return &FormatError{Err: fmt.Errorf("%w: %d", ErrInvalidStatusCode, msg.StatusCode)}
		}
		if msg.ReasonPhrase == "" || strings.ContainsAny(msg.ReasonPhrase, "\r\n") ||
			strings.TrimSpace(msg.ReasonPhrase) != msg.ReasonPhrase {
			return &FormatError{Err: fmt.Errorf("%w: reason phrase %q", ErrInvalidHeaderValue, msg.ReasonPhrase)}
		}
	default:
		return &FormatError{Err: ErrInvalidMessage}
	}

	for _, f := range m.HeaderSet().fields {
		if !isToken(f.Name) {
			return &FormatError{Header: f.Name, Err: ErrInvalidHeaderName}
		}
		if strings.ContainsAny(f.Value, "\r\n") {
			return &FormatError{Header: f.Name, Err: ErrInvalidHeaderValue}
		}
		// the parser trims values, so padding would not survive
		if strings.TrimSpace(f.Value) != f.Value {
			return &FormatError{Header: f.Name, Err: fmt.Errorf("%w: surrounding whitespace", ErrInvalidHeaderValue)}
		}
	}

	body := m.Body()
	h := m.HeaderSet()
	if !h.Has("Content-Length") {
		if len(body) > 0 {
			return &FormatError{Header: "Content-Length", Err: ErrMissingHeader}
		}
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(h.Get("Content-Length"))); err != nil || n != len(body) {
		return &FormatError{
			Header: "Content-Length",
			Err:    fmt.Errorf("%w: does not match body length %d", ErrInvalidHeaderValue, len(body)),
		}
	}
	return nil
}

// FrameLength inspects the start of a stream and returns the length of the
// first complete message in it. ok is false while more data is needed.
// Leading CRLF keep-alives are counted in n.
func FrameLength(buf []byte) (n int, ok bool, err error) {
	start := 0
	for start < len(buf) && (buf[start] == '\r' || buf[start] == '\n') {
		start++
	}
	headerEnd, sepLen := headerBoundary(buf[start:])
	if headerEnd < 0 {
		if len(buf)-start > maxMessageSize {
			return 0, false, parseErr(-1, ErrMessageTooLarge)
		}
		return 0, false, nil
	}
	bodyStart := start + headerEnd + sepLen

	length := 0
	for _, ln := range splitLines(buf[start:start+headerEnd], start) {
		name, value, found := bytes.Cut(ln.text, []byte(":"))
		if !found || !SameName(string(bytes.TrimSpace(name)), "Content-Length") {
			continue
		}
		length, err = strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || length < 0 {
			return 0, false, parseErr(ln.offset, fmt.Errorf("%w: Content-Length %q", ErrInvalidHeader, value))
		}
		break
	}

	total := bodyStart + length
	if total-start > maxMessageSize {
		return 0, false, parseErr(-1, ErrMessageTooLarge)
	}
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}
