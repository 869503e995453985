package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Via is a single Via header element.
type Via struct {
	Transport string // UDP, TCP, ...
	Host      string
	Port      int
	Params    Params
}

// ParseVia parses one Via element, e.g.
// "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK776".
func ParseVia(value string) (*Via, error) {
	value = strings.TrimSpace(value)
	proto, rest, ok := strings.Cut(value, " ")
	if !ok {
		return nil, fmt.Errorf("%w: Via %q", ErrInvalidHeader, value)
	}
	parts := strings.Split(proto, "/")
	if len(parts) != 3 || !strings.EqualFold(parts[0]+"/"+parts[1], SIPVersion) {
		return nil, fmt.Errorf("%w: Via protocol %q", ErrInvalidHeader, proto)
	}

	via := &Via{Transport: strings.ToUpper(parts[2])}
	sentBy, params, _ := strings.Cut(strings.TrimSpace(rest), ";")
	via.Params = parseParams(params, ';')

	sentBy = strings.TrimSpace(sentBy)
	host, port := sentBy, ""
	if strings.HasPrefix(sentBy, "[") {
		if end := strings.IndexByte(sentBy, ']'); end >= 0 {
			host = sentBy[:end+1]
			port = strings.TrimPrefix(sentBy[end+1:], ":")
		}
	} else if colon := strings.LastIndexByte(sentBy, ':'); colon >= 0 {
		host, port = sentBy[:colon], sentBy[colon+1:]
	}
	if host == "" {
		return nil, fmt.Errorf("%w: Via without sent-by", ErrInvalidHeader)
	}
	via.Host = host
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("%w: Via port %q", ErrInvalidHeader, port)
		}
		via.Port = p
	}
	return via, nil
}

// Branch returns the branch parameter.
func (v *Via) Branch() string {
	b, _ := v.Params.Get("branch")
	return b
}

func (v *Via) String() string {
	var sb strings.Builder
	sb.WriteString(SIPVersion)
	sb.WriteByte('/')
	sb.WriteString(v.Transport)
	sb.WriteByte(' ')
	sb.WriteString(v.Host)
	if v.Port > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(v.Port))
	}
	v.Params.writeTo(&sb, ';')
	return sb.String()
}

// TopVia returns the first Via element of a message.
func TopVia(m Message) (*Via, error) {
	vias := m.HeaderSet().List("Via")
	if len(vias) == 0 {
		return nil, fmt.Errorf("%w: Via", ErrMissingHeader)
	}
	return ParseVia(vias[0])
}

// Branch returns the branch of the top Via, or "".
func Branch(m Message) string {
	via, err := TopVia(m)
	if err != nil {
		return ""
	}
	return via.Branch()
}

// CallID returns the Call-ID header value.
func CallID(m Message) string {
	return strings.TrimSpace(m.GetHeader("Call-ID"))
}

// FromTag returns the From tag.
func FromTag(m Message) string {
	return Tag(m.GetHeader("From"))
}

// ToTag returns the To tag.
func ToTag(m Message) string {
	return Tag(m.GetHeader("To"))
}

// CSeq returns the sequence number and method of the CSeq header.
func CSeq(m Message) (uint32, string, error) {
	return ParseCSeq(m.GetHeader("CSeq"))
}

// ParseCSeq parses a CSeq header value
func ParseCSeq(cseq string) (seq uint32, method string, err error) {
	parts := strings.Fields(cseq)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%w: CSeq %q", ErrInvalidHeader, cseq)
	}

	n, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: CSeq number %q", ErrInvalidHeader, parts[0])
	}

	return uint32(n), strings.ToUpper(parts[1]), nil
}

// FormatCSeq formats a CSeq header value.
func FormatCSeq(seq uint32, method string) string {
	return strconv.FormatUint(uint64(seq), 10) + " " + strings.ToUpper(method)
}

// Method returns the request method, or the CSeq method of a response.
func Method(m Message) string {
	if req, ok := m.(*Request); ok {
		return req.Method
	}
	_, method, _ := CSeq(m)
	return method
}
