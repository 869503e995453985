package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a name-addr or addr-spec as used by From, To, Contact, Route
// and Record-Route.
type Address struct {
	Display string
	URI     *URI
	Params  Params
}

// ParseAddress parses `"Alice" <sip:alice@host>;tag=1` and the bare
// `sip:alice@host;tag=1` form. In the bare form parameters belong to the
// header, not to the URI.
func ParseAddress(s string) (*Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidHeader)
	}

	addr := &Address{}
	var rest string

	if lt := indexUnquoted(s, '<'); lt >= 0 {
		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			return nil, fmt.Errorf("%w: unterminated '<' in %q", ErrInvalidHeader, s)
		}
		addr.Display = unquote(strings.TrimSpace(s[:lt]))
		uri, err := ParseURI(s[lt+1 : lt+gt])
		if err != nil {
			return nil, err
		}
		addr.URI = uri
		rest = s[lt+gt+1:]
	} else {
		uriPart, params, hasParams := strings.Cut(s, ";")
		uri, err := ParseURI(uriPart)
		if err != nil {
			return nil, err
		}
		addr.URI = uri
		if hasParams {
			rest = ";" + params
		}
	}

	rest = strings.TrimSpace(rest)
	if rest != "" {
		if rest[0] != ';' {
			return nil, fmt.Errorf("%w: unexpected %q after address", ErrInvalidHeader, rest)
		}
		addr.Params = parseParams(rest[1:], ';')
	}
	return addr, nil
}

// String always writes the name-addr form.
func (a *Address) String() string {
	var sb strings.Builder
	if a.Display != "" {
		sb.WriteString(strconv.Quote(a.Display))
		sb.WriteByte(' ')
	}
	sb.WriteByte('<')
	if a.URI != nil {
		sb.WriteString(a.URI.String())
	}
	sb.WriteByte('>')
	a.Params.writeTo(&sb, ';')
	return sb.String()
}

// Clone returns a deep copy of the address.
func (a *Address) Clone() *Address {
	return &Address{Display: a.Display, URI: a.URI.Clone(), Params: a.Params.Clone()}
}

// Tag returns the tag parameter of a From/To header value, or "".
func Tag(headerValue string) string {
	addr, err := ParseAddress(headerValue)
	if err != nil {
		return ""
	}
	tag, _ := addr.Params.Get("tag")
	return tag
}

// WithTag returns the header value with its tag parameter set to tag. The
// rest of the text is kept as is.
func WithTag(headerValue, tag string) string {
	if old := Tag(headerValue); old != "" {
		return strings.Replace(headerValue, ";tag="+old, ";tag="+tag, 1)
	}
	return strings.TrimSpace(headerValue) + ";tag=" + tag
}

// AddressURI extracts the URI from a header value like "Name <uri>"
func AddressURI(headerValue string) (*URI, error) {
	addr, err := ParseAddress(headerValue)
	if err != nil {
		return nil, err
	}
	return addr.URI, nil
}

func indexUnquoted(s string, c byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			quoted = !quoted
		case s[i] == c && !quoted:
			return i
		}
	}
	return -1
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
