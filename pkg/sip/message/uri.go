package message

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URI represents a SIP URI
type URI struct {
	Scheme   string // "sip", "sips", "tel"
	User     string // User part
	Password string // Password (deprecated)
	Host     string // Hostname or IP, IPv6 in brackets
	Port     int    // Port number (0 means default)
	Params   Params // URI parameters (;key=value)
	Headers  Params // URI headers (?key=value)
}

// ParseURI parses a SIP URI
func ParseURI(uriStr string) (*URI, error) {
	uriStr = strings.TrimSpace(uriStr)
	if uriStr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURI)
	}

	schemeEnd := strings.IndexByte(uriStr, ':')
	if schemeEnd < 0 {
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidURI, uriStr)
	}

	uri := &URI{Scheme: strings.ToLower(uriStr[:schemeEnd])}
	switch uri.Scheme {
	case "sip", "sips", "tel":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, uri.Scheme)
	}

	rest := uriStr[schemeEnd+1:]

	if uri.Scheme == "tel" {
		number, params, _ := strings.Cut(rest, ";")
		if number == "" {
			return nil, fmt.Errorf("%w: empty telephone number", ErrInvalidURI)
		}
		uri.User = number
		uri.Params = parseParams(params, ';')
		return uri, nil
	}

	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		userInfo := rest[:at]
		rest = rest[at+1:]

		user, password, _ := strings.Cut(userInfo, ":")
		var err error
		if uri.User, err = url.PathUnescape(user); err != nil {
			return nil, fmt.Errorf("%w: bad user part: %v", ErrInvalidURI, err)
		}
		if uri.Password, err = url.PathUnescape(password); err != nil {
			return nil, fmt.Errorf("%w: bad password: %v", ErrInvalidURI, err)
		}
	}

	if q := strings.IndexByte(rest, '?'); q >= 0 {
		for _, h := range parseParams(rest[q+1:], '&') {
			if v, err := url.QueryUnescape(h.Value); err == nil {
				h.Value = v
			}
			uri.Headers = append(uri.Headers, h)
		}
		rest = rest[:q]
	}

	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		uri.Params = parseParams(rest[semi+1:], ';')
		rest = rest[:semi]
	}

	if rest == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURI)
	}

	hostPart, portPart := rest, ""
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated IPv6 reference", ErrInvalidURI)
		}
		hostPart = rest[:end+1]
		if tail := rest[end+1:]; tail != "" {
			if tail[0] != ':' {
				return nil, fmt.Errorf("%w: garbage after IPv6 reference", ErrInvalidURI)
			}
			portPart = tail[1:]
		}
		if ip := net.ParseIP(hostPart[1:end]); ip == nil {
			return nil, fmt.Errorf("%w: bad IPv6 address %q", ErrInvalidURI, hostPart)
		}
	} else if colon := strings.LastIndexByte(rest, ':'); colon >= 0 {
		hostPart, portPart = rest[:colon], rest[colon+1:]
	}

	if hostPart == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidURI)
	}
	uri.Host = hostPart

	if portPart != "" {
		port, err := strconv.Atoi(portPart)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURI, portPart)
		}
		uri.Port = port
	}

	return uri, nil
}

// userUnreserved is the set of characters written as-is in the user part.
const userUnreserved = "-_.!~*'()&=+$,;?/"

func escapeUser(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || strings.IndexByte(userUnreserved, c) >= 0 {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", c)
	}
	return sb.String()
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// String returns the string representation of the URI
func (u *URI) String() string {
	var sb strings.Builder

	sb.WriteString(u.Scheme)
	sb.WriteByte(':')

	if u.Scheme == "tel" {
		sb.WriteString(u.User)
		u.Params.writeTo(&sb, ';')
		return sb.String()
	}

	if u.User != "" {
		sb.WriteString(escapeUser(u.User))
		if u.Password != "" {
			sb.WriteByte(':')
			sb.WriteString(escapeUser(u.Password))
		}
		sb.WriteByte('@')
	}

	sb.WriteString(u.Host)
	if u.Port > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(u.Port))
	}

	u.Params.writeTo(&sb, ';')

	for i, h := range u.Headers {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(h.Name)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(h.Value))
	}

	return sb.String()
}

// Clone creates a deep copy of the URI
func (u *URI) Clone() *URI {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Params = u.Params.Clone()
	clone.Headers = u.Headers.Clone()
	return &clone
}

// DefaultPort returns the default port for the URI scheme
func (u *URI) DefaultPort() int {
	switch u.Scheme {
	case "sip":
		return 5060
	case "sips":
		return 5061
	default:
		return 0
	}
}

// HostPort returns the host:port string, using default port if needed
func (u *URI) HostPort() string {
	port := u.Port
	if port == 0 {
		port = u.DefaultPort()
	}
	host := strings.TrimSuffix(strings.TrimPrefix(u.Host, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Transport returns the lower-case transport parameter, "udp" by default.
func (u *URI) Transport() string {
	if t, ok := u.Params.Get("transport"); ok && t != "" {
		return strings.ToLower(t)
	}
	if u.Scheme == "sips" {
		return "tls"
	}
	return "udp"
}

// MustParseURI parses a URI and panics on error (for tests)
func MustParseURI(uriStr string) *URI {
	uri, err := ParseURI(uriStr)
	if err != nil {
		panic(fmt.Sprintf("MustParseURI failed: %v", err))
	}
	return uri
}
