package message

import "strings"

// Header is a single header field as it appears on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of header fields with case-insensitive name
// lookup. Repeated names are allowed and keep their relative order, also
// when interleaved with other headers.
type Headers struct {
	fields []Header
}

// NewHeaders creates a new Headers instance
func NewHeaders() *Headers {
	return &Headers{fields: make([]Header, 0, 12)}
}

// normalizeHeaderName normalizes header name for case-insensitive comparison
func normalizeHeaderName(name string) string {
	// Common compact forms
	switch strings.ToLower(name) {
	case "i":
		return "call-id"
	case "m":
		return "contact"
	case "f":
		return "from"
	case "t":
		return "to"
	case "v":
		return "via"
	case "c":
		return "content-type"
	case "l":
		return "content-length"
	case "k":
		return "supported"
	case "s":
		return "subject"
	case "e":
		return "content-encoding"
	case "o":
		return "event"
	default:
		return strings.ToLower(name)
	}
}

// SameName reports whether two header names denote the same header.
func SameName(a, b string) bool {
	return normalizeHeaderName(a) == normalizeHeaderName(b)
}

// Get returns the first value of a header
func (h *Headers) Get(name string) string {
	n := normalizeHeaderName(name)
	for _, f := range h.fields {
		if normalizeHeaderName(f.Name) == n {
			return f.Value
		}
	}
	return ""
}

// Has reports whether at least one field with the name is present.
func (h *Headers) Has(name string) bool {
	n := normalizeHeaderName(name)
	for _, f := range h.fields {
		if normalizeHeaderName(f.Name) == n {
			return true
		}
	}
	return false
}

// GetAll returns all values of a header in message order
func (h *Headers) GetAll(name string) []string {
	n := normalizeHeaderName(name)
	var values []string
	for _, f := range h.fields {
		if normalizeHeaderName(f.Name) == n {
			values = append(values, f.Value)
		}
	}
	return values
}

// List returns all comma separated elements of a header across every field
// with that name, e.g. the individual entries of Record-Route.
func (h *Headers) List(name string) []string {
	return SplitList(h.GetAll(name))
}

// Set replaces the value of a header. The first field keeps its position,
// further fields with the same name are dropped. A missing header is
// appended.
func (h *Headers) Set(name, value string) {
	n := normalizeHeaderName(name)
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if normalizeHeaderName(f.Name) != n {
			out = append(out, f)
			continue
		}
		if !replaced {
			out = append(out, Header{Name: name, Value: value})
			replaced = true
		}
	}
	h.fields = out
	if !replaced {
		h.fields = append(h.fields, Header{Name: name, Value: value})
	}
}

// Add appends a header field
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Header{Name: name, Value: value})
}

// Prepend inserts a header field before the first field with the same name,
// or at the top when there is none. Used for Via and Route.
func (h *Headers) Prepend(name, value string) {
	n := normalizeHeaderName(name)
	at := 0
	for i, f := range h.fields {
		if normalizeHeaderName(f.Name) == n {
			at = i
			break
		}
	}
	h.fields = append(h.fields, Header{})
	copy(h.fields[at+1:], h.fields[at:])
	h.fields[at] = Header{Name: name, Value: value}
}

// Remove removes all values of a header
func (h *Headers) Remove(name string) {
	n := normalizeHeaderName(name)
	out := h.fields[:0]
	for _, f := range h.fields {
		if normalizeHeaderName(f.Name) != n {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the number of header fields.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the fields in wire order.
func (h *Headers) Fields() []Header {
	out := make([]Header, len(h.fields))
	copy(out, h.fields)
	return out
}

// Clone creates a deep copy of headers
func (h *Headers) Clone() *Headers {
	clone := &Headers{fields: make([]Header, len(h.fields))}
	copy(clone.fields, h.fields)
	return clone
}

// SplitList splits header values on top level commas. Commas inside quoted
// strings or angle brackets do not split.
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		depth, quoted, start := 0, false, 0
		for i := 0; i < len(v); i++ {
			switch c := v[i]; {
			case c == '"' && (i == 0 || v[i-1] != '\\'):
				quoted = !quoted
			case quoted:
			case c == '<':
				depth++
			case c == '>' && depth > 0:
				depth--
			case c == ',' && depth == 0:
				if item := strings.TrimSpace(v[start:i]); item != "" {
					out = append(out, item)
				}
				start = i + 1
			}
		}
		if item := strings.TrimSpace(v[start:]); item != "" {
			out = append(out, item)
		}
	}
	return out
}
