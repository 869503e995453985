package message

import "strings"

// Param is a single ";name=value" parameter. Flag parameters have an empty
// value.
type Param struct {
	Name  string
	Value string
}

// Params is an ordered parameter list. Names compare case-insensitively.
type Params []Param

// Get returns the value of the named parameter.
func (p Params) Get(name string) (string, bool) {
	for _, kv := range p {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

// Has reports whether the named parameter is present.
func (p Params) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Set replaces the named parameter in place or appends it.
func (p Params) Set(name, value string) Params {
	for i, kv := range p {
		if strings.EqualFold(kv.Name, name) {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Name: name, Value: value})
}

// Remove drops the named parameter.
func (p Params) Remove(name string) Params {
	out := p[:0]
	for _, kv := range p {
		if !strings.EqualFold(kv.Name, name) {
			out = append(out, kv)
		}
	}
	return out
}

// Clone returns a copy that does not share storage with p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

func (p Params) writeTo(sb *strings.Builder, sep byte) {
	for _, kv := range p {
		sb.WriteByte(sep)
		sb.WriteString(kv.Name)
		if kv.Value != "" {
			sb.WriteByte('=')
			sb.WriteString(kv.Value)
		}
	}
}

// parseParams parses "a=1;b;c=3" style lists. Empty items are skipped.
func parseParams(s string, sep byte) Params {
	if s == "" {
		return nil
	}
	var out Params
	for _, item := range splitUnquoted(s, sep) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if eq := strings.IndexByte(item, '='); eq >= 0 {
			out = append(out, Param{
				Name:  strings.TrimSpace(item[:eq]),
				Value: strings.TrimSpace(item[eq+1:]),
			})
		} else {
			out = append(out, Param{Name: item})
		}
	}
	return out
}

func splitUnquoted(s string, sep byte) []string {
	var parts []string
	quoted, start := false, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
