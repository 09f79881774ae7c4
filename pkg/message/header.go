package message

import "strings"

// Header is a single field. Valueless headers (NoValue) serialize as the
// bare name.
type Header struct {
	Name    string
	Value   string
	NoValue bool
}

// H builds a header.
func H(name, value string) Header {
	return Header{Name: name, Value: value}
}

// Valueless builds a header without a value.
func Valueless(name string) Header {
	return Header{Name: name, NoValue: true}
}

// IsPseudo reports whether the name starts with ':'.
func (h Header) IsPseudo() bool {
	return strings.HasPrefix(h.Name, ":")
}

// String renders "name: value", or the bare name for valueless headers.
func (h Header) String() string {
	if h.NoValue {
		return h.Name
	}
	return h.Name + ": " + h.Value
}

// ParseHeader parses a "name: value" line as typed on a command line.
// A leading ':' is part of a pseudo-header name. Escape sequences \r \n \t
// and \\ in the value are expanded, which allows CRLF injection payloads.
// A line without a separator becomes a valueless header.
func ParseHeader(line string) Header {
	search := line
	offset := 0
	if strings.HasPrefix(line, ":") {
		search = line[1:]
		offset = 1
	}
	i := strings.IndexByte(search, ':')
	if i < 0 {
		return Valueless(line)
	}
	i += offset
	return Header{
		Name:  line[:i],
		Value: ExpandEscapes(strings.TrimLeft(line[i+1:], " ")),
	}
}

// ExpandEscapes replaces \\, \r, \n and \t with the bytes they name.
func ExpandEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			continue
		}
		i++
	}
	return b.String()
}

// Headers is an ordered header list. Order and duplicates are preserved.
type Headers []Header

// Get returns the first value for name, compared case-insensitively.
func (hs Headers) Get(name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Value returns the first value for name or "".
func (hs Headers) Value(name string) string {
	v, _ := hs.Get(name)
	return v
}

// Values returns every value for name in order.
func (hs Headers) Values(name string) []string {
	var out []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Has reports whether a header with name exists.
func (hs Headers) Has(name string) bool {
	_, ok := hs.Get(name)
	return ok
}

// Add appends a header.
func (hs *Headers) Add(name, value string) {
	*hs = append(*hs, Header{Name: name, Value: value})
}

// Clone returns a copy.
func (hs Headers) Clone() Headers {
	if hs == nil {
		return nil
	}
	out := make(Headers, len(hs))
	copy(out, hs)
	return out
}

// Pseudo returns the pseudo-headers in order.
func (hs Headers) Pseudo() Headers {
	var out Headers
	for _, h := range hs {
		if h.IsPseudo() {
			out = append(out, h)
		}
	}
	return out
}

// Regular returns the non-pseudo headers in order.
func (hs Headers) Regular() Headers {
	var out Headers
	for _, h := range hs {
		if !h.IsPseudo() {
			out = append(out, h)
		}
	}
	return out
}

// Lower returns a copy with every name lowercased.
func (hs Headers) Lower() Headers {
	out := hs.Clone()
	for i := range out {
		out[i].Name = strings.ToLower(out[i].Name)
	}
	return out
}
