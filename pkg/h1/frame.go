// Package h1 implements HTTP/1.1 messages as sequences of line-level
// frames, so request lines, individual header lines, chunks and chunk
// extensions can each be malformed on purpose.
package h1

import (
	"strconv"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
)

// Type is the kind of an HTTP/1.1 frame.
type Type uint8

const (
	RequestLine Type = iota + 1
	StatusLine
	HeaderLine
	EndHeaders
	Body
	Chunk
	LastChunk
	Raw
)

var typeNames = map[Type]string{
	RequestLine: "REQUEST_LINE",
	StatusLine:  "STATUS_LINE",
	HeaderLine:  "HEADER",
	EndHeaders:  "END_HEADERS",
	Body:        "BODY",
	Chunk:       "CHUNK",
	LastChunk:   "LAST_CHUNK",
	Raw:         "RAW",
}

// String returns the frame type name.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// DefaultVersion is written when a start line has no version.
const DefaultVersion = "HTTP/1.1"

// Frame is one line-level unit of an HTTP/1.1 message. Only the fields
// relevant to Type are used.
type Frame struct {
	Type Type

	// Start lines.
	Method  string
	Target  string
	Version string
	Status  int
	Reason  string

	// Header is the field of a HeaderLine.
	Header message.Header

	// Data is the body, chunk payload or raw bytes.
	Data []byte
	// Ext is a chunk extension, written after ';'.
	Ext string
	// Size overrides the hex chunk size, which lets the declared size
	// disagree with the payload.
	Size string
	// Trailers follow the last chunk.
	Trailers message.Headers

	// LineEnd replaces CRLF for line-based frames.
	LineEnd string
}

// Family implements frame.Frame.
func (f *Frame) Family() frame.Family { return frame.FamilyH1 }

// Stream implements frame.Frame. HTTP/1.1 has no streams.
func (f *Frame) Stream() uint64 { return 0 }

// Kind implements frame.Frame.
func (f *Frame) Kind() string { return f.Type.String() }

func (f *Frame) eol() string {
	if f.LineEnd != "" {
		return f.LineEnd
	}
	return "\r\n"
}

// Append implements frame.Frame.
func (f *Frame) Append(dst []byte) []byte {
	eol := f.eol()
	switch f.Type {
	case RequestLine:
		v := f.Version
		if v == "" {
			v = DefaultVersion
		}
		dst = append(dst, f.Method...)
		dst = append(dst, ' ')
		dst = append(dst, f.Target...)
		dst = append(dst, ' ')
		dst = append(dst, v...)
		return append(dst, eol...)
	case StatusLine:
		v := f.Version
		if v == "" {
			v = DefaultVersion
		}
		dst = append(dst, v...)
		dst = append(dst, ' ')
		dst = appendStatus(dst, f.Status)
		dst = append(dst, ' ')
		dst = append(dst, f.Reason...)
		return append(dst, eol...)
	case HeaderLine:
		return appendHeader(dst, f.Header, eol)
	case EndHeaders:
		return append(dst, eol...)
	case Chunk:
		dst = appendChunkSize(dst, f.Size, len(f.Data))
		dst = appendExt(dst, f.Ext)
		dst = append(dst, eol...)
		dst = append(dst, f.Data...)
		return append(dst, eol...)
	case LastChunk:
		dst = appendChunkSize(dst, f.Size, 0)
		dst = appendExt(dst, f.Ext)
		dst = append(dst, eol...)
		for _, h := range f.Trailers {
			dst = appendHeader(dst, h, eol)
		}
		return append(dst, eol...)
	default:
		return append(dst, f.Data...)
	}
}

func appendStatus(dst []byte, code int) []byte {
	if code >= 0 && code < 100 {
		s := strconv.Itoa(code)
		for i := len(s); i < 3; i++ {
			dst = append(dst, '0')
		}
		return append(dst, s...)
	}
	return strconv.AppendInt(dst, int64(code), 10)
}

func appendHeader(dst []byte, h message.Header, eol string) []byte {
	dst = append(dst, h.Name...)
	if !h.NoValue {
		dst = append(dst, ": "...)
		dst = append(dst, h.Value...)
	}
	return append(dst, eol...)
}

func appendChunkSize(dst []byte, override string, n int) []byte {
	if override != "" {
		return append(dst, override...)
	}
	return strconv.AppendInt(dst, int64(n), 16)
}

func appendExt(dst []byte, ext string) []byte {
	if ext == "" {
		return dst
	}
	dst = append(dst, ';')
	return append(dst, ext...)
}

// String describes the frame for logs.
func (f *Frame) String() string {
	switch f.Type {
	case RequestLine:
		return "REQUEST_LINE " + f.Method + " " + f.Target
	case StatusLine:
		return "STATUS_LINE " + strconv.Itoa(f.Status)
	case HeaderLine:
		return "HEADER " + f.Header.String()
	case Chunk, Body, Raw:
		return f.Type.String() + " len=" + strconv.Itoa(len(f.Data))
	default:
		return f.Type.String()
	}
}

// NewRequestLine returns a request line with the default version.
func NewRequestLine(method, target string) *Frame {
	return &Frame{Type: RequestLine, Method: method, Target: target}
}

// NewStatusLine returns a status line.
func NewStatusLine(code int, reason string) *Frame {
	return &Frame{Type: StatusLine, Status: code, Reason: reason}
}

// NewHeader returns a header line.
func NewHeader(name, value string) *Frame {
	return &Frame{Type: HeaderLine, Header: message.H(name, value)}
}

// NewHeaderFrom wraps an existing header, valueless ones included.
func NewHeaderFrom(h message.Header) *Frame {
	return &Frame{Type: HeaderLine, Header: h}
}

// NewEndHeaders returns the blank line ending a header block.
func NewEndHeaders() *Frame {
	return &Frame{Type: EndHeaders}
}

// NewBody returns body bytes.
func NewBody(b []byte) *Frame {
	return &Frame{Type: Body, Data: b}
}

// NewChunk returns a chunk with a computed size.
func NewChunk(b []byte) *Frame {
	return &Frame{Type: Chunk, Data: b}
}

// NewLastChunk returns the zero-size chunk and trailers.
func NewLastChunk(trailers ...message.Header) *Frame {
	return &Frame{Type: LastChunk, Trailers: trailers}
}

// NewRaw returns bytes written verbatim.
func NewRaw(b []byte) *Frame {
	return &Frame{Type: Raw, Data: b}
}
