// Package frame defines the protocol-neutral frame abstraction and the lazy
// composition primitives used to build attack sequences.
//
// A Frame is any protocol unit that can append its wire form to a buffer.
// A Sequence is a finite, restartable, lazily evaluated stream of frames:
// ranging over it twice yields the same frames, and Repeat never
// materializes its copies.
//
//	seq := frame.Chain(
//	    frame.Of(headers),
//	    frame.Repeat(frame.Of(continuation), 10000),
//	)
//	for f := range seq {
//	    buf = f.Append(buf)
//	}
package frame

import "strconv"

// Family identifies the HTTP protocol a frame belongs to.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyH1
	FamilyH2
	FamilyH3
)

// String returns the protocol name.
func (f Family) String() string {
	switch f {
	case FamilyH1:
		return "HTTP/1.1"
	case FamilyH2:
		return "HTTP/2"
	case FamilyH3:
		return "HTTP/3"
	default:
		return "unknown"
	}
}

// ParseFamily parses "h1", "h2", "h3" and the HTTP/x names.
func ParseFamily(s string) (Family, bool) {
	switch s {
	case "h1", "http1", "http/1.1", "HTTP/1.1", "1", "1.1":
		return FamilyH1, true
	case "h2", "http2", "HTTP/2", "2":
		return FamilyH2, true
	case "h3", "http3", "HTTP/3", "3":
		return FamilyH3, true
	default:
		return FamilyUnknown, false
	}
}

// Frame is a single protocol unit.
//
// Append must be total: every in-memory frame, however invalid, appends
// some byte sequence.
type Frame interface {
	// Family reports the protocol of the frame.
	Family() Family
	// Stream returns the stream id, or 0 for connection-level and H1 frames.
	Stream() uint64
	// Kind is a short type name used in logs and metric labels.
	Kind() string
	// Append appends the wire form of the frame to dst.
	Append(dst []byte) []byte
}

// Raw is an arbitrary byte sequence written verbatim on a stream.
type Raw struct {
	Fam      Family
	StreamID uint64
	Data     []byte
}

// Family implements Frame.
func (r *Raw) Family() Family { return r.Fam }

// Stream implements Frame.
func (r *Raw) Stream() uint64 { return r.StreamID }

// Kind implements Frame.
func (r *Raw) Kind() string { return "RAW" }

// Append implements Frame.
func (r *Raw) Append(dst []byte) []byte { return append(dst, r.Data...) }

// String describes the raw frame.
func (r *Raw) String() string {
	return "RAW stream=" + strconv.FormatUint(r.StreamID, 10) + " len=" + strconv.Itoa(len(r.Data))
}
