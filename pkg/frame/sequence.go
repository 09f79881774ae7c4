package frame

import "iter"

// Sequence is a lazy, restartable, finite sequence of frames.
type Sequence iter.Seq[Frame]

// Of returns a sequence over the given frames.
func Of(frames ...Frame) Sequence {
	return func(yield func(Frame) bool) {
		for _, f := range frames {
			if !yield(f) {
				return
			}
		}
	}
}

// Empty is the sequence with no frames.
func Empty() Sequence {
	return func(func(Frame) bool) {}
}

// Chain yields the frames of each sequence in order.
func Chain(seqs ...Sequence) Sequence {
	return func(yield func(Frame) bool) {
		for _, s := range seqs {
			if s == nil {
				continue
			}
			for f := range s {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Repeat yields the frames of s n times. n <= 0 yields nothing.
func Repeat(s Sequence, n int) Sequence {
	return func(yield func(Frame) bool) {
		if s == nil {
			return
		}
		for i := 0; i < n; i++ {
			for f := range s {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Then chains next after s.
func (s Sequence) Then(next ...Sequence) Sequence {
	return Chain(append([]Sequence{s}, next...)...)
}

// Times repeats s n times.
func (s Sequence) Times(n int) Sequence {
	return Repeat(s, n)
}

// Collect materializes the sequence.
func (s Sequence) Collect() []Frame {
	var out []Frame
	for f := range s {
		out = append(out, f)
	}
	return out
}

// Len counts the frames without keeping them.
func (s Sequence) Len() int {
	n := 0
	for range s {
		n++
	}
	return n
}

// AppendAll appends the wire form of every frame to dst.
func (s Sequence) AppendAll(dst []byte) []byte {
	for f := range s {
		dst = f.Append(dst)
	}
	return dst
}

// Bytes serializes the whole sequence.
func (s Sequence) Bytes() []byte {
	return s.AppendAll(nil)
}
