package wire

import (
	"golang.org/x/net/http2/hpack"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Huffman selects how string literals are coded.
type Huffman uint8

const (
	// HuffmanAuto uses Huffman coding when it is shorter.
	HuffmanAuto Huffman = iota
	// HuffmanAlways forces Huffman coding.
	HuffmanAlways
	// HuffmanNever forces raw octets.
	HuffmanNever
)

// String returns the mode name.
func (h Huffman) String() string {
	switch h {
	case HuffmanAuto:
		return "auto"
	case HuffmanAlways:
		return "always"
	case HuffmanNever:
		return "never"
	default:
		return "unknown"
	}
}

// ErrHuffman is returned for an invalid Huffman-coded literal.
var ErrHuffman = rerrors.New("R013")

// UseHuffman reports whether s should be Huffman coded under mode h.
func UseHuffman(h Huffman, s string) bool {
	switch h {
	case HuffmanAlways:
		return true
	case HuffmanNever:
		return false
	default:
		return hpack.HuffmanEncodeLength(s) < uint64(len(s))
	}
}

// AppendString appends a string literal whose length is an N-bit prefix
// integer. The Huffman flag is bit N of the first byte; flags supplies the
// bits above it.
func AppendString(dst []byte, flags byte, n uint8, s string, h Huffman) []byte {
	if UseHuffman(h, s) {
		dst = AppendPrefixInt(dst, flags|1<<n, n, hpack.HuffmanEncodeLength(s))
		return hpack.AppendHuffmanString(dst, s)
	}
	dst = AppendPrefixInt(dst, flags&^(1<<n), n, uint64(len(s)))
	return append(dst, s...)
}

// ReadString decodes a string literal with an N-bit length prefix from the
// front of b. It returns the decoded string, whether it was Huffman coded,
// and the number of bytes consumed.
func ReadString(b []byte, n uint8) (string, bool, int, error) {
	if len(b) == 0 {
		return "", false, 0, ErrIncomplete
	}
	huff := b[0]&(1<<n) != 0
	length, m, err := ReadPrefixInt(b, n)
	if err != nil {
		return "", false, 0, err
	}
	if uint64(len(b)-m) < length {
		return "", false, 0, ErrIncomplete
	}
	raw := b[m : m+int(length)]
	if !huff {
		return string(raw), false, m + int(length), nil
	}
	s, err := hpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", true, 0, ErrHuffman
	}
	return s, true, m + int(length), nil
}
