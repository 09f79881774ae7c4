// Package wire holds the integer and string primitives shared by the HTTP/2
// and HTTP/3 codecs.
//
// # Sections
//
//   - QUIC variable-length integers (RFC 9000 §16), including forced
//     non-minimal widths
//   - HPACK/QPACK prefixed integers (RFC 7541 §5.1)
//   - prefixed string literals with optional Huffman coding (RFC 7541 §5.2)
//   - an append-only Encoder and a bounds-checked Decoder for fixed-width
//     big-endian fields
//
// # Varint Layout
//
//	┌────┬──────────────────────────────┐
//	│ 2b │ value (6, 14, 30 or 62 bits) │
//	└────┴──────────────────────────────┘
//	  00 = 1 byte, 01 = 2 bytes, 10 = 4 bytes, 11 = 8 bytes
//
// Encoding never fails: values that do not fit a forced width are truncated
// to the width, so any in-memory frame serializes to some byte sequence.
// Decoding fails only with ErrIncomplete (more bytes needed) or ErrOverflow.
package wire
