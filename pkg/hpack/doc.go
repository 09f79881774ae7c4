// Package hpack implements HPACK header compression with caller control
// over every representation choice.
//
// Encoding follows RFC 7541 unless a Field forces otherwise: a Field may
// demand a representation, an index (valid or not) and a Huffman mode, and
// an Encoder can emit dynamic table size updates of any value. Decoding is
// tolerant of representation order but reports index and size errors
// explicitly rather than correcting them.
package hpack
