// Package qpack implements QPACK field compression for HTTP/3 with caller
// control over representations, indices and section prefixes.
//
// The encoder uses only the static table and literals unless UseDynamic is
// set and a capacity has been configured, which keeps sections decodable
// without encoder stream round trips. Encoder and decoder stream
// instructions are available as append functions for hand-built streams.
package qpack
