// Package message holds the user-facing request and response views.
//
// Headers keep caller order and duplicates, and may carry arbitrary bytes in
// names and values. Nothing here normalizes or validates: pseudo-headers can
// be supplied, repeated, reordered or omitted, and the synthesized ones are
// only filled in where the caller left a gap.
//
// Request and Response do not own connections or streams. The protocol
// packages translate them to and from frames.
package message
