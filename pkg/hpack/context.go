package hpack

// Context is the HPACK state of one connection. The encoder table mirrors
// the peer's decoder and the decoder table mirrors the peer's encoder, so
// the two halves evolve independently for the lifetime of the connection.
type Context struct {
	Encoder *Encoder
	Decoder *Decoder
}

// NewContext returns a fresh context with default table sizes.
func NewContext() *Context {
	return &Context{Encoder: NewEncoder(), Decoder: NewDecoder()}
}
