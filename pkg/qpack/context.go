package qpack

// Context is the QPACK state of one HTTP/3 connection. Each half owns its
// own dynamic table, synchronized with the peer over the encoder and
// decoder streams.
type Context struct {
	Encoder *Encoder
	Decoder *Decoder
}

// NewContext returns a context whose decoder advertises maxCapacity.
func NewContext(maxCapacity uint64) *Context {
	return &Context{Encoder: NewEncoder(), Decoder: NewDecoder(maxCapacity)}
}
