package h3

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/qpack"
	"github.com/rawproto/rawhttp/pkg/transport"
	"github.com/rawproto/rawhttp/pkg/wire"
)

// buffer is one direction of an in-memory QUIC stream.
type buffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
	err  error
}

func newBuffer() *buffer {
	b := &buffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, io.ErrClosedPipe
	}
	b.buf.Write(p)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && b.err == nil {
		b.cond.Wait()
	}
	if b.buf.Len() > 0 {
		return b.buf.Read(p)
	}
	return 0, b.err
}

func (b *buffer) closeWith(err error, discard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	if discard {
		b.buf.Reset()
	}
	b.cond.Broadcast()
}

func (b *buffer) state() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...), b.err
}

type pipeStream struct {
	id  uint64
	in  *buffer
	out *buffer
}

func newPair(id uint64) (client, server *pipeStream) {
	up, down := newBuffer(), newBuffer()
	return &pipeStream{id, down, up}, &pipeStream{id, up, down}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *pipeStream) Close() error                { s.out.closeWith(io.EOF, false); return nil }
func (s *pipeStream) StreamID() uint64            { return s.id }

func (s *pipeStream) CancelRead(code uint64) {
	s.in.closeWith(&transport.StreamResetError{StreamID: s.id, Code: code}, true)
}

func (s *pipeStream) CancelWrite(code uint64) {
	s.out.closeWith(&transport.StreamResetError{StreamID: s.id, Code: code}, true)
}

func (s *pipeStream) SetReadDeadline(time.Time) error  { return nil }
func (s *pipeStream) SetWriteDeadline(time.Time) error { return nil }

// fakeQUIC is an in-memory QUIC connection. The test acts as the server
// through the channels.
type fakeQUIC struct {
	mu       sync.Mutex
	nextBidi uint64
	nextUni  uint64
	nextPeer uint64
	buffers  []*buffer

	bidi        chan *pipeStream
	uni         chan *pipeStream
	peerUni     chan *pipeStream
	datagrams   chan []byte
	inDatagrams chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeQUIC() *fakeQUIC {
	return &fakeQUIC{
		nextUni:     2,
		nextPeer:    3,
		bidi:        make(chan *pipeStream, 16),
		uni:         make(chan *pipeStream, 16),
		peerUni:     make(chan *pipeStream, 16),
		datagrams:   make(chan []byte, 16),
		inDatagrams: make(chan []byte, 16),
		closed:      make(chan struct{}),
	}
}

func (q *fakeQUIC) pair(next *uint64) (client, server *pipeStream) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := *next
	*next += 4
	client, server = newPair(id)
	q.buffers = append(q.buffers, client.in, client.out)
	return client, server
}

func (q *fakeQUIC) OpenStream(ctx context.Context) (transport.QUICStream, error) {
	client, server := q.pair(&q.nextBidi)
	q.bidi <- server
	return client, nil
}

func (q *fakeQUIC) OpenUniStream(ctx context.Context) (transport.QUICSendStream, error) {
	client, server := q.pair(&q.nextUni)
	q.uni <- server
	return client, nil
}

func (q *fakeQUIC) AcceptUniStream(ctx context.Context) (transport.QUICReceiveStream, error) {
	select {
	case s := <-q.peerUni:
		return s, nil
	case <-q.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQUIC) SendDatagram(b []byte) error {
	q.datagrams <- b
	return nil
}

func (q *fakeQUIC) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-q.inDatagrams:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQUIC) Protocol() string { return transport.ALPNHTTP3 }

func (q *fakeQUIC) CloseWithError(code uint64, reason string) error {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, b := range q.buffers {
			b.closeWith(net.ErrClosed, false)
		}
	})
	return nil
}

// peer plays the HTTP/3 server.
type peer struct {
	t  *testing.T
	q  *fakeQUIC
	qp *qpack.Context

	mu  sync.Mutex
	uni map[uint64][]byte
}

func startPeer(t *testing.T, opts Options) (*peer, *Conn) {
	t.Helper()
	p := &peer{t: t, q: newFakeQUIC(), qp: qpack.NewContext(4096), uni: make(map[uint64][]byte)}
	go p.acceptUni()
	target, err := message.ParseTarget("https://example.test/")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(context.Background(), p.q, target, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return p, c
}

func (p *peer) acceptUni() {
	for {
		select {
		case s := <-p.q.uni:
			go p.readUni(s)
		case <-p.q.closed:
			return
		}
	}
}

func (p *peer) readUni(s *pipeStream) {
	var typ [1]byte
	if _, err := io.ReadFull(s, typ[:]); err != nil {
		return
	}
	buf := make([]byte, 512)
	for {
		n, err := s.Read(buf)
		p.mu.Lock()
		p.uni[uint64(typ[0])] = append(p.uni[uint64(typ[0])], buf[:n]...)
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// waitUni polls the client's unidirectional stream of type typ until ok
// accepts its contents.
func (p *peer) waitUni(typ uint64, ok func(b []byte) bool) []byte {
	p.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		b := append([]byte(nil), p.uni[typ]...)
		p.mu.Unlock()
		if ok(b) {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.t.Fatalf("stream type %d never reached the expected state", typ)
	return nil
}

// openUni opens a server unidirectional stream of type typ.
func (p *peer) openUni(typ uint64) *pipeStream {
	client, server := p.q.pair(&p.q.nextPeer)
	server.Write(wire.AppendVarint(nil, typ))
	p.q.peerUni <- client
	return server
}

func (p *peer) accept() *pipeStream {
	p.t.Helper()
	select {
	case s := <-p.q.bidi:
		return s
	case <-time.After(2 * time.Second):
		p.t.Fatal("no request stream opened")
		return nil
	}
}

// readRequest reads a request stream up to its FIN.
func (p *peer) readRequest(s *pipeStream) []*Frame {
	p.t.Helper()
	ch := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(s)
		ch <- b
	}()
	select {
	case b := <-ch:
		frames, err := ParseAll(b, s.id)
		if err != nil {
			p.t.Fatalf("ParseAll: %v", err)
		}
		return frames
	case <-time.After(2 * time.Second):
		p.t.Fatal("request stream never finished")
		return nil
	}
}

func (p *peer) headers(s *pipeStream, hs message.Headers) {
	p.t.Helper()
	block, err := p.qp.Encoder.EncodeHeaders(nil, hs)
	if err != nil {
		p.t.Fatal(err)
	}
	s.Write(HeadersBlock(s.id, block).Append(nil))
}

func (p *peer) decode(f *Frame) message.Headers {
	p.t.Helper()
	hs, err := p.qp.Decoder.Decode(f.StreamID, f.Payload)
	if err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	return hs
}
