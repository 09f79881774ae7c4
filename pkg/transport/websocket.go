package transport

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DialWebSocket opens a byte stream through a WebSocket relay. The relay
// is asked for target through the "target" query parameter and must
// forward binary messages to it verbatim.
func DialWebSocket(ctx context.Context, relay, target string) (Stream, error) {
	u, err := url.Parse(relay)
	if err != nil {
		return nil, rerrors.New("R004").WithDetail(relay).Wrap(err)
	}
	q := u.Query()
	q.Set("target", target)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: ws}, nil
}

// wsStream presents a WebSocket as a byte stream. Each Write is one
// binary message; reads drain messages in order.
type wsStream struct {
	conn *websocket.Conn

	rmu sync.Mutex
	cur io.Reader

	wmu sync.Mutex
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	for {
		if s.cur == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage && typ != websocket.TextMessage {
				continue
			}
			s.cur = r
		}
		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}

func (s *wsStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *wsStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
