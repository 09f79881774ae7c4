package h1

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func TestFrameAppend(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  string
	}{
		{"request line", NewRequestLine("GET", "/a?b"), "GET /a?b HTTP/1.1\r\n"},
		{"request line version", &Frame{Type: RequestLine, Method: "GET", Target: "/", Version: "HTTP/1.0"}, "GET / HTTP/1.0\r\n"},
		{"status line", NewStatusLine(200, "OK"), "HTTP/1.1 200 OK\r\n"},
		{"status padded", NewStatusLine(7, ""), "HTTP/1.1 007 \r\n"},
		{"header", NewHeader("Host", "example.com"), "Host: example.com\r\n"},
		{"valueless header", NewHeaderFrom(message.Valueless("X-Odd")), "X-Odd\r\n"},
		{"bare lf", &Frame{Type: HeaderLine, Header: message.H("a", "b"), LineEnd: "\n"}, "a: b\n"},
		{"end headers", NewEndHeaders(), "\r\n"},
		{"body", NewBody([]byte("abc")), "abc"},
		{"chunk", NewChunk([]byte("hello world!")), "c\r\nhello world!\r\n"},
		{"chunk ext", &Frame{Type: Chunk, Data: []byte("x"), Ext: "a=b"}, "1;a=b\r\nx\r\n"},
		{"chunk size override", &Frame{Type: Chunk, Data: []byte("xyz"), Size: "ff"}, "ff\r\nxyz\r\n"},
		{"last chunk", NewLastChunk(), "0\r\n\r\n"},
		{"last chunk trailers", NewLastChunk(message.H("X-Sum", "1")), "0\r\nX-Sum: 1\r\n\r\n"},
		{"raw", NewRaw([]byte("GARBAGE")), "GARBAGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.frame.Append(nil)); got != tt.want {
				t.Errorf("Append = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *message.Request)
		opts  BuildOptions
		want  string
	}{
		{
			name: "get",
			opts: BuildOptions{UserAgent: "ua"},
			want: "GET /p HTTP/1.1\r\nHost: example.com\r\nUser-Agent: ua\r\n\r\n",
		},
		{
			name:  "post body",
			setup: func(r *message.Request) { r.Method = "POST"; r.Body = []byte("abc") },
			opts:  BuildOptions{NoHost: true},
			want:  "POST /p HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc",
		},
		{
			name:  "empty post",
			setup: func(r *message.Request) { r.Method = "POST" },
			opts:  BuildOptions{NoHost: true},
			want:  "POST /p HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "trailers force chunked",
			setup: func(r *message.Request) {
				r.Method = "POST"
				r.Body = []byte("hello")
				r.Trailers = message.Headers{message.H("X-T", "1")}
			},
			opts: BuildOptions{NoHost: true},
			want: "POST /p HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\nX-T: 1\r\n\r\n",
		},
		{
			name: "conflicting framing kept",
			setup: func(r *message.Request) {
				r.Method = "POST"
				r.Body = []byte("0\r\n\r\n")
				r.Headers = message.Headers{message.H("Content-Length", "4"), message.H("Transfer-Encoding", "chunked")}
			},
			opts: BuildOptions{NoHost: true},
			want: "POST /p HTTP/1.1\r\nContent-Length: 4\r\nTransfer-Encoding: chunked\r\n\r\n5\r\n0\r\n\r\n\r\n0\r\n\r\n",
		},
		{
			name:  "caller host kept",
			setup: func(r *message.Request) { r.Headers = message.Headers{message.H("host", "evil"), message.H("host", "good")} },
			want:  "GET /p HTTP/1.1\r\nhost: evil\r\nhost: good\r\n\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := message.NewRequest("GET", "http://example.com/p")
			if err != nil {
				t.Fatal(err)
			}
			if tt.setup != nil {
				tt.setup(req)
			}
			seq, err := Build(req, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := string(seq.Bytes()); got != tt.want {
				t.Errorf("Build = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScannerRoundTrip(t *testing.T) {
	frames := []*Frame{
		{Type: StatusLine, Version: "HTTP/1.1", Status: 200, Reason: "OK"},
		NewHeader("Transfer-Encoding", "chunked"),
		NewHeader("X-Dup", "1"),
		NewHeader("X-Dup", "2"),
		NewEndHeaders(),
		NewChunk([]byte("hello")),
		{Type: Chunk, Data: []byte("!"), Ext: "sig=1", Size: "01"},
		{Type: LastChunk, Trailers: message.Headers{message.H("X-Sum", "6")}},
	}
	var b []byte
	for _, f := range frames {
		b = f.Append(b)
	}
	got, err := ParseResponse(b, "GET", Strict)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !reflect.DeepEqual(got, frames) {
		t.Errorf("ParseResponse = %v, want %v", got, frames)
	}
}

func TestScannerRepeat(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		seq := frame.Chain(
			frame.Of(&Frame{Type: RequestLine, Method: "POST", Target: "/", Version: "HTTP/1.1"},
				NewHeader("Transfer-Encoding", "chunked"), NewEndHeaders()),
			frame.Repeat(frame.Of(NewChunk([]byte("ab"))), n),
			frame.Of(NewLastChunk()),
		)
		got, err := ParseRequest(seq.Bytes(), Strict)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		chunks := 0
		for _, f := range got {
			if f.Type == Chunk {
				chunks++
				if string(f.Data) != "ab" {
					t.Errorf("chunk = %q, want ab", f.Data)
				}
			}
		}
		if chunks != n {
			t.Errorf("chunks = %d, want %d", chunks, n)
		}
	}
}

func TestScannerBodyRules(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		input    string
		wantBody string
	}{
		{"content length", "GET", "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nabcdef", "abc"},
		{"head ignores length", "HEAD", "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\n", ""},
		{"204", "GET", "HTTP/1.1 204 No Content\r\nContent-Length: 3\r\n\r\n", ""},
		{"304", "GET", "HTTP/1.1 304 Not Modified\r\n\r\n", ""},
		{"until close", "GET", "HTTP/1.1 200 OK\r\n\r\nall of it", "all of it"},
		{"chunked wins", "GET", "HTTP/1.1 200 OK\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nhi\r\n0\r\n\r\n", "hi"},
		{"informational", "GET", "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := ParseResponse([]byte(tt.input), tt.method, Lenient)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			var body []byte
			for _, f := range frames {
				if f.Type == Body || f.Type == Chunk {
					body = append(body, f.Data...)
				}
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestScannerModes(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		strictErr  bool
		lenientErr bool
	}{
		{"valid", "HTTP/1.1 200 OK\r\nA: b\r\nContent-Length: 0\r\n\r\n", false, false},
		{"bare lf", "HTTP/1.1 200 OK\nContent-Length: 0\n\n", true, false},
		{"no colon", "HTTP/1.1 200 OK\r\nweird line\r\nContent-Length: 0\r\n\r\n", true, false},
		{"bad name", "HTTP/1.1 200 OK\r\nBad Name: x\r\nContent-Length: 0\r\n\r\n", true, false},
		{"short status", "HTTP/1.1 20 OK\r\nContent-Length: 0\r\n\r\n", true, false},
		{"status not numeric", "HTTP/1.1 abc\r\n\r\n", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse([]byte(tt.input), "GET", Strict)
			if (err != nil) != tt.strictErr {
				t.Errorf("strict err = %v, want error %v", err, tt.strictErr)
			}
			if err != nil && !errors.Is(err, rerrors.ErrMalformed) {
				t.Errorf("strict err = %v, want malformed", err)
			}
			_, err = ParseResponse([]byte(tt.input), "GET", Lenient)
			if (err != nil) != tt.lenientErr {
				t.Errorf("lenient err = %v, want error %v", err, tt.lenientErr)
			}
		})
	}
}

func TestScannerLenientValueless(t *testing.T) {
	frames, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nX-Flag\r\nContent-Length: 0\r\n\r\n"), "GET", Lenient)
	if err != nil {
		t.Fatal(err)
	}
	if h := frames[1].Header; h.Name != "X-Flag" || !h.NoValue {
		t.Errorf("header = %+v, want valueless X-Flag", h)
	}
}

func TestScannerTruncated(t *testing.T) {
	_, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"), "GET", Lenient)
	if !errors.Is(err, rerrors.ErrClosed) {
		t.Errorf("err = %v, want closed", err)
	}
}

// serve answers each request read from c with the response built by fn.
func serve(t *testing.T, c net.Conn, fn func(r *http.Request) string) {
	t.Helper()
	go func() {
		defer c.Close()
		br := bufio.NewReader(c)
		for {
			r, err := http.ReadRequest(br)
			if err != nil {
				return
			}
			io.Copy(io.Discard, r.Body)
			if _, err := io.WriteString(c, fn(r)); err != nil {
				return
			}
		}
	}()
}

func newPipe(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	target, err := message.ParseTarget("http://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	c := New(client, target, opts)
	t.Cleanup(func() { c.Close() })
	return c, server
}

func TestConnRequest(t *testing.T) {
	c, server := newPipe(t, Options{})
	serve(t, server, func(r *http.Request) string {
		if r.Method == "HEAD" {
			return "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
		}
		return "HTTP/1.1 200 OK\r\nX-Ua: " + r.UserAgent() + "\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\nX-Done: yes\r\n\r\n"
	})
	ctx := context.Background()

	req, _ := message.NewRequest("GET", "http://example.com/")
	if _, err := c.SendRequest(ctx, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	resp, err := c.ReadResponse(ctx, 0)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != 200 || resp.Text() != "hello" {
		t.Errorf("resp = %d %q, want 200 hello", resp.Status, resp.Body)
	}
	if resp.Headers.Value("x-ua") != message.DefaultUserAgent {
		t.Errorf("X-Ua = %q, want %q", resp.Headers.Value("x-ua"), message.DefaultUserAgent)
	}
	if resp.Trailers.Value("x-done") != "yes" {
		t.Errorf("Trailers = %v", resp.Trailers)
	}

	head, _ := message.NewRequest("HEAD", "http://example.com/")
	c.SendRequest(ctx, head)
	resp, err = c.ReadResponse(ctx, 0)
	if err != nil {
		t.Fatalf("HEAD ReadResponse: %v", err)
	}
	if len(resp.Body) != 0 {
		t.Errorf("HEAD body = %q, want empty", resp.Body)
	}
}

func TestConnHandlerSeesFrames(t *testing.T) {
	c, server := newPipe(t, Options{})
	serve(t, server, func(r *http.Request) string {
		return "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	})
	req, _ := message.NewRequest("GET", "http://example.com/")
	c.SendRequest(context.Background(), req)
	var kinds []string
	h := conn.HandlerFunc(func(ev conn.Event) error {
		kinds = append(kinds, ev.Frame.Kind())
		return nil
	})
	if _, err := c.ReadResponseWithTimeouts(context.Background(), 0, timing.Timeouts{}, h); err != nil {
		t.Fatal(err)
	}
	want := []string{"STATUS_LINE", "HEADER", "END_HEADERS", "BODY"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestConnFirstByteTimeout(t *testing.T) {
	c, server := newPipe(t, Options{})
	go io.Copy(io.Discard, server)
	t.Cleanup(func() { server.Close() })

	req, _ := message.NewRequest("GET", "http://example.com/")
	c.SendRequest(context.Background(), req)
	start := time.Now()
	_, err := c.ReadResponseWithTimeouts(context.Background(), 0, timing.Timeouts{FirstByte: timing.After(50 * time.Millisecond)}, nil)
	if !errors.Is(err, rerrors.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	var re *rerrors.Error
	if errors.As(err, &re) && re.Code != "R032" {
		t.Errorf("code = %s, want R032", re.Code)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("timeout took %v", d)
	}
}

func TestGate(t *testing.T) {
	c, server := newPipe(t, Options{})
	req, _ := message.NewRequest("POST", "http://example.com/")
	req.Body = []byte("abc")
	seq, _ := Build(req, BuildOptions{})
	g := NewGate(c, seq, 1)

	got := make(chan string, 2)
	go func() {
		buf := make([]byte, 4096)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
		n, _ = server.Read(buf)
		got <- string(buf[:n])
		io.WriteString(server, "HTTP/1.1 204 No Content\r\n\r\n")
	}()
	ctx := context.Background()
	if err := g.Prime(ctx); err != nil {
		t.Fatal(err)
	}
	if first := <-got; !strings.HasSuffix(first, "ab") {
		t.Errorf("primed = %q, want suffix ab", first)
	}
	if err := g.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if last := <-got; last != "c" {
		t.Errorf("released = %q, want c", last)
	}
	resp, err := c.ReadResponse(ctx, 0)
	if err != nil || resp.Status != 204 {
		t.Errorf("resp = %v, %v", resp, err)
	}
	if err := g.Release(ctx); !errors.Is(err, rerrors.ErrUsage) {
		t.Errorf("second Release = %v, want usage error", err)
	}
}
