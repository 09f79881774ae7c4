package h1

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/rawproto/rawhttp/pkg/message"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Mode sets how tolerant the Scanner is.
type Mode uint8

const (
	// Lenient accepts bare LF, header lines without a colon (as valueless
	// headers) and loose start lines.
	Lenient Mode = iota
	// Strict rejects anything RFC 9112 would, with R012.
	Strict
)

// ParseMode converts "strict" or "lenient".
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "", "lenient":
		return Lenient, true
	case "strict":
		return Strict, true
	}
	return Lenient, false
}

const maxBodyFrame = 32 << 10

type scanState uint8

const (
	stateStart scanState = iota
	stateHeaders
	stateLength
	stateChunked
	stateUntilClose
	stateDone
)

// Scanner reads one HTTP/1.1 message at a time as frames. Call Begin
// before each message; Next returns frames until Done reports true.
type Scanner struct {
	br       *bufio.Reader
	mode     Mode
	response bool

	method  string
	state   scanState
	status  int
	headers message.Headers
	remain  int64
}

// NewScanner scans from r. Responses are expected when response is set,
// requests otherwise.
func NewScanner(r io.Reader, response bool, mode Mode) *Scanner {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Scanner{br: br, response: response, mode: mode, state: stateDone}
}

// Begin prepares for the next message. For responses, method is the
// request method, which decides whether a body follows.
func (s *Scanner) Begin(method string) {
	s.method = strings.ToUpper(method)
	s.state = stateStart
	s.status = 0
	s.headers = nil
	s.remain = 0
}

// Done reports whether the current message is complete.
func (s *Scanner) Done() bool { return s.state == stateDone }

// Status returns the status of the last status line.
func (s *Scanner) Status() int { return s.status }

// Headers returns the header block read so far.
func (s *Scanner) Headers() message.Headers { return s.headers }

// UntilClose reports whether the body is delimited by connection close.
func (s *Scanner) UntilClose() bool { return s.state == stateUntilClose }

// Next returns the next frame. A body read until close ends with io.EOF
// once the peer closes, which completes the message. Any other early EOF
// is R042.
func (s *Scanner) Next() (*Frame, error) {
	switch s.state {
	case stateStart:
		return s.startLine()
	case stateHeaders:
		return s.headerLine()
	case stateLength:
		return s.lengthBody()
	case stateChunked:
		return s.chunk()
	case stateUntilClose:
		return s.untilClose()
	}
	return nil, io.EOF
}

// line reads one line and strips its terminator. eol is "\n" for a bare
// LF line so the frame reproduces it.
func (s *Scanner) line() (text, eol string, err error) {
	l, err := s.br.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if l == "" && s.state == stateStart {
				return "", "", io.EOF
			}
			return "", "", closedEarly(err)
		}
		return "", "", err
	}
	if strings.HasSuffix(l, "\r\n") {
		return l[:len(l)-2], "", nil
	}
	if s.mode == Strict {
		return "", "", malformed("bare LF line ending")
	}
	return l[:len(l)-1], "\n", nil
}

func (s *Scanner) startLine() (*Frame, error) {
	l, eol, err := s.line()
	if err != nil {
		if err == io.EOF {
			return nil, closedEarly(err)
		}
		return nil, err
	}
	s.state = stateHeaders
	s.headers = message.Headers{}
	if s.response {
		return s.statusLine(l, eol)
	}
	return s.requestLine(l, eol)
}

func (s *Scanner) requestLine(l, eol string) (*Frame, error) {
	parts := strings.SplitN(l, " ", 3)
	if s.mode == Strict {
		if len(parts) != 3 || !validMethod(parts[0]) || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
			return nil, malformed("request line " + strconv.Quote(l))
		}
	}
	f := &Frame{Type: RequestLine, LineEnd: eol}
	f.Method = parts[0]
	if len(parts) > 1 {
		f.Target = parts[1]
	}
	if len(parts) > 2 {
		f.Version = parts[2]
	}
	s.method = strings.ToUpper(f.Method)
	return f, nil
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	for i := 0; i < len(m); i++ {
		if !httpguts.IsTokenRune(rune(m[i])) {
			return false
		}
	}
	return true
}

func (s *Scanner) statusLine(l, eol string) (*Frame, error) {
	parts := strings.SplitN(l, " ", 3)
	if len(parts) < 2 {
		return nil, malformed("status line " + strconv.Quote(l))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 0 {
		return nil, malformed("status code " + strconv.Quote(parts[1]))
	}
	if s.mode == Strict && (len(parts[1]) != 3 || !strings.HasPrefix(parts[0], "HTTP/")) {
		return nil, malformed("status line " + strconv.Quote(l))
	}
	f := &Frame{Type: StatusLine, Version: parts[0], Status: code, LineEnd: eol}
	if len(parts) == 3 {
		f.Reason = parts[2]
	}
	s.status = code
	return f, nil
}

func (s *Scanner) headerLine() (*Frame, error) {
	l, eol, err := s.line()
	if err != nil {
		return nil, err
	}
	if l == "" {
		s.state = s.bodyState()
		return &Frame{Type: EndHeaders, LineEnd: eol}, nil
	}
	h, err := s.parseField(l)
	if err != nil {
		return nil, err
	}
	s.headers = append(s.headers, h)
	return &Frame{Type: HeaderLine, Header: h, LineEnd: eol}, nil
}

func (s *Scanner) parseField(l string) (message.Header, error) {
	i := strings.IndexByte(l, ':')
	if s.mode == Strict {
		if l[0] == ' ' || l[0] == '\t' {
			return message.Header{}, malformed("obsolete line folding")
		}
		if i <= 0 {
			return message.Header{}, malformed("header line without colon " + strconv.Quote(l))
		}
		name, value := l[:i], strings.Trim(l[i+1:], " \t")
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return message.Header{}, malformed("invalid header " + strconv.Quote(l))
		}
		return message.H(name, value), nil
	}
	if i < 0 {
		return message.Valueless(l), nil
	}
	return message.H(l[:i], strings.Trim(l[i+1:], " \t")), nil
}

// bodyState picks the framing of the message body after a header block.
func (s *Scanner) bodyState() scanState {
	if s.response {
		if s.status >= 100 && s.status < 200 && s.status != 101 {
			return stateStart
		}
		if s.method == "HEAD" || s.status == 101 || s.status == 204 || s.status == 205 || s.status == 304 {
			return stateDone
		}
	}
	if s.chunked() {
		return stateChunked
	}
	if n, ok := s.contentLength(); ok {
		if n == 0 {
			return stateDone
		}
		s.remain = n
		return stateLength
	}
	if s.response {
		return stateUntilClose
	}
	return stateDone
}

func (s *Scanner) chunked() bool {
	vs := s.headers.Values("transfer-encoding")
	if len(vs) == 0 {
		return false
	}
	if s.mode == Strict {
		codings := strings.Split(vs[len(vs)-1], ",")
		return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
	}
	for _, v := range vs {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

// contentLength returns the first parseable Content-Length. Strict mode
// requires every value to agree.
func (s *Scanner) contentLength() (int64, bool) {
	vs := s.headers.Values("content-length")
	var (
		n     int64
		found bool
	)
	for _, v := range vs {
		m, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || m < 0 {
			continue
		}
		if !found {
			n, found = m, true
			if s.mode != Strict {
				break
			}
		} else if m != n {
			return 0, false
		}
	}
	return n, found
}

func (s *Scanner) lengthBody() (*Frame, error) {
	size := s.remain
	if size > maxBodyFrame {
		size = maxBodyFrame
	}
	buf := make([]byte, size)
	n, err := s.br.Read(buf)
	if n > 0 {
		s.remain -= int64(n)
		if s.remain == 0 {
			s.state = stateDone
		}
		return NewBody(buf[:n]), nil
	}
	if err == nil || err == io.EOF {
		err = closedEarly(io.ErrUnexpectedEOF)
	}
	return nil, err
}

func (s *Scanner) chunk() (*Frame, error) {
	l, eol, err := s.line()
	if err != nil {
		return nil, err
	}
	token, ext, _ := strings.Cut(l, ";")
	token = strings.TrimRight(token, " \t")
	size, err := strconv.ParseUint(token, 16, 63)
	if err != nil {
		return nil, malformed("chunk size " + strconv.Quote(token))
	}
	f := &Frame{Ext: ext, LineEnd: eol}
	if token != strconv.FormatUint(size, 16) {
		f.Size = token
	}
	if size == 0 {
		f.Type = LastChunk
		for {
			tl, _, err := s.line()
			if err != nil {
				return nil, err
			}
			if tl == "" {
				break
			}
			h, err := s.parseField(tl)
			if err != nil {
				return nil, err
			}
			f.Trailers = append(f.Trailers, h)
		}
		s.state = stateDone
		return f, nil
	}
	f.Type = Chunk
	f.Data = make([]byte, size)
	if _, err := io.ReadFull(s.br, f.Data); err != nil {
		return nil, closedEarly(err)
	}
	end, _, err := s.line()
	if err != nil {
		return nil, err
	}
	if end != "" {
		return nil, malformed("chunk data longer than its size")
	}
	return f, nil
}

func (s *Scanner) untilClose() (*Frame, error) {
	buf := make([]byte, maxBodyFrame)
	n, err := s.br.Read(buf)
	if n > 0 {
		return NewBody(buf[:n]), nil
	}
	if err == io.EOF {
		s.state = stateDone
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

func malformed(detail string) error {
	return rerrors.New("R012").WithDetail(detail)
}

func closedEarly(err error) error {
	return rerrors.New("R042").WithDetail("connection closed mid-message").Wrap(err)
}

// ParseResponse scans a complete response from b. It returns the frames
// read before any error.
func ParseResponse(b []byte, method string, mode Mode) ([]*Frame, error) {
	return parseAll(b, true, method, mode)
}

// ParseRequest scans a complete request from b.
func ParseRequest(b []byte, mode Mode) ([]*Frame, error) {
	return parseAll(b, false, "", mode)
}

func parseAll(b []byte, response bool, method string, mode Mode) ([]*Frame, error) {
	s := NewScanner(bytes.NewReader(b), response, mode)
	s.Begin(method)
	var out []*Frame
	for !s.Done() {
		f, err := s.Next()
		if err == io.EOF && s.Done() {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}
