package h1

import (
	"testing"
)

func FuzzParseResponse(f *testing.F) {
	f.Add([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"), false)
	f.Add([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n1;x\r\na\r\n0\r\nT: 1\r\n\r\n"), true)
	f.Add([]byte("HTTP/1.1 100 Continue\n\nHTTP/1.1 204 x\n\n"), false)
	f.Fuzz(func(t *testing.T, b []byte, strict bool) {
		mode := Lenient
		if strict {
			mode = Strict
		}
		frames, err := ParseResponse(b, "GET", mode)
		if err != nil {
			return
		}
		var out []byte
		for _, fr := range frames {
			out = fr.Append(out)
		}
		again, err := ParseResponse(out, "GET", mode)
		if err != nil {
			t.Fatalf("reparse %q: %v", out, err)
		}
		if a, b := headerLines(again), headerLines(frames); a != b {
			t.Errorf("reparse header lines = %d, want %d", a, b)
		}
		if a, b := body(again), body(frames); a != b {
			t.Errorf("reparse body = %q, want %q", a, b)
		}
	})
}

func headerLines(frames []*Frame) int {
	n := 0
	for _, f := range frames {
		if f.Type == HeaderLine {
			n++
		}
	}
	return n
}

func body(frames []*Frame) string {
	var b []byte
	for _, f := range frames {
		if f.Type == Body || f.Type == Chunk {
			b = append(b, f.Data...)
		}
	}
	return string(b)
}
