package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/hpack"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/qpack"
)

func TestHexText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "compact", in: "00ff", want: "00ff", ok: true},
		{name: "spaced", in: "00 01\n0A\r\n", want: "00010A", ok: true},
		{name: "odd digits", in: "abc", ok: false},
		{name: "binary", in: "\x00\x01", ok: false},
		{name: "empty", in: "  \n", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := hexText([]byte(tt.in))
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("hexText(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "frames.bin")
	if err := os.WriteFile(bin, []byte{0x00, 0x00, 0x00, 0x04}, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := readInput(bin, nil)
	if err != nil || !bytes.Equal(got, []byte{0, 0, 0, 4}) {
		t.Errorf("readInput(binary) = %x, %v", got, err)
	}

	got, err = readInput("-", strings.NewReader("0000 0004\n"))
	if err != nil || !bytes.Equal(got, []byte{0, 0, 0, 4}) {
		t.Errorf("readInput(hex stdin) = %x, %v", got, err)
	}
}

func TestRequestFlagsBuild(t *testing.T) {
	dir := t.TempDir()
	bodyFile := filepath.Join(dir, "body.json")
	if err := os.WriteFile(bodyFile, []byte(`{"a":1}`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		flags      requestFlags
		wantMethod string
		wantBody   string
		wantHeader message.Header
	}{
		{name: "default GET", wantMethod: "GET"},
		{name: "data implies POST", flags: requestFlags{data: "x=1"}, wantMethod: "POST", wantBody: "x=1"},
		{name: "explicit method", flags: requestFlags{method: "PUT", data: "@" + bodyFile}, wantMethod: "PUT", wantBody: `{"a":1}`},
		{
			name:       "escaped header",
			flags:      requestFlags{headers: []string{`X-A: 1\r\nX-B: 2`}},
			wantMethod: "GET",
			wantHeader: message.H("X-A", "1\r\nX-B: 2"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.flags.build("http://example.test/p")
			if err != nil {
				t.Fatalf("build() error: %v", err)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", req.Method, tt.wantMethod)
			}
			if string(req.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", req.Body, tt.wantBody)
			}
			if tt.wantHeader.Name != "" {
				if len(req.Headers) != 1 || req.Headers[0] != tt.wantHeader {
					t.Errorf("Headers = %v, want [%v]", req.Headers, tt.wantHeader)
				}
			}
		})
	}
}

func TestParseProto(t *testing.T) {
	tests := []struct {
		in      string
		want    frame.Family
		wantErr bool
	}{
		{"", frame.FamilyUnknown, false},
		{"auto", frame.FamilyUnknown, false},
		{"h2", frame.FamilyH2, false},
		{"h3", frame.FamilyH3, false},
		{"spdy", 0, true},
	}
	for _, tt := range tests {
		got, err := parseProto(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("parseProto(%q) = %v, %v, want %v (error %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestDecodeH2(t *testing.T) {
	block, err := hpack.NewEncoder().EncodeHeaders(nil, message.Headers{
		message.H(":status", "200"),
		message.H("server", "test"),
	})
	if err != nil {
		t.Fatal(err)
	}
	var data []byte
	data = append(data, h2.Preface...)
	data = h2.Settings(h2.Setting{ID: h2.SettingMaxFrameSize, Val: 16384}).Append(data)
	data = h2.Headers(1, block[:2], false, false).Append(data)
	data = h2.Continuation(1, block[2:], true).Append(data)

	var out bytes.Buffer
	if err := runDecode(&out, "h2", 0, data); err != nil {
		t.Fatalf("runDecode() error: %v", err)
	}
	for _, want := range []string{"SETTINGS", "HEADERS", "CONTINUATION", ":status: 200", "server: test", "= 16384"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDecodeH3(t *testing.T) {
	hf, err := h3.Headers(qpack.NewEncoder(), 4, qpack.Fields(message.Headers{message.H(":status", "204")}))
	if err != nil {
		t.Fatal(err)
	}
	data := hf.Append(nil)
	data = h3.Data(4, []byte("hi")).Append(data)
	data = append(data, 0x00) // truncated trailing frame

	var out bytes.Buffer
	err = runDecode(&out, "h3", 4, data)
	if err == nil {
		t.Error("runDecode() succeeded on trailing partial frame, want error")
	}
	for _, want := range []string{"HEADERS", ":status: 204", "DATA"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunDecodeUnknownProto(t *testing.T) {
	if err := runDecode(io.Discard, "spdy", 0, nil); err == nil {
		t.Error("runDecode(spdy) succeeded, want error")
	}
}

func TestRunSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		io.WriteString(w, "pong")
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rawhttp.json")
	cfg := `{"protocol": "h1", "logging": {"level": "error"}, "capture": {"dir": "` + filepath.ToSlash(filepath.Join(dir, "captures")) + `"}}`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	common := &commonFlags{configPath: cfgPath}
	request := &requestFlags{data: "ping"}
	if err := runSend(ctx, &out, common, request, srv.URL+"/", false, true); err != nil {
		t.Fatalf("runSend() error: %v", err)
	}
	for _, want := range []string{"HTTP/1.1 200", "X-Method: POST", "pong"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, "captures"))
	if err != nil || len(entries) != 1 {
		t.Errorf("captures = %d entries (%v), want 1", len(entries), err)
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out, true)
	if got := out.String(); got != version+"\n" {
		t.Errorf("short version = %q, want %q", got, version+"\n")
	}

	out.Reset()
	printVersion(&out, false)
	for _, want := range []string{"Version:", message.DefaultUserAgent, "h3, h2, http/1.1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
