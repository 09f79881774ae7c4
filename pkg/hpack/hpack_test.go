package hpack

import (
	"encoding/hex"
	"errors"
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// RFC 7541 C.3 and C.4: request sequences on one connection.
func TestEncodeRFCExamples(t *testing.T) {
	first := message.Headers{
		message.H(":method", "GET"),
		message.H(":scheme", "http"),
		message.H(":path", "/"),
		message.H(":authority", "www.example.com"),
	}
	second := append(first.Clone(), message.H("cache-control", "no-cache"))

	tests := []struct {
		name    string
		huffman wire.Huffman
		want    []string
	}{
		{"plain", wire.HuffmanNever, []string{
			"828684410f7777772e6578616d706c652e636f6d",
			"828684be58086e6f2d6361636865",
		}},
		{"huffman", wire.HuffmanAlways, []string{
			"828684418cf1e3c2e5f23a6ba0ab90f4ff",
			"828684be5886a8eb10649cbf",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder()
			enc.Huffman = tt.huffman
			dec := NewDecoder()
			for i, hs := range []message.Headers{first, second} {
				got, err := enc.EncodeHeaders(nil, hs)
				if err != nil {
					t.Fatalf("block %d: %v", i, err)
				}
				if h := hex.EncodeToString(got); h != tt.want[i] {
					t.Errorf("block %d = %s, want %s", i, h, tt.want[i])
				}
				back, err := dec.Decode(got)
				if err != nil {
					t.Fatalf("block %d decode: %v", i, err)
				}
				if len(back) != len(hs) {
					t.Fatalf("block %d decoded %d fields, want %d", i, len(back), len(hs))
				}
				for j := range hs {
					if back[j] != hs[j] {
						t.Errorf("block %d field %d = %v, want %v", i, j, back[j], hs[j])
					}
				}
			}
			if enc.Table().Size() != 110 || dec.Table().Size() != 110 {
				t.Errorf("table sizes = %d/%d, want 110", enc.Table().Size(), dec.Table().Size())
			}
		})
	}
}

func TestRoundTripPreservesOrderAndDuplicates(t *testing.T) {
	client, server := NewContext(), NewContext()
	lists := []message.Headers{
		{message.H(":method", "POST"), message.H("x-dup", "1"), message.H("x-dup", "1"), message.H("a", "")},
		{message.H("x-dup", "1"), message.H(":path", "/a"), message.H("Weird Name", "\r\n\x00")},
		{message.H("x-dup", "2"), message.H("x-dup", "1")},
	}
	for i, hs := range lists {
		block, err := client.Encoder.EncodeHeaders(nil, hs)
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		got, err := server.Decoder.Decode(block)
		if err != nil {
			t.Fatalf("list %d decode: %v", i, err)
		}
		if len(got) != len(hs) {
			t.Fatalf("list %d: got %v, want %v", i, got, hs)
		}
		for j := range hs {
			if got[j] != hs[j] {
				t.Errorf("list %d field %d = %v, want %v", i, j, got[j], hs[j])
			}
		}
	}
}

func TestInteropWithXNet(t *testing.T) {
	enc := NewEncoder()
	xdec := hpack.NewDecoder(DefaultTableSize, nil)
	lists := []message.Headers{
		{message.H(":method", "GET"), message.H(":path", "/"), message.H("user-agent", "rawhttp")},
		{message.H(":method", "GET"), message.H(":path", "/next"), message.H("user-agent", "rawhttp")},
	}
	for i, hs := range lists {
		block, err := enc.EncodeHeaders(nil, hs)
		if err != nil {
			t.Fatal(err)
		}
		got, err := xdec.DecodeFull(block)
		if err != nil {
			t.Fatalf("list %d: x/net decode: %v", i, err)
		}
		for j, f := range got {
			if f.Name != hs[j].Name || f.Value != hs[j].Value {
				t.Errorf("list %d field %d = %s: %s, want %v", i, j, f.Name, f.Value, hs[j])
			}
		}
	}

	// x/net encoder into our decoder, including a never-indexed field.
	var buf []byte
	xenc := hpack.NewEncoder(&sliceWriter{&buf})
	xenc.WriteField(hpack.HeaderField{Name: "authorization", Value: "secret", Sensitive: true})
	xenc.WriteField(hpack.HeaderField{Name: "x-custom", Value: "v"})
	fields, err := NewDecoder().DecodeFields(buf)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}
	if len(fields) != 2 || fields[0].Rep != NeverIndexed || fields[1].Value != "v" {
		t.Errorf("DecodeFields = %+v", fields)
	}
}

type sliceWriter struct{ b *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func TestForcedRepresentations(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"forced out of range index", Field{Rep: Indexed, Index: 200}, "ff49"},
		{"forced static name index", Field{Name: "ignored", Value: "v", Rep: WithoutIndexing, Index: 2}, "020176"},
		{"never indexed literal name", Field{Name: "a", Value: "b", Rep: NeverIndexed, Huffman: wire.HuffmanNever}, "1001610162"},
		{"incremental despite exact static match", Field{Name: ":method", Value: "GET", Rep: Incremental, Huffman: wire.HuffmanNever}, "4203474554"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncoder().Encode(nil, []Field{tt.field})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if h := hex.EncodeToString(got); h != tt.want {
				t.Errorf("Encode = %s, want %s", h, tt.want)
			}
		})
	}

	_, err := NewEncoder().Encode(nil, []Field{{Name: "x-missing", Value: "1", Rep: Indexed}})
	if !errors.Is(err, rerrors.ErrEncodeIndex) {
		t.Errorf("forced indexed miss = %v, want encode index error", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		block string
		kind  error
	}{
		{"index zero", "80", rerrors.ErrDecodeIndex},
		{"index out of range", "ff49", rerrors.ErrDecodeIndex},
		{"literal name index out of range", "7f0001", rerrors.ErrDecodeIndex},
		{"truncated integer", "ff", rerrors.ErrMalformed},
		{"truncated string", "400561", rerrors.ErrMalformed},
		{"size update above limit", "3fe1ff03", rerrors.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder().Decode(mustHex(t, tt.block))
			if !errors.Is(err, tt.kind) {
				t.Errorf("Decode(%s) = %v, want kind %v", tt.block, err, rerrors.KindOf(tt.kind))
			}
		})
	}
}

func TestTableSizeUpdates(t *testing.T) {
	enc := NewEncoder()
	enc.ForceTableSizeUpdate(1 << 20)
	block, err := enc.EncodeHeaders(nil, message.Headers{message.H("a", "b")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecoder().Decode(block); !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("oversized update decode = %v, want malformed", err)
	}

	enc = NewEncoder()
	enc.SetPeerLimit(100)
	enc.SetMaxTableSize(1000)
	if got := enc.Table().MaxSize(); got != 100 {
		t.Errorf("MaxSize() = %d, want clamp to 100", got)
	}
	block, _ = enc.EncodeHeaders(nil, nil)
	dec := NewDecoder()
	if _, err := dec.Decode(block); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := dec.Table().MaxSize(); got != 100 {
		t.Errorf("decoder MaxSize() = %d, want 100", got)
	}
}

func TestTableEviction(t *testing.T) {
	tbl := NewTable(100)
	tbl.Add("a", "1") // 34
	tbl.Add("b", "2") // 68
	tbl.Add("c", "3") // 102 evicts a
	if tbl.Len() != 2 || tbl.Size() != 68 {
		t.Fatalf("Len, Size = %d, %d; want 2, 68", tbl.Len(), tbl.Size())
	}
	if name, _, _ := tbl.Entry(1); name != "c" {
		t.Errorf("newest = %q, want c", name)
	}
	if name, _, _ := tbl.Entry(2); name != "b" {
		t.Errorf("oldest = %q, want b", name)
	}
	tbl.Add(string(make([]byte, 100)), "")
	if tbl.Len() != 0 {
		t.Errorf("oversized entry left %d entries", tbl.Len())
	}
}

func TestOversizedListKeepsTableInStep(t *testing.T) {
	big := make([]byte, 9000)
	for i := range big {
		big[i] = 'a'
	}
	first, err := NewEncoder().Encode(nil, []Field{
		{Name: "x-big", Value: string(big), Rep: WithoutIndexing, Huffman: wire.HuffmanNever},
		{Name: "x-after", Value: "v1", Rep: Incremental, Huffman: wire.HuffmanNever},
	})
	if err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder()
	dec.MaxListSize = 8192
	fields, err := dec.DecodeFields(first)
	if !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("oversized list error = %v, want malformed", err)
	}
	if len(fields) != 2 {
		t.Errorf("oversized list decoded %d fields, want 2", len(fields))
	}
	if dec.Table().Len() != 1 {
		t.Fatalf("table Len() = %d after oversized list, want 1", dec.Table().Len())
	}

	second, err := NewEncoder().Encode(nil, []Field{{Rep: Indexed, Index: StaticLen + 1}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := dec.Decode(second)
	if err != nil {
		t.Fatalf("Decode after oversized list: %v", err)
	}
	if len(got) != 1 || got[0] != message.H("x-after", "v1") {
		t.Errorf("Decode after oversized list = %v, want [x-after: v1]", got)
	}
}
