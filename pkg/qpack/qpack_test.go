package qpack

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/quic-go/qpack"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

var requestHeaders = message.Headers{
	message.H(":method", "GET"),
	message.H(":path", "/"),
	message.H(":scheme", "https"),
	message.H(":authority", "example.com"),
	message.H("user-agent", "rawhttp"),
	message.H("x-custom", "value"),
	message.H("x-custom", "value"),
}

func sameHeaders(t *testing.T, got, want message.Headers) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d fields %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStaticEncoding(t *testing.T) {
	enc := NewEncoder()
	enc.Huffman = wire.HuffmanNever
	got, err := enc.EncodeHeaders(nil, message.Headers{
		message.H(":method", "GET"),
		message.H(":path", "/"),
		message.H(":authority", "a"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if h := hex.EncodeToString(got); h != "0000d1c1500161" {
		t.Errorf("Encode = %s, want 0000d1c1500161", h)
	}
}

func TestRoundTripStatic(t *testing.T) {
	ctx := NewContext(0)
	block, err := ctx.Encoder.EncodeHeaders(nil, requestHeaders)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ctx.Decoder.Decode(0, block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sameHeaders(t, got, requestHeaders)
	if len(ctx.Decoder.Drain()) != 0 {
		t.Error("static-only section queued decoder stream bytes")
	}
}

func TestInteropWithQuicGo(t *testing.T) {
	block, err := NewEncoder().EncodeHeaders(nil, requestHeaders)
	if err != nil {
		t.Fatal(err)
	}
	fields, err := qpack.NewDecoder(nil).DecodeFull(block)
	if err != nil {
		t.Fatalf("quic-go DecodeFull: %v", err)
	}
	for i, f := range fields {
		if f.Name != requestHeaders[i].Name || f.Value != requestHeaders[i].Value {
			t.Errorf("field %d = %s: %s, want %v", i, f.Name, f.Value, requestHeaders[i])
		}
	}

	var buf bytes.Buffer
	qenc := qpack.NewEncoder(&buf)
	for _, h := range requestHeaders {
		if err := qenc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := NewDecoder(0).Decode(0, buf.Bytes())
	if err != nil {
		t.Fatalf("Decode quic-go output: %v", err)
	}
	sameHeaders(t, got, requestHeaders)
}

func TestDynamicTableBlocksUntilInserts(t *testing.T) {
	enc := NewEncoder()
	enc.SetPeerSettings(4096, 16)
	enc.SetCapacity(4096)
	enc.UseDynamic = true
	dec := NewDecoder(4096)

	block, err := enc.EncodeHeaders(nil, requestHeaders)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Decode(4, block); !errors.Is(err, rerrors.ErrBlocked) {
		t.Fatalf("Decode before inserts = %v, want blocked", err)
	}

	stream := enc.Drain()
	n, err := dec.HandleEncoderStream(stream)
	if err != nil || n != len(stream) {
		t.Fatalf("HandleEncoderStream = %d, %v; want %d, nil", n, err, len(stream))
	}
	got, err := dec.Decode(4, block)
	if err != nil {
		t.Fatalf("Decode after inserts: %v", err)
	}
	sameHeaders(t, got, requestHeaders)

	// :authority, user-agent and x-custom are inserted once each.
	if got := dec.Table().Inserted(); got != 3 {
		t.Errorf("Inserted() = %d, want 3", got)
	}
	if _, err := enc.HandleDecoderStream(dec.Drain()); err != nil {
		t.Fatalf("HandleDecoderStream: %v", err)
	}
	if got := enc.KnownReceived(); got != 3 {
		t.Errorf("KnownReceived() = %d, want 3", got)
	}

	// A second section reuses the entries without new inserts.
	block, err = enc.EncodeHeaders(nil, requestHeaders)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc.Drain()) != 0 {
		t.Error("second section produced inserts")
	}
	got, err = dec.Decode(8, block)
	if err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	sameHeaders(t, got, requestHeaders)
}

func TestPartialEncoderStream(t *testing.T) {
	stream := AppendInsertLiteral(nil, "x-long-name", "value", wire.HuffmanNever)
	dec := NewDecoder(4096)
	dec.HandleEncoderStream(AppendSetCapacity(nil, 4096))
	n, err := dec.HandleEncoderStream(stream[:len(stream)-2])
	if err != nil || n != 0 {
		t.Fatalf("partial = %d, %v; want 0, nil", n, err)
	}
	n, err = dec.HandleEncoderStream(stream)
	if err != nil || n != len(stream) {
		t.Fatalf("full = %d, %v", n, err)
	}
	if name, value, _ := dec.Table().Get(0); name != "x-long-name" || value != "value" {
		t.Errorf("Get(0) = %q, %q", name, value)
	}
}

func TestForcedRepresentations(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"forced static index out of range", Field{Rep: Indexed, ForceIndex: true, Index: 200}, "0000ff8901"},
		{"never indexed literal", Field{Name: "x", Value: "y", Rep: Literal, NeverIndex: true, Huffman: wire.HuffmanNever}, "000031780179"},
		{"literal despite static match", Field{Name: ":method", Value: "GET", Rep: Literal, Huffman: wire.HuffmanNever}, "000027003a6d6574686f6403474554"},
		{"forced post-base", Field{Rep: IndexedPostBase, ForceIndex: true, Index: 2}, "000012"},
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

	_, err := NewEncoder().Encode(nil, []Field{{Name: "x-none", Value: "1", Rep: Indexed}})
	if !errors.Is(err, rerrors.ErrEncodeIndex) {
		t.Errorf("forced indexed miss = %v, want encode index error", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
		kind  error
	}{
		{"empty", nil, rerrors.ErrMalformed},
		{"static index out of range", mustEncode(t, Field{Rep: Indexed, ForceIndex: true, Index: 200}), rerrors.ErrDecodeIndex},
		{"dynamic relative without entries", []byte{0x00, 0x00, 0x80}, rerrors.ErrDecodeIndex},
		{"insert count without capacity", mustEncodePrefix(t, Prefix{EncodedInsertCount: 5}), rerrors.ErrMalformed},
		{"truncated literal", []byte{0x00, 0x00, 0x25, 'a'}, rerrors.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(0).Decode(0, tt.block)
			if !errors.Is(err, tt.kind) {
				t.Errorf("Decode = %v, want kind %v", err, rerrors.KindOf(tt.kind))
			}
		})
	}
}

func mustEncode(t *testing.T, fields ...Field) []byte {
	t.Helper()
	b, err := NewEncoder().Encode(nil, fields)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func mustEncodePrefix(t *testing.T, p Prefix) []byte {
	t.Helper()
	b, err := NewEncoder().EncodeWithPrefix(nil, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestInstructions(t *testing.T) {
	tests := []struct {
		name    string
		b       []byte
		decoder bool
		want    Instruction
	}{
		{"set capacity", AppendSetCapacity(nil, 220), false, Instruction{Type: SetCapacity, Value: 220}},
		{"insert name ref", AppendInsertNameRef(nil, true, 0, "www.example.com", wire.HuffmanAlways), false,
			Instruction{Type: InsertNameRef, Static: true, Field: "www.example.com"}},
		{"insert literal", AppendInsertLiteral(nil, "custom-key", "custom-value", wire.HuffmanNever), false,
			Instruction{Type: InsertLiteral, Name: "custom-key", Field: "custom-value"}},
		{"duplicate", AppendDuplicate(nil, 2), false, Instruction{Type: Duplicate, Value: 2}},
		{"section ack", AppendSectionAck(nil, 4), true, Instruction{Type: SectionAck, Value: 4}},
		{"stream cancel", AppendStreamCancel(nil, 8), true, Instruction{Type: StreamCancel, Value: 8}},
		{"increment", AppendInsertCountIncrement(nil, 1), true, Instruction{Type: InsertCountIncrement, Value: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parse := ParseEncoderInstruction
			if tt.decoder {
				parse = ParseDecoderInstruction
			}
			got, n, err := parse(tt.b)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if n != len(tt.b) {
				t.Errorf("consumed %d, want %d", n, len(tt.b))
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTableEviction(t *testing.T) {
	var tbl Table
	tbl.SetCapacity(100)
	tbl.Insert("a", "1")
	tbl.Insert("b", "2")
	tbl.Insert("c", "3")
	if tbl.Inserted() != 3 || tbl.Len() != 2 {
		t.Fatalf("Inserted, Len = %d, %d; want 3, 2", tbl.Inserted(), tbl.Len())
	}
	if _, _, ok := tbl.Get(0); ok {
		t.Error("evicted entry still addressable")
	}
	if name, _, ok := tbl.Get(2); !ok || name != "c" {
		t.Errorf("Get(2) = %q, %v", name, ok)
	}
	if err := tbl.Insert(string(make([]byte, 80)), ""); err == nil {
		t.Error("oversized insert succeeded")
	}
}
