package mpparser

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/evsio/evsio/parser"
)

func TestRoundTrip(t *testing.T) {
	p := NewParser()
	id := uint64(7)
	frames, err := p.NewEncoder().Encode(&parser.Packet{
		Type: parser.EVENT,
		Nsp:  "/chat",
		Id:   &id,
		Data: []any{"upload", []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected a single binary frame, got %d", len(frames))
	}

	decoder := p.NewDecoder()
	var decoded *parser.Packet
	decoder.On("decoded", func(args ...any) {
		decoded = args[0].(*parser.Packet)
	})
	if err := decoder.Add(frames[0]); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded == nil {
		t.Fatal("no packet decoded")
	}
	if decoded.Type != parser.BINARY_EVENT {
		t.Fatalf("binary payload should promote the type, got %v", decoded.Type)
	}
	if decoded.Nsp != "/chat" || decoded.Id == nil || *decoded.Id != 7 {
		t.Fatalf("unexpected packet %+v", decoded)
	}
	data := decoded.Data.([]any)
	if data[0] != "upload" {
		t.Fatalf("unexpected event name %v", data[0])
	}
	if raw, ok := data[1].([]byte); !ok || string(raw) != "\x01\x02\x03" {
		t.Fatalf("binary argument not restored: %v", data[1])
	}
}

func TestRejectsMalformedFrames(t *testing.T) {
	decoder := NewParser().NewDecoder()
	decoder.On("decoded", func(...any) {
		t.Fatal("nothing should decode")
	})
	if err := decoder.Add([]byte{0xc1}); err == nil {
		t.Fatal("expected an error for an invalid msgpack frame")
	}
}

func TestDecoderRejectsReservedEvent(t *testing.T) {
	raw, err := msgpack.Marshal(&parser.Packet{
		Type: parser.EVENT,
		Nsp:  "/",
		Data: []any{"disconnect"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoder := NewParser().NewDecoder()
	decoder.On("decoded", func(...any) {
		t.Fatal("reserved event should not decode")
	})
	if err := decoder.Add(raw); err == nil {
		t.Fatal("expected an error for a reserved event name")
	}
}
