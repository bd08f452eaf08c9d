package parser

import (
	"strings"
	"testing"

	"github.com/evsio/evsio/types"
)

func encodeOne(t *testing.T, packet *Packet) string {
	t.Helper()
	frames, err := NewParser().NewEncoder().Encode(packet)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected a single frame, got %d", len(frames))
	}
	return frames[0].String()
}

func decodeOne(t *testing.T, frames ...any) *Packet {
	t.Helper()
	decoder := NewParser().NewDecoder()
	var decoded *Packet
	decoder.On("decoded", func(args ...any) {
		decoded = args[0].(*Packet)
	})
	for _, frame := range frames {
		if err := decoder.Add(frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if decoded == nil {
		t.Fatal("no packet decoded")
	}
	return decoded
}

func TestEncodeConnectRootNamespace(t *testing.T) {
	frame := encodeOne(t, &Packet{Type: CONNECT, Nsp: "/"})
	if frame != "0" {
		t.Fatalf(`expected "0", got %q`, frame)
	}
}

func TestEncodeConnectCustomNamespace(t *testing.T) {
	frame := encodeOne(t, &Packet{Type: CONNECT, Nsp: "/admin"})
	if frame != "0/admin," {
		t.Fatalf(`expected "0/admin,", got %q`, frame)
	}
}

func TestEncodeEventWithAckId(t *testing.T) {
	id := uint64(13)
	frame := encodeOne(t, &Packet{Type: EVENT, Nsp: "/", Id: &id, Data: []any{"ping", "x"}})
	if frame != `213["ping","x"]` {
		t.Fatalf("unexpected frame %q", frame)
	}
}

func TestEventRoundTrip(t *testing.T) {
	frame := encodeOne(t, &Packet{Type: EVENT, Nsp: "/chat", Data: []any{"msg", "hello"}})
	packet := decodeOne(t, frame)
	if packet.Type != EVENT || packet.Nsp != "/chat" {
		t.Fatalf("unexpected packet %+v", packet)
	}
	data := packet.Data.([]any)
	if data[0] != "msg" || data[1] != "hello" {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestDecodeAckId(t *testing.T) {
	packet := decodeOne(t, `3100["done"]`)
	if packet.Type != ACK || packet.Id == nil || *packet.Id != 100 {
		t.Fatalf("unexpected packet %+v", packet)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, frame := range []string{
		"",            // empty
		"9",           // unknown type
		"5-",          // attachments but no payload
		"5abc",        // attachments must be digits
		"5-abc",       // dash before any digit
		"501-[]",      // leading zero in attachments
		"2",           // event without payload
		`2["connect"]`, // reserved event name
		`201[]`,       // leading zero in ack id
		"1[]",         // disconnect carries no payload
		`4[1,2]`,      // connect_error payload must be string or object
	} {
		decoder := NewParser().NewDecoder()
		decoder.On("decoded", func(...any) {
			t.Fatalf("frame %q should not decode", frame)
		})
		if err := decoder.Add(frame); err == nil {
			t.Fatalf("frame %q: expected an error", frame)
		}
	}
}

func TestDecodeRejectsUnexpectedBinary(t *testing.T) {
	decoder := NewParser().NewDecoder()
	if err := decoder.Add([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for binary data without a pending reconstruction")
	}
}

func TestDecodeRejectsTextDuringReconstruction(t *testing.T) {
	decoder := NewParser().NewDecoder()
	if err := decoder.Add(`51-["bin",{"_placeholder":true,"num":0}]`); err != nil {
		t.Fatalf("header frame: %v", err)
	}
	if err := decoder.Add(`2["msg"]`); err == nil || !strings.Contains(err.Error(), "reconstructing") {
		t.Fatalf("expected a reconstruction error, got %v", err)
	}
}

func TestBinaryEventRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	frames, err := NewParser().NewEncoder().Encode(&Packet{
		Type: EVENT,
		Nsp:  "/",
		Data: []any{"upload", payload},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	header := frames[0].String()
	if !strings.HasPrefix(header, "51-") {
		t.Fatalf("expected a BINARY_EVENT header, got %q", header)
	}

	packet := decodeOne(t, header, frames[1].Bytes())
	data := packet.Data.([]any)
	restored, ok := data[1].([]byte)
	if !ok || string(restored) != string(payload) {
		t.Fatalf("binary argument not restored: %v", data[1])
	}
}

func TestHasBinary(t *testing.T) {
	if HasBinary([]any{"ev", "text"}) {
		t.Fatal("plain data reported as binary")
	}
	if !HasBinary([]any{"ev", map[string]any{"file": []byte{1}}}) {
		t.Fatal("nested binary not detected")
	}
	if !HasBinary(types.NewBytesBuffer([]byte{1})) {
		t.Fatal("buffer not detected")
	}
}

func TestReservedEventRejectedOnEncode(t *testing.T) {
	_, err := NewParser().NewEncoder().Encode(&Packet{Type: EVENT, Nsp: "/", Data: []any{"disconnect"}})
	if err == nil {
		t.Fatal("expected an error for a reserved event name")
	}
}

func TestAttachmentCountMustMatch(t *testing.T) {
	decoder := NewParser().NewDecoder()
	var decoded *Packet
	decoder.On("decoded", func(args ...any) {
		decoded = args[0].(*Packet)
	})
	if err := decoder.Add(`52-["ev",{"_placeholder":true,"num":0},{"_placeholder":true,"num":1}]`); err != nil {
		t.Fatalf("header: %v", err)
	}
	if decoded != nil {
		t.Fatal("packet completed before all attachments arrived")
	}
	if err := decoder.Add([]byte{1}); err != nil {
		t.Fatalf("first attachment: %v", err)
	}
	if decoded != nil {
		t.Fatal("packet completed after one of two attachments")
	}
	if err := decoder.Add([]byte{2}); err != nil {
		t.Fatalf("second attachment: %v", err)
	}
	if decoded == nil {
		t.Fatal("packet not completed")
	}
}

func TestDestroyDropsReconstruction(t *testing.T) {
	decoder := NewParser().NewDecoder()
	if err := decoder.Add(`51-["ev",{"_placeholder":true,"num":0}]`); err != nil {
		t.Fatalf("header: %v", err)
	}
	decoder.Destroy()
	if err := decoder.Add([]byte{1}); err == nil {
		t.Fatal("expected an error after Destroy")
	}
}
