package engine

import (
	"testing"

	"github.com/evsio/evsio/types"
)

func TestEncodeTextPacket(t *testing.T) {
	out, err := EncodePacket(&Packet{Type: MESSAGE, Data: types.NewStringBufferString("hello")}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out.String() != "4hello" {
		t.Fatalf("unexpected frame %q", out.String())
	}
}

func TestEncodeControlPacket(t *testing.T) {
	out, err := EncodePacket(&Packet{Type: PING}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out.String() != "2" {
		t.Fatalf("unexpected frame %q", out.String())
	}
}

func TestEncodeBinaryPacket(t *testing.T) {
	data := types.NewBytesBuffer([]byte{1, 2, 3})

	raw, err := EncodePacket(&Packet{Type: MESSAGE, Data: data}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, ok := raw.(*types.BytesBuffer); !ok {
		t.Fatal("binary transport should keep the payload raw")
	}

	b64, err := EncodePacket(&Packet{Type: MESSAGE, Data: data}, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b64.String() != "bAQID" {
		t.Fatalf("unexpected base64 frame %q", b64.String())
	}
}

func TestDecodePacket(t *testing.T) {
	packet, err := DecodePacket(types.NewStringBufferString("4hello"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if packet.Type != MESSAGE || packet.Data.String() != "hello" {
		t.Fatalf("unexpected packet %v %q", packet.Type, packet.Data.String())
	}

	packet, err = DecodePacket(types.NewStringBufferString("bAQID"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if packet.Type != MESSAGE || string(packet.Data.Bytes()) != "\x01\x02\x03" {
		t.Fatal("base64 frame not restored")
	}

	packet, err = DecodePacket(types.NewBytesBuffer([]byte{9}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if packet.Type != MESSAGE {
		t.Fatal("binary frames are always message packets")
	}

	if _, err := DecodePacket(types.NewStringBufferString("")); err == nil {
		t.Fatal("empty frame should not decode")
	}
	if _, err := DecodePacket(types.NewStringBufferString("9")); err == nil {
		t.Fatal("unknown type should not decode")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := EncodePayload([]*Packet{
		{Type: MESSAGE, Data: types.NewStringBufferString("first")},
		{Type: MESSAGE, Data: types.NewBytesBuffer([]byte{1, 2})},
		{Type: PING},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if payload.String() != "4first\x1ebAQI=\x1e2" {
		t.Fatalf("unexpected payload %q", payload.String())
	}

	packets, err := DecodePayload(payload.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(packets))
	}
	if packets[0].Data.String() != "first" {
		t.Fatalf("unexpected first packet %q", packets[0].Data.String())
	}
	if string(packets[1].Data.Bytes()) != "\x01\x02" {
		t.Fatal("binary packet not restored")
	}
	if packets[2].Type != PING {
		t.Fatalf("unexpected third packet %v", packets[2].Type)
	}
}

func TestDecodePayloadRejectsEmpty(t *testing.T) {
	if _, err := DecodePayload(""); err == nil {
		t.Fatal("empty payload should not decode")
	}
}
