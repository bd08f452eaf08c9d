package engine

import (
	"encoding/base64"

	"github.com/evsio/evsio/types"
)

// PacketType is a transport-level packet discriminator.
type PacketType string

const (
	OPEN    PacketType = "open"
	CLOSE   PacketType = "close"
	PING    PacketType = "ping"
	PONG    PacketType = "pong"
	MESSAGE PacketType = "message"
	UPGRADE PacketType = "upgrade"
	NOOP    PacketType = "noop"
)

var (
	packetTypeChars = map[PacketType]byte{
		OPEN:    '0',
		CLOSE:   '1',
		PING:    '2',
		PONG:    '3',
		MESSAGE: '4',
		UPGRADE: '5',
		NOOP:    '6',
	}
	packetTypes = map[byte]PacketType{
		'0': OPEN,
		'1': CLOSE,
		'2': PING,
		'3': PONG,
		'4': MESSAGE,
		'5': UPGRADE,
		'6': NOOP,
	}
)

// PacketOptions carries per-write hints down to the transport.
type PacketOptions struct {
	Compress bool `json:"compress" msgpack:"compress"`
}

// Packet is one transport-level packet. Data may be nil for control
// packets.
type Packet struct {
	Type    PacketType
	Data    types.BufferInterface
	Options *PacketOptions
}

// EncodePacket serializes a packet for a transport. Binary payloads stay
// raw when the transport supports binary frames; otherwise they are
// base64-encoded behind a "b" marker. Text packets are the type char
// followed by the payload.
func EncodePacket(packet *Packet, supportsBinary bool) (types.BufferInterface, error) {
	char, ok := packetTypeChars[packet.Type]
	if !ok {
		return nil, ErrInvalidPacketType
	}
	if data, isBinary := packet.Data.(*types.BytesBuffer); isBinary {
		if supportsBinary {
			// over a binary frame the message type is implicit
			return types.NewBytesBuffer(data.Bytes()), nil
		}
		out := types.NewStringBufferString("b")
		out.WriteString(base64.StdEncoding.EncodeToString(data.Bytes()))
		return out, nil
	}
	out := types.NewStringBuffer()
	out.WriteByte(char)
	if packet.Data != nil {
		out.Write(packet.Data.Bytes())
	}
	return out, nil
}

// DecodePacket parses a single transport frame. Binary frames are always
// message packets.
func DecodePacket(data types.BufferInterface) (*Packet, error) {
	if raw, isBinary := data.(*types.BytesBuffer); isBinary {
		return &Packet{Type: MESSAGE, Data: types.NewBytesBuffer(raw.Bytes())}, nil
	}
	str := data.String()
	if len(str) == 0 {
		return nil, ErrInvalidPacketData
	}
	if str[0] == 'b' {
		decoded, err := base64.StdEncoding.DecodeString(str[1:])
		if err != nil {
			return nil, ErrInvalidPacketData
		}
		return &Packet{Type: MESSAGE, Data: types.NewBytesBuffer(decoded)}, nil
	}
	packetType, ok := packetTypes[str[0]]
	if !ok {
		return nil, ErrInvalidPacketType
	}
	return &Packet{Type: packetType, Data: types.NewStringBufferString(str[1:])}, nil
}
