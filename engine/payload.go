package engine

import (
	"strings"

	"github.com/evsio/evsio/types"
)

// recordSeparator joins packets inside one long-polling payload.
const recordSeparator = "\x1e"

// EncodePayload concatenates packets for a polling response. Binary
// payloads travel base64-encoded since the whole payload is one text
// body.
func EncodePayload(packets []*Packet) (*types.StringBuffer, error) {
	out := types.NewStringBuffer()
	for i, packet := range packets {
		encoded, err := EncodePacket(packet, false)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out.WriteString(recordSeparator)
		}
		out.Write(encoded.Bytes())
	}
	return out, nil
}

// DecodePayload splits a polling request body back into packets.
func DecodePayload(data string) ([]*Packet, error) {
	if data == "" {
		return nil, ErrInvalidPacketData
	}
	parts := strings.Split(data, recordSeparator)
	packets := make([]*Packet, 0, len(parts))
	for _, part := range parts {
		packet, err := DecodePacket(types.NewStringBufferString(part))
		if err != nil {
			return nil, err
		}
		packets = append(packets, packet)
	}
	return packets, nil
}
