package parser

import (
	"encoding/json"
	"strconv"

	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
)

var encoder_log = log.NewLog("sio:parser")

type Encoder interface {
	// Encode turns a packet into one text frame followed by zero or more
	// binary frames (the attachments, in placeholder order).
	Encode(*Packet) ([]types.BufferInterface, error)
}

type encoder struct{}

func NewEncoder() Encoder {
	return &encoder{}
}

func (e *encoder) Encode(packet *Packet) ([]types.BufferInterface, error) {
	if packet == nil || !packet.Type.Valid() {
		return nil, NewProtocolError("invalid packet type")
	}
	encoder_log.Debug("encoding packet %v", packet)

	if packet.Type == EVENT || packet.Type == ACK {
		if HasBinary(packet.Data) {
			if packet.Type == EVENT {
				packet.Type = BINARY_EVENT
			} else {
				packet.Type = BINARY_ACK
			}
		}
	}

	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		return e.encodeAsBinary(packet)
	}

	if !isPayloadValid(packet.Type, packet.Data) {
		return nil, NewProtocolError("invalid payload for %s packet", packet.Type)
	}
	str, err := e.encodeAsString(packet)
	if err != nil {
		return nil, err
	}
	return []types.BufferInterface{str}, nil
}

func (e *encoder) encodeAsString(packet *Packet) (*types.StringBuffer, error) {
	str := types.NewStringBuffer()

	// packet type
	str.WriteByte('0' + byte(packet.Type))

	// attachment count before the data
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		attachments := uint64(0)
		if packet.Attachments != nil {
			attachments = *packet.Attachments
		}
		str.WriteString(strconv.FormatUint(attachments, 10))
		str.WriteByte('-')
	}

	// the root namespace is implicit
	if packet.Nsp != "" && packet.Nsp != "/" {
		str.WriteString(packet.Nsp)
		str.WriteByte(',')
	}

	if packet.Id != nil {
		str.WriteString(strconv.FormatUint(*packet.Id, 10))
	}

	if packet.Data != nil {
		data, err := json.Marshal(packet.Data)
		if err != nil {
			return nil, NewProtocolError("unencodable packet data: %s", err.Error())
		}
		str.Write(data)
	}

	encoder_log.Debug("encoded packet as %s", str.String())
	return str, nil
}

func (e *encoder) encodeAsBinary(packet *Packet) ([]types.BufferInterface, error) {
	pack, buffers, err := DeconstructPacket(packet)
	if err != nil {
		return nil, err
	}
	if !isPayloadValid(pack.Type, pack.Data) {
		return nil, NewProtocolError("invalid payload for %s packet", pack.Type)
	}
	str, err := e.encodeAsString(pack)
	if err != nil {
		return nil, err
	}
	frames := []types.BufferInterface{str}
	for _, buffer := range buffers {
		frames = append(frames, types.NewBytesBuffer(buffer))
	}
	return frames, nil
}
