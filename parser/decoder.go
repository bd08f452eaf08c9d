package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
)

var decoder_log = log.NewLog("sio:parser")

// Decoder is the streaming, per-connection half of the codec. Feed it
// frames with Add; it emits a "decoded" event with a *Packet once a
// complete packet (including all binary attachments) is available.
type Decoder interface {
	events.EventEmitter

	Add(any) error
	Destroy()
}

type decoder struct {
	events.EventEmitter

	reconstructor *binaryReconstructor
}

func NewDecoder() Decoder {
	return &decoder{EventEmitter: events.New()}
}

func (d *decoder) Add(data any) error {
	switch frame := data.(type) {
	case string:
		return d.addString(frame)
	case *types.StringBuffer:
		return d.addString(frame.String())
	case []byte:
		return d.addBinary(frame)
	case *types.BytesBuffer:
		return d.addBinary(frame.Bytes())
	}
	return NewProtocolError("unknown frame type")
}

func (d *decoder) addString(data string) error {
	if d.reconstructor != nil {
		return NewProtocolError("got plaintext data when reconstructing a packet")
	}
	packet, err := d.decodeString(data)
	if err != nil {
		return err
	}
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		d.reconstructor = newBinaryReconstructor(packet)
		// no attachments, labeled binary but no binary data to follow
		if *packet.Attachments == 0 {
			d.emitFinished()
		}
		return nil
	}
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) addBinary(data []byte) error {
	if d.reconstructor == nil {
		return NewProtocolError("got binary data when not reconstructing a packet")
	}
	d.reconstructor.buffers = append(d.reconstructor.buffers, data)
	if uint64(len(d.reconstructor.buffers)) == *d.reconstructor.packet.Attachments {
		return d.emitFinished()
	}
	return nil
}

func (d *decoder) emitFinished() error {
	packet, err := ReconstructPacket(d.reconstructor.packet, d.reconstructor.buffers)
	d.reconstructor = nil
	if err != nil {
		return err
	}
	d.Emit("decoded", packet)
	return nil
}

func (d *decoder) decodeString(str string) (*Packet, error) {
	if len(str) == 0 {
		return nil, NewProtocolError("empty packet")
	}
	decoder_log.Debug("decoding string %s", str)

	i := 0

	// packet type
	if str[i] < '0' || str[i] > '0'+byte(BINARY_ACK) {
		return nil, NewProtocolError("unknown packet type %q", str[i])
	}
	packet := &Packet{Type: PacketType(str[i] - '0'), Nsp: "/"}
	i++

	// attachment count
	if packet.Type == BINARY_EVENT || packet.Type == BINARY_ACK {
		start := i
		for i < len(str) && str[i] >= '0' && str[i] <= '9' {
			i++
		}
		if i == start || i == len(str) || str[i] != '-' {
			return nil, NewProtocolError("illegal attachments")
		}
		if str[start] == '0' && i-start > 1 {
			return nil, NewProtocolError("illegal attachments")
		}
		attachments, err := strconv.ParseUint(str[start:i], 10, 64)
		if err != nil {
			return nil, NewProtocolError("illegal attachments")
		}
		packet.Attachments = &attachments
		i++
	}

	// namespace
	if i < len(str) && str[i] == '/' {
		if end := strings.IndexByte(str[i:], ','); end >= 0 {
			packet.Nsp = str[i : i+end]
			i += end + 1
		} else {
			packet.Nsp = str[i:]
			i = len(str)
		}
	}

	// ack id
	if start := i; i < len(str) && str[i] >= '0' && str[i] <= '9' {
		for i < len(str) && str[i] >= '0' && str[i] <= '9' {
			i++
		}
		if str[start] == '0' && i-start > 1 {
			return nil, NewProtocolError("malformed ack id")
		}
		id, err := strconv.ParseUint(str[start:i], 10, 64)
		if err != nil {
			return nil, NewProtocolError("malformed ack id")
		}
		packet.Id = &id
	}

	// json payload
	if i < len(str) {
		var data any
		if err := json.Unmarshal([]byte(str[i:]), &data); err != nil {
			return nil, NewProtocolError("invalid payload")
		}
		packet.Data = data
	}

	if !isPayloadValid(packet.Type, packet.Data) {
		return nil, NewProtocolError("invalid payload for %s packet", packet.Type)
	}
	decoder_log.Debug("decoded %s as %v", str, packet)
	return packet, nil
}

// Destroy drops any in-progress reassembly state.
func (d *decoder) Destroy() {
	d.reconstructor = nil
	d.Clear()
}

type binaryReconstructor struct {
	packet  *Packet
	buffers [][]byte
}

func newBinaryReconstructor(packet *Packet) *binaryReconstructor {
	return &binaryReconstructor{packet: packet, buffers: [][]byte{}}
}
