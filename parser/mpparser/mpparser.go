// Package mpparser is a drop-in Parser that puts the whole packet,
// binary attachments included, into a single MessagePack frame. Useful
// when payloads are mostly binary and the placeholder round-trip of the
// default codec is wasted work.
package mpparser

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

var mpparser_log = log.NewLog("sio:mpparser")

type mpParser struct{}

func NewParser() parser.Parser {
	return &mpParser{}
}

func (*mpParser) NewEncoder() parser.Encoder {
	return &encoder{}
}

func (*mpParser) NewDecoder() parser.Decoder {
	return &decoder{EventEmitter: events.New()}
}

type encoder struct{}

func (e *encoder) Encode(packet *parser.Packet) ([]types.BufferInterface, error) {
	if packet == nil || !packet.Type.Valid() {
		return nil, parser.NewProtocolError("invalid packet type")
	}
	// binary payloads need no placeholder dance here, but the type is
	// still promoted so both peers agree on the packet class
	if packet.Type == parser.EVENT && parser.HasBinary(packet.Data) {
		packet.Type = parser.BINARY_EVENT
	} else if packet.Type == parser.ACK && parser.HasBinary(packet.Data) {
		packet.Type = parser.BINARY_ACK
	}
	mpparser_log.Debug("encoding packet %v", packet)
	data, err := msgpack.Marshal(packet)
	if err != nil {
		return nil, parser.NewProtocolError("unencodable packet data: %s", err.Error())
	}
	return []types.BufferInterface{types.NewBytesBuffer(data)}, nil
}

type decoder struct {
	events.EventEmitter
}

func (d *decoder) Add(data any) error {
	var raw []byte
	switch frame := data.(type) {
	case []byte:
		raw = frame
	case *types.BytesBuffer:
		raw = frame.Bytes()
	case string:
		raw = []byte(frame)
	case *types.StringBuffer:
		raw = frame.Bytes()
	default:
		return parser.NewProtocolError("unknown frame type")
	}
	var packet parser.Packet
	if err := msgpack.Unmarshal(raw, &packet); err != nil {
		return parser.NewProtocolError("invalid payload")
	}
	if !packet.Type.Valid() {
		return parser.NewProtocolError("unknown packet type %d", packet.Type)
	}
	if packet.Nsp == "" {
		packet.Nsp = "/"
	}
	if err := validate(&packet); err != nil {
		return err
	}
	d.Emit("decoded", &packet)
	return nil
}

func (d *decoder) Destroy() {
	d.Clear()
}

// validate applies the same shape invariants as the default decoder;
// msgpack decodes maps as map[string]any and arrays as []any so the
// checks line up.
func validate(packet *parser.Packet) error {
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		args, ok := packet.Data.([]any)
		if !ok || len(args) == 0 {
			return parser.NewProtocolError("invalid payload for %s packet", packet.Type)
		}
		head, ok := args[0].(string)
		if !ok || parser.ReservedEvents.Has(head) {
			return parser.NewProtocolError("invalid payload for %s packet", packet.Type)
		}
	case parser.ACK, parser.BINARY_ACK:
		if _, ok := packet.Data.([]any); !ok {
			return parser.NewProtocolError("invalid payload for %s packet", packet.Type)
		}
	case parser.DISCONNECT:
		if packet.Data != nil {
			return parser.NewProtocolError("invalid payload for %s packet", packet.Type)
		}
	}
	return nil
}
