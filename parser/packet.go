package parser

import (
	"fmt"

	"github.com/evsio/evsio/types"
)

type PacketType byte

const (
	CONNECT PacketType = iota
	DISCONNECT
	EVENT
	ACK
	CONNECT_ERROR
	BINARY_EVENT
	BINARY_ACK
)

func (t PacketType) Valid() bool {
	return t <= BINARY_ACK
}

func (t PacketType) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case DISCONNECT:
		return "DISCONNECT"
	case EVENT:
		return "EVENT"
	case ACK:
		return "ACK"
	case CONNECT_ERROR:
		return "CONNECT_ERROR"
	case BINARY_EVENT:
		return "BINARY_EVENT"
	case BINARY_ACK:
		return "BINARY_ACK"
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(t))
}

// Packet is one application-level packet. Id is present iff the emission
// expects or carries an acknowledgement; Attachments iff Type is BINARY_*.
type Packet struct {
	Type        PacketType `json:"type" msgpack:"type"`
	Nsp         string     `json:"nsp" msgpack:"nsp"`
	Id          *uint64    `json:"id,omitempty" msgpack:"id,omitempty"`
	Data        any        `json:"data,omitempty" msgpack:"data,omitempty"`
	Attachments *uint64    `json:"attachments,omitempty" msgpack:"attachments,omitempty"`
}

// ReservedEvents are the event names that must never appear as the head of
// an EVENT packet. They are rejected at encode and at decode.
var ReservedEvents = types.NewSet(
	"connect",
	"connect_error",
	"disconnect",
	"disconnecting",
	"newListener",
	"removeListener",
)

// ProtocolError reports malformed wire data or a packet that violates the
// shape invariants of its type.
type ProtocolError struct {
	msg string
}

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	return e.msg
}

// isPayloadValid checks the data shape invariants for a given packet type.
func isPayloadValid(t PacketType, data any) bool {
	switch t {
	case CONNECT:
		if data == nil {
			return true
		}
		_, ok := data.(map[string]any)
		return ok
	case DISCONNECT:
		return data == nil
	case EVENT, BINARY_EVENT:
		args, ok := data.([]any)
		if !ok || len(args) == 0 {
			return false
		}
		head, ok := args[0].(string)
		return ok && !ReservedEvents.Has(head)
	case ACK, BINARY_ACK:
		_, ok := data.([]any)
		return ok
	case CONNECT_ERROR:
		switch data.(type) {
		case string, map[string]any:
			return true
		}
		return false
	}
	return false
}
