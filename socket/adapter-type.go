package socket

import (
	"time"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

type (
	// SocketId is the public session id, sent to the client on connect and
	// usable for direct addressing (every socket is in a room named after
	// its own id).
	SocketId string

	// PrivateSessionId is the private id used for connection state
	// recovery; it stays stable across a brief disconnection window and
	// is never shared with other clients.
	PrivateSessionId string

	// Room names a multicast target inside a namespace.
	Room string

	// Ack is an acknowledgement callback. Exactly one of the two
	// outcomes is delivered, exactly once: the responder's arguments, or
	// an error (timeout or disconnection).
	Ack = func([]any, error)

	// WriteOptions carries per-write hints down to the transport.
	WriteOptions struct {
		engine.PacketOptions

		Volatile   bool `json:"volatile" msgpack:"volatile"`
		PreEncoded bool `json:"preEncoded" msgpack:"preEncoded"`
	}

	// BroadcastFlags are the modifiers accumulated by operator chaining.
	BroadcastFlags struct {
		WriteOptions

		Local   bool           `json:"local" msgpack:"local"`
		Binary  bool           `json:"binary" msgpack:"binary"`
		Timeout *time.Duration `json:"timeout,omitempty" msgpack:"timeout,omitempty"`

		ExpectSingleResponse bool `json:"expectSingleResponse" msgpack:"expectSingleResponse"`
	}

	// BroadcastOptions is the immutable broadcast intent handed to the
	// adapter: target rooms, excluded rooms or sids, and flags.
	BroadcastOptions struct {
		Rooms  *types.Set[Room] `json:"rooms,omitempty" msgpack:"rooms,omitempty"`
		Except *types.Set[Room] `json:"except,omitempty" msgpack:"except,omitempty"`
		Flags  *BroadcastFlags  `json:"flags,omitempty" msgpack:"flags,omitempty"`
	}

	// SessionToPersist is the part of a session that survives a
	// disconnection when connection state recovery is enabled.
	SessionToPersist struct {
		Sid   SocketId         `json:"sid" msgpack:"sid"`
		Pid   PrivateSessionId `json:"pid" msgpack:"pid"`
		Rooms *types.Set[Room] `json:"rooms,omitempty" msgpack:"rooms,omitempty"`
		Data  any              `json:"data" msgpack:"data"`
	}

	// Session is a restored session plus the packets the client missed.
	Session struct {
		*SessionToPersist

		MissedPackets []any `json:"missedPackets" msgpack:"missedPackets"`
	}

	SessionWithTimestamp struct {
		*SessionToPersist

		DisconnectedAt int64 `json:"disconnectedAt" msgpack:"disconnectedAt"`
	}

	// PersistedPacket is one broadcast retained for recovery, keyed by
	// its monotonic offset.
	PersistedPacket struct {
		Id        string            `json:"id" msgpack:"id"`
		EmittedAt int64             `json:"emittedAt" msgpack:"emittedAt"`
		Data      any               `json:"data" msgpack:"data"`
		Opts      *BroadcastOptions `json:"opts,omitempty" msgpack:"opts,omitempty"`
	}

	// SocketDetails is the read-only view of a socket exposed by
	// FetchSockets.
	SocketDetails interface {
		Id() SocketId
		Handshake() *Handshake
		Rooms() *types.Set[Room]
		Data() any
	}

	// Adapter is the room index and broadcast planner of one namespace.
	// The in-memory implementation is single-node; a clustered adapter
	// implements the same interface. Emits "create-room", "join-room",
	// "leave-room" and "delete-room".
	Adapter interface {
		events.EventEmitter

		Init()
		Close()

		Rooms() *types.Map[Room, *types.Set[SocketId]]
		Sids() *types.Map[SocketId, *types.Set[Room]]
		Nsp() *Namespace

		// ServerCount returns the number of cooperating servers (1 in
		// single-node mode).
		ServerCount() int64

		AddAll(SocketId, *types.Set[Room])
		Del(SocketId, Room)
		DelAll(SocketId)

		Broadcast(*parser.Packet, *BroadcastOptions)

		// BroadcastWithAck assigns one namespace-scoped ack id to the
		// packet, registers ack in every target session, sends, then
		// reports the number of expected responses through
		// clientCountCallback. With no targets, no id is allocated and
		// the count callback fires with zero.
		BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, clientCountCallback func(uint64), ack Ack)

		Sockets(*types.Set[Room]) *types.Set[SocketId]
		SocketRooms(SocketId) *types.Set[Room]

		FetchSockets(*BroadcastOptions) func(func([]SocketDetails, error))
		AddSockets(*BroadcastOptions, []Room)
		DelSockets(*BroadcastOptions, []Room)
		DisconnectSockets(*BroadcastOptions, bool)

		// ServerSideEmit sends to the other servers of the cluster.
		ServerSideEmit([]any) error

		PersistSession(*SessionToPersist)
		RestoreSession(PrivateSessionId, string) (*Session, error)
	}

	AdapterConstructor interface {
		New(*Namespace) Adapter
	}
)
