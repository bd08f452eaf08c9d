package socket

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

var socket_log = log.NewLog("sio:socket")

// recoverableDisconnectReasons lists the close reasons after which a
// session may come back through connection state recovery. A deliberate
// disconnect is not one of them.
var recoverableDisconnectReasons = types.NewSet(
	"transport error",
	"transport close",
	"forced close",
	"ping timeout",
	"server shutting down",
	"forced server close",
)

// Handshake is the immutable description of how a session was opened.
type Handshake struct {
	Headers http.Header `json:"headers" msgpack:"headers"`
	Time    string      `json:"time" msgpack:"time"`
	Address string      `json:"address" msgpack:"address"`
	Xdomain bool        `json:"xdomain" msgpack:"xdomain"`
	Secure  bool        `json:"secure" msgpack:"secure"`
	Issued  int64       `json:"issued" msgpack:"issued"`
	Url     string      `json:"url" msgpack:"url"`
	Query   url.Values  `json:"query" msgpack:"query"`
	Auth    any         `json:"auth" msgpack:"auth"`
}

// Socket is one session inside a namespace. It emits the decoded user
// events, plus the reserved "disconnecting", "disconnect" and "error"
// events. User events fired by the application go out through Emit and
// the chaining modifiers (To, Except, Volatile, Timeout, ...).
type Socket struct {
	*StrictEventEmitter

	nsp    *Namespace
	client *Client
	server *Server

	id        SocketId
	pid       PrivateSessionId
	recovered bool
	handshake *Handshake

	connected     atomic.Bool
	acks          types.Map[uint64, Ack]
	missedPackets []any

	mu    sync.Mutex
	data  any
	flags BroadcastFlags
	fns   []func([]any, func(error))

	anyMu        sync.Mutex
	anyListeners []func(...any)
}

func NewSocket(server *Server, nsp *Namespace, client *Client, auth any, previousSession *Session) *Socket {
	s := &Socket{
		StrictEventEmitter: NewStrictEventEmitter(),
		nsp:                nsp,
		client:             client,
		server:             server,
	}
	if previousSession != nil {
		s.id = previousSession.Sid
		s.pid = previousSession.Pid
		s.recovered = true
		s.data = previousSession.Data
		s.missedPackets = previousSession.MissedPackets
		if previousSession.Rooms != nil {
			s.Join(previousSession.Rooms.Keys()...)
		}
	} else {
		id, _ := utils.Base64Id().GenerateId()
		s.id = SocketId(id)
		if server.Opts().GetRawConnectionStateRecovery() != nil {
			pid, _ := utils.Base64Id().GenerateId()
			s.pid = PrivateSessionId(pid)
		}
	}
	s.handshake = s.buildHandshake(auth)
	return s
}

func (s *Socket) buildHandshake(auth any) *Handshake {
	req := s.client.Request()
	now := time.Now()
	return &Handshake{
		Headers: req.Headers,
		Time:    now.Format(time.RFC1123),
		Address: req.RemoteAddr,
		Xdomain: req.Headers.Get("Origin") != "",
		Secure:  req.Secure,
		Issued:  now.UnixMilli(),
		Url:     req.Url,
		Query:   req.Query,
		Auth:    auth,
	}
}

func (s *Socket) Id() SocketId {
	return s.id
}

// Recovered reports whether this session was resurrected from a
// previous one by connection state recovery.
func (s *Socket) Recovered() bool {
	return s.recovered
}

func (s *Socket) Nsp() *Namespace {
	return s.nsp
}

func (s *Socket) Client() *Client {
	return s.client
}

func (s *Socket) Handshake() *Handshake {
	return s.handshake
}

func (s *Socket) Connected() bool {
	return s.connected.Load()
}

func (s *Socket) Data() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data
}

func (s *Socket) SetData(data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = data
}

// Rooms returns the rooms this session is currently in.
func (s *Socket) Rooms() *types.Set[Room] {
	if rooms := s.Adapter().SocketRooms(s.id); rooms != nil {
		return rooms
	}
	return types.NewSet[Room]()
}

func (s *Socket) Adapter() Adapter {
	return s.nsp.Adapter()
}

// Request is the snapshot of the HTTP request that opened the
// underlying connection.
func (s *Socket) Request() *engine.RequestInfo {
	return s.client.Request()
}

// Use registers a middleware over the incoming events of this session,
// running before the event listeners. Passing an error to next drops
// the event and fires "error" instead.
func (s *Socket) Use(fn func([]any, func(error))) *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fns = append(s.fns, fn)
	return s
}

// run folds the event middleware chain over one incoming event.
func (s *Socket) run(event []any, fn func(error)) {
	s.mu.Lock()
	fns := append([]func([]any, func(error)){}, s.fns...)
	s.mu.Unlock()

	if len(fns) == 0 {
		fn(nil)
		return
	}
	var exec func(int)
	exec = func(i int) {
		fns[i](event, func(err error) {
			if err != nil {
				fn(err)
				return
			}
			if i == len(fns)-1 {
				fn(nil)
				return
			}
			exec(i + 1)
		})
	}
	exec(0)
}

// Emit sends an event to this client. An Ack as last argument requests
// an acknowledgement; with a Timeout flag set the ack resolves with
// ErrAckTimeout when the client does not answer in time.
func (s *Socket) Emit(ev string, args ...any) error {
	if parser.ReservedEvents.Has(ev) {
		return fmt.Errorf(`"%s" is a reserved event name`, ev)
	}

	data := append([]any{ev}, args...)
	packet := &parser.Packet{Type: parser.EVENT, Data: data}

	flags := s.consumeFlags()
	if ack, withAck := ackFromArgs(data); withAck {
		packet.Data = data[:len(data)-1]
		id := s.nsp.nextAckId()
		socket_log.Debug("emitting packet with ack id %d", id)
		s.registerAckCallback(id, ack, flags.Timeout)
		packet.Id = &id
	}
	opts := &WriteOptions{}
	opts.Volatile = flags.Volatile
	opts.Compress = flags.Compress
	s.packet(packet, opts)
	return nil
}

// EmitWithAck is Emit with the ack as a trailing continuation.
func (s *Socket) EmitWithAck(ev string, args ...any) func(Ack) {
	return func(ack Ack) {
		s.Emit(ev, append(args, ack)...)
	}
}

func (s *Socket) registerAckCallback(id uint64, ack Ack, timeout *time.Duration) {
	if timeout == nil {
		s.acks.Store(id, ack)
		return
	}
	timer := utils.SetTimeout(func() {
		if _, ok := s.acks.LoadAndDelete(id); ok {
			socket_log.Debug("event with ack id %d has timed out", id)
			ack(nil, ErrAckTimeout)
		}
	}, *timeout)
	s.acks.Store(id, func(args []any, err error) {
		utils.ClearTimeout(timer)
		ack(args, err)
	})
}

func (s *Socket) consumeFlags() BroadcastFlags {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := s.flags
	s.flags = BroadcastFlags{}
	return flags
}

// Timeout sets the ack deadline of the next emission.
func (s *Socket) Timeout(timeout time.Duration) *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags.Timeout = &timeout
	return s
}

// Volatile marks the next emission as droppable when the transport is
// not ready to write.
func (s *Socket) Volatile() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags.Volatile = true
	return s
}

// Compress sets the compression hint of the next emission.
func (s *Socket) Compress(compress bool) *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags.Compress = compress
	return s
}

// To targets a broadcast at the given rooms, excluding this session.
func (s *Socket) To(rooms ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().To(rooms...)
}

// In is an alias of To.
func (s *Socket) In(rooms ...Room) *BroadcastOperator {
	return s.To(rooms...)
}

// Except excludes the given rooms from the broadcast, on top of this
// session itself.
func (s *Socket) Except(rooms ...Room) *BroadcastOperator {
	return s.newBroadcastOperator().Except(rooms...)
}

// Broadcast targets every other session of the namespace.
func (s *Socket) Broadcast() *BroadcastOperator {
	return s.newBroadcastOperator()
}

// Local keeps the broadcast on this node of a clustered adapter.
func (s *Socket) Local() *BroadcastOperator {
	return s.newBroadcastOperator().Local()
}

func (s *Socket) newBroadcastOperator() *BroadcastOperator {
	flags := s.consumeFlags()
	return NewBroadcastOperator(s.Adapter(), nil, types.NewSet(Room(s.id)), &flags)
}

// Send emits a "message" event.
func (s *Socket) Send(args ...any) *Socket {
	s.Emit("message", args...)
	return s
}

func (s *Socket) Write(args ...any) *Socket {
	return s.Send(args...)
}

// packet stamps the namespace on the packet and writes it out.
func (s *Socket) packet(packet *parser.Packet, opts *WriteOptions) {
	packet.Nsp = s.nsp.Name()
	s.client._packet(packet, opts)
}

// Join adds this session to the given rooms (idempotent).
func (s *Socket) Join(rooms ...Room) {
	socket_log.Debug("join room %v", rooms)
	s.Adapter().AddAll(s.id, types.NewSet(rooms...))
}

// Leave removes this session from a room.
func (s *Socket) Leave(room Room) {
	socket_log.Debug("leave room %s", room)
	s.Adapter().Del(s.id, room)
}

func (s *Socket) leaveAll() {
	s.Adapter().DelAll(s.id)
}

// _onconnect finalizes the connection: the session joins its own room
// (and the recovered rooms), the CONNECT reply goes out, and for a
// recovered session the missed packets are replayed in order.
func (s *Socket) _onconnect() {
	socket_log.Debug("socket connected - writing packet")
	s.connected.Store(true)
	s.Join(Room(s.id))

	data := map[string]any{"sid": s.id}
	if s.pid != "" {
		data["pid"] = s.pid
	}
	s.packet(&parser.Packet{Type: parser.CONNECT, Data: data}, nil)

	for _, missed := range s.missedPackets {
		s.packet(&parser.Packet{Type: parser.EVENT, Data: missed}, nil)
	}
	s.missedPackets = nil
}

// _onpacket routes one decoded packet of this namespace.
func (s *Socket) _onpacket(packet *parser.Packet) {
	socket_log.Debug("got packet type %d", packet.Type)
	switch packet.Type {
	case parser.EVENT, parser.BINARY_EVENT:
		s.onevent(packet)
	case parser.ACK, parser.BINARY_ACK:
		s.onack(packet)
	case parser.DISCONNECT:
		s.ondisconnect()
	case parser.CONNECT_ERROR:
		s._onerror(connectErrorToError(packet.Data))
	}
}

func connectErrorToError(data any) error {
	switch v := data.(type) {
	case string:
		return NewExtendedError(v, nil)
	case map[string]any:
		message, _ := v["message"].(string)
		return NewExtendedError(message, v["data"])
	default:
		return NewExtendedError("connect error", data)
	}
}

func (s *Socket) onevent(packet *parser.Packet) {
	args, ok := packet.Data.([]any)
	if !ok || len(args) == 0 {
		s._onerror(NewExtendedError("invalid event payload", packet.Data))
		return
	}
	if packet.Id != nil {
		socket_log.Debug("attaching ack callback to event")
		args = append(args, s.ack(*packet.Id))
	}
	s.dispatch(args)
}

// ack builds the reply callback handed to event listeners; replying
// more than once is a no-op.
func (s *Socket) ack(id uint64) Ack {
	var sent atomic.Bool
	return func(args []any, _ error) {
		if !sent.CompareAndSwap(false, true) {
			return
		}
		socket_log.Debug("sending ack %v", args)
		s.packet(&parser.Packet{Type: parser.ACK, Id: &id, Data: args}, nil)
	}
}

func (s *Socket) onack(packet *parser.Packet) {
	if packet.Id == nil {
		socket_log.Debug("bad ack: missing id")
		return
	}
	ack, ok := s.acks.LoadAndDelete(*packet.Id)
	if !ok {
		socket_log.Debug("bad ack %d", *packet.Id)
		return
	}
	socket_log.Debug("calling ack %d", *packet.Id)
	args, _ := packet.Data.([]any)
	ack(args, nil)
}

// dispatch runs the event middleware then the listeners.
func (s *Socket) dispatch(event []any) {
	socket_log.Debug("dispatching an event %v", event[0])
	s.run(event, func(err error) {
		if err != nil {
			s._onerror(err)
			return
		}
		if !s.connected.Load() {
			socket_log.Debug("ignore packet received after disconnection")
			return
		}
		ev, ok := event[0].(string)
		if !ok {
			s._onerror(NewExtendedError("event name is not a string", event[0]))
			return
		}
		s.notifyAnyListeners(ev, event[1:]...)
		s.EmitUntyped(ev, event[1:]...)
	})
}

// OnAny registers a catch-all listener called for every incoming event,
// with the event name as first argument.
func (s *Socket) OnAny(listener func(...any)) *Socket {
	s.anyMu.Lock()
	defer s.anyMu.Unlock()

	s.anyListeners = append(s.anyListeners, listener)
	return s
}

// OffAny removes a catch-all listener, or all of them when nil.
func (s *Socket) OffAny(listener func(...any)) *Socket {
	s.anyMu.Lock()
	defer s.anyMu.Unlock()

	if listener == nil {
		s.anyListeners = nil
		return s
	}
	p := fmt.Sprintf("%p", listener)
	for i, l := range s.anyListeners {
		if fmt.Sprintf("%p", l) == p {
			s.anyListeners = append(s.anyListeners[:i], s.anyListeners[i+1:]...)
			break
		}
	}
	return s
}

func (s *Socket) ListenersAny() []func(...any) {
	s.anyMu.Lock()
	defer s.anyMu.Unlock()

	return append([]func(...any){}, s.anyListeners...)
}

func (s *Socket) notifyAnyListeners(ev string, args ...any) {
	for _, listener := range s.ListenersAny() {
		listener(append([]any{ev}, args...)...)
	}
}

func (s *Socket) ondisconnect() {
	socket_log.Debug("got disconnect packet")
	s._onclose("client namespace disconnect")
}

func (s *Socket) _onerror(err error) {
	if s.ListenerCount("error") > 0 {
		s.EmitReserved("error", err)
	} else {
		socket_log.Error("socket error: %v", err)
	}
}

// _onclose tears the session down. Called on an inbound DISCONNECT, a
// server-side Disconnect, or the close of the underlying connection.
func (s *Socket) _onclose(reason string) {
	if !s.connected.Load() {
		return
	}
	socket_log.Debug("closing socket - reason %s", reason)
	s.EmitReserved("disconnecting", reason)

	if s.server.Opts().GetRawConnectionStateRecovery() != nil && recoverableDisconnectReasons.Has(reason) {
		socket_log.Debug("persisting session %s", s.id)
		s.Adapter().PersistSession(&SessionToPersist{
			Sid:   s.id,
			Pid:   s.pid,
			Rooms: types.NewSet(s.Rooms().Keys()...),
			Data:  s.Data(),
		})
	}

	// outstanding acks will never be answered
	s.acks.Range(func(id uint64, ack Ack) bool {
		s.acks.Delete(id)
		ack(nil, ErrSocketDisconnected)
		return true
	})

	s._cleanup()
	s.client._remove(s)
	s.connected.Store(false)
	s.EmitReserved("disconnect", reason)
}

func (s *Socket) _cleanup() {
	s.leaveAll()
	s.nsp._remove(s)
}

// Disconnect closes this session; with status true the whole underlying
// connection goes down, otherwise only this namespace is left.
func (s *Socket) Disconnect(status bool) *Socket {
	if !s.connected.Load() {
		return s
	}
	if status {
		s.client._disconnect()
		return s
	}
	s.packet(&parser.Packet{Type: parser.DISCONNECT}, nil)
	s._onclose("server namespace disconnect")
	return s
}
