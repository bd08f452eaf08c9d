package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

var namespace_log = log.NewLog("sio:namespace")

// namespaceReservedEvents cannot be emitted as user events from a
// namespace or an operator.
var namespaceReservedEvents = types.NewSet("connect", "connection", "new_namespace")

// Namespace is an isolated communication channel under one name. It
// owns its sessions, its middleware chain, its adapter and its ack id
// sequence. Emits "connect" and "connection" (both *Socket).
type Namespace struct {
	*StrictEventEmitter

	name    string
	server  *Server
	sockets types.Map[SocketId, *Socket]
	adapter Adapter

	fnsMu sync.RWMutex
	fns   []func(*Socket, func(*ExtendedError))

	ids atomic.Uint64

	// set on dynamically created children to reap the namespace once
	// its last session leaves
	cleanup func()
}

func NewNamespace(server *Server, name string) *Namespace {
	n := &Namespace{
		StrictEventEmitter: NewStrictEventEmitter(),
		name:               name,
		server:             server,
	}
	n.adapter = server.Opts().Adapter().New(n)
	n.adapter.Init()
	return n
}

func (n *Namespace) Name() string {
	return n.name
}

func (n *Namespace) Server() *Server {
	return n.server
}

func (n *Namespace) Adapter() Adapter {
	return n.adapter
}

// Sockets is the live session index of this namespace.
func (n *Namespace) Sockets() *types.Map[SocketId, *Socket] {
	return &n.sockets
}

// nextAckId allocates a namespace-scoped acknowledgement id.
func (n *Namespace) nextAckId() uint64 {
	return n.ids.Add(1)
}

// Use registers a connection middleware, run in registration order for
// every incoming connection before it is accepted.
func (n *Namespace) Use(fn func(*Socket, func(*ExtendedError))) *Namespace {
	n.fnsMu.Lock()
	defer n.fnsMu.Unlock()

	n.fns = append(n.fns, fn)
	return n
}

// run folds the middleware chain over one pending connection.
func (n *Namespace) run(socket *Socket, fn func(*ExtendedError)) {
	n.fnsMu.RLock()
	fns := append([]func(*Socket, func(*ExtendedError)){}, n.fns...)
	n.fnsMu.RUnlock()

	if len(fns) == 0 {
		fn(nil)
		return
	}
	var exec func(int)
	exec = func(i int) {
		fns[i](socket, func(err *ExtendedError) {
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

// Add builds the session for an incoming CONNECT and runs it through
// the middleware chain. A recovered session skips the middlewares when
// the server is configured to.
func (n *Namespace) Add(client *Client, auth any, fn func(*Socket)) *Socket {
	namespace_log.Debug("adding socket to nsp %s", n.name)
	socket := n._createSocket(client, auth)

	if recovery := n.server.Opts().GetRawConnectionStateRecovery(); recovery != nil &&
		recovery.SkipMiddlewares() && socket.Recovered() && client.Conn().ReadyState() == "open" {
		n._doConnect(socket, fn)
		return socket
	}

	n.run(socket, func(err *ExtendedError) {
		if client.Conn().ReadyState() != "open" {
			namespace_log.Debug("next called after client was closed - ignoring socket")
			socket._cleanup()
			return
		}
		if err != nil {
			namespace_log.Debug("middleware error, sending CONNECT_ERROR packet to the client")
			socket._cleanup()
			data := map[string]any{"message": err.Error()}
			if err.Data() != nil {
				data["data"] = err.Data()
			}
			socket.packet(&parser.Packet{Type: parser.CONNECT_ERROR, Data: data}, nil)
			return
		}
		n._doConnect(socket, fn)
	})
	return socket
}

func (n *Namespace) _createSocket(client *Client, auth any) *Socket {
	if n.server.Opts().GetRawConnectionStateRecovery() != nil {
		if m, ok := auth.(map[string]any); ok {
			pid, hasPid := m["pid"].(string)
			offset, hasOffset := m["offset"].(string)
			if hasPid && hasOffset {
				session, err := n.adapter.RestoreSession(PrivateSessionId(pid), offset)
				if err == nil && session != nil {
					namespace_log.Debug("connection state recovered for sid %s", session.Sid)
					return NewSocket(n.server, n, client, auth, session)
				}
				namespace_log.Debug("unable to restore session: %v", err)
			}
		}
	}
	return NewSocket(n.server, n, client, auth, nil)
}

func (n *Namespace) _doConnect(socket *Socket, fn func(*Socket)) {
	n.sockets.Store(socket.Id(), socket)

	// the CONNECT reply must go out before any listener emits to the
	// socket
	socket._onconnect()
	if fn != nil {
		fn(socket)
	}
	n.EmitReserved("connect", socket)
	n.EmitReserved("connection", socket)
}

// _remove forgets a session that closed.
func (n *Namespace) _remove(socket *Socket) {
	if _, ok := n.sockets.LoadAndDelete(socket.Id()); !ok {
		namespace_log.Debug("ignoring remove for %s", socket.Id())
		return
	}
	if n.cleanup != nil {
		n.cleanup()
	}
}

// Emit broadcasts an event to every session of the namespace.
func (n *Namespace) Emit(ev string, args ...any) error {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Emit(ev, args...)
}

// EmitWithAck is Emit with the aggregated ack as a trailing
// continuation.
func (n *Namespace) EmitWithAck(ev string, args ...any) func(Ack) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).EmitWithAck(ev, args...)
}

// To targets the given rooms.
func (n *Namespace) To(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).To(rooms...)
}

// In is an alias of To.
func (n *Namespace) In(rooms ...Room) *BroadcastOperator {
	return n.To(rooms...)
}

// Except excludes every session in the given rooms.
func (n *Namespace) Except(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Except(rooms...)
}

func (n *Namespace) Compress(compress bool) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Compress(compress)
}

func (n *Namespace) Volatile() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Volatile()
}

func (n *Namespace) Local() *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Local()
}

func (n *Namespace) Timeout(timeout time.Duration) *BroadcastOperator {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).Timeout(timeout)
}

// Send emits a "message" event to every session.
func (n *Namespace) Send(args ...any) *Namespace {
	n.Emit("message", args...)
	return n
}

func (n *Namespace) Write(args ...any) *Namespace {
	return n.Send(args...)
}

// ServerSideEmit sends an event to the other servers of the cluster.
func (n *Namespace) ServerSideEmit(ev string, args ...any) error {
	return n.adapter.ServerSideEmit(append([]any{ev}, args...))
}

// FetchSockets returns every session of the namespace.
func (n *Namespace) FetchSockets() func(func([]*RemoteSocket, error)) {
	return NewBroadcastOperator(n.adapter, nil, nil, nil).FetchSockets()
}

// SocketsJoin makes every session join the given rooms.
func (n *Namespace) SocketsJoin(rooms ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).SocketsJoin(rooms...)
}

// SocketsLeave makes every session leave the given rooms.
func (n *Namespace) SocketsLeave(rooms ...Room) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).SocketsLeave(rooms...)
}

// DisconnectSockets disconnects every session of the namespace.
func (n *Namespace) DisconnectSockets(status bool) {
	NewBroadcastOperator(n.adapter, nil, nil, nil).DisconnectSockets(status)
}
