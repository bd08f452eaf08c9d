package socket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

// BroadcastOperator is an immutable view over a namespace's adapter:
// each chaining method returns a new operator, so a configured chain can
// be stored and shared safely.
type BroadcastOperator struct {
	adapter Adapter
	rooms   *types.Set[Room]
	except  *types.Set[Room]
	flags   *BroadcastFlags
}

func NewBroadcastOperator(adapter Adapter, rooms *types.Set[Room], except *types.Set[Room], flags *BroadcastFlags) *BroadcastOperator {
	if rooms == nil {
		rooms = types.NewSet[Room]()
	}
	if except == nil {
		except = types.NewSet[Room]()
	}
	if flags == nil {
		flags = &BroadcastFlags{}
	}
	return &BroadcastOperator{adapter: adapter, rooms: rooms, except: except, flags: flags}
}

// To targets the given rooms (OR semantics, each client hit once).
func (b *BroadcastOperator) To(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(b.adapter, types.NewSet(b.rooms.Keys()...).Add(rooms...), b.except, b.flags)
}

// In is an alias of To.
func (b *BroadcastOperator) In(rooms ...Room) *BroadcastOperator {
	return b.To(rooms...)
}

// Except excludes every client in the given rooms. A socket id is a
// valid argument, since every socket is in a room named after its id.
func (b *BroadcastOperator) Except(rooms ...Room) *BroadcastOperator {
	return NewBroadcastOperator(b.adapter, b.rooms, types.NewSet(b.except.Keys()...).Add(rooms...), b.flags)
}

// Compress asks the transport to compress the frames of this emission.
func (b *BroadcastOperator) Compress(compress bool) *BroadcastOperator {
	flags := *b.flags
	flags.Compress = compress
	return NewBroadcastOperator(b.adapter, b.rooms, b.except, &flags)
}

// Volatile allows this emission to be dropped for any recipient whose
// transport is not ready to write.
func (b *BroadcastOperator) Volatile() *BroadcastOperator {
	flags := *b.flags
	flags.Volatile = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.except, &flags)
}

// Local keeps this emission on the current node of a clustered adapter.
func (b *BroadcastOperator) Local() *BroadcastOperator {
	flags := *b.flags
	flags.Local = true
	return NewBroadcastOperator(b.adapter, b.rooms, b.except, &flags)
}

// Timeout sets the deadline for the acknowledgements of the next
// emission.
func (b *BroadcastOperator) Timeout(timeout time.Duration) *BroadcastOperator {
	flags := *b.flags
	flags.Timeout = &timeout
	return NewBroadcastOperator(b.adapter, b.rooms, b.except, &flags)
}

// Emit sends an event to every matching client. When the last argument
// is an Ack, the responses of all recipients are aggregated and the ack
// fires once, with the partial list and ErrAckTimeout past the deadline.
func (b *BroadcastOperator) Emit(ev string, args ...any) error {
	if parser.ReservedEvents.Has(ev) || namespaceReservedEvents.Has(ev) {
		return fmt.Errorf(`"%s" is a reserved event name`, ev)
	}

	data := append([]any{ev}, args...)
	opts := &BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: b.flags}

	ack, withAck := ackFromArgs(data)
	if !withAck {
		packet := &parser.Packet{Type: parser.EVENT, Data: data}
		b.adapter.Broadcast(packet, opts)
		return nil
	}
	data = data[:len(data)-1]
	packet := &parser.Packet{Type: parser.EVENT, Data: data}

	var (
		mu        sync.Mutex
		responses []any

		expectedServerCount int64 = -1
		actualServerCount   atomic.Int64
		expectedClientCount atomic.Uint64

		done  atomic.Bool
		timer *utils.Timer
	)

	checkCompleteness := func() {
		mu.Lock()
		complete := atomic.LoadInt64(&expectedServerCount) == actualServerCount.Load() &&
			uint64(len(responses)) == expectedClientCount.Load()
		out := responses
		mu.Unlock()
		if complete && done.CompareAndSwap(false, true) {
			utils.ClearTimeout(timer)
			ack(out, nil)
		}
	}

	if b.flags.Timeout != nil {
		timer = utils.SetTimeout(func() {
			if done.CompareAndSwap(false, true) {
				mu.Lock()
				out := responses
				mu.Unlock()
				ack(out, ErrAckTimeout)
			}
		}, *b.flags.Timeout)
	}

	b.adapter.BroadcastWithAck(packet, opts, func(clientCount uint64) {
		// one callback per cooperating server
		expectedClientCount.Add(clientCount)
		actualServerCount.Add(1)
		checkCompleteness()
	}, func(clientResponse []any, _ error) {
		var response any
		if len(clientResponse) > 0 {
			response = clientResponse[0]
		}
		mu.Lock()
		responses = append(responses, response)
		mu.Unlock()
		checkCompleteness()
	})

	atomic.StoreInt64(&expectedServerCount, b.adapter.ServerCount())
	checkCompleteness()
	return nil
}

// EmitWithAck is Emit with the ack as a trailing continuation, so the
// call site reads emitWithAck(ev, args)(func(...)).
func (b *BroadcastOperator) EmitWithAck(ev string, args ...any) func(Ack) {
	return func(ack Ack) {
		b.Emit(ev, append(args, ack)...)
	}
}

// FetchSockets returns the matching socket instances through a
// continuation, so clustered adapters can resolve it asynchronously.
func (b *BroadcastOperator) FetchSockets() func(func([]*RemoteSocket, error)) {
	opts := &BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: b.flags}
	return func(callback func([]*RemoteSocket, error)) {
		b.adapter.FetchSockets(opts)(func(sockets []SocketDetails, err error) {
			if err != nil {
				callback(nil, err)
				return
			}
			remote := make([]*RemoteSocket, 0, len(sockets))
			for _, details := range sockets {
				remote = append(remote, newRemoteSocket(b.adapter, details))
			}
			callback(remote, nil)
		})
	}
}

// SocketsJoin makes every matching socket join the given rooms.
func (b *BroadcastOperator) SocketsJoin(rooms ...Room) {
	b.adapter.AddSockets(&BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: b.flags}, rooms)
}

// SocketsLeave makes every matching socket leave the given rooms.
func (b *BroadcastOperator) SocketsLeave(rooms ...Room) {
	b.adapter.DelSockets(&BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: b.flags}, rooms)
}

// DisconnectSockets disconnects every matching socket, closing the
// underlying connection when status is true.
func (b *BroadcastOperator) DisconnectSockets(status bool) {
	b.adapter.DisconnectSockets(&BroadcastOptions{Rooms: b.rooms, Except: b.except, Flags: b.flags}, status)
}

func ackFromArgs(args []any) (Ack, bool) {
	if len(args) == 0 {
		return nil, false
	}
	ack, ok := args[len(args)-1].(Ack)
	return ack, ok
}

// RemoteSocket is the addressable view of a fetched socket: enough to
// emit to it, move it between rooms or disconnect it, without touching
// the instance itself (which may live on another node).
type RemoteSocket struct {
	adapter   Adapter
	id        SocketId
	handshake *Handshake
	rooms     *types.Set[Room]
	data      any
}

func newRemoteSocket(adapter Adapter, details SocketDetails) *RemoteSocket {
	return &RemoteSocket{
		adapter:   adapter,
		id:        details.Id(),
		handshake: details.Handshake(),
		rooms:     details.Rooms(),
		data:      details.Data(),
	}
}

func (r *RemoteSocket) Id() SocketId {
	return r.id
}

func (r *RemoteSocket) Handshake() *Handshake {
	return r.handshake
}

func (r *RemoteSocket) Rooms() *types.Set[Room] {
	return r.rooms
}

func (r *RemoteSocket) Data() any {
	return r.data
}

func (r *RemoteSocket) operator() *BroadcastOperator {
	return NewBroadcastOperator(r.adapter, types.NewSet(Room(r.id)), nil, nil)
}

func (r *RemoteSocket) Emit(ev string, args ...any) error {
	return r.operator().Emit(ev, args...)
}

func (r *RemoteSocket) Join(rooms ...Room) {
	r.operator().SocketsJoin(rooms...)
}

func (r *RemoteSocket) Leave(rooms ...Room) {
	r.operator().SocketsLeave(rooms...)
}

func (r *RemoteSocket) Disconnect(status bool) {
	r.operator().DisconnectSockets(status)
}
