package socket

import (
	"errors"
	"sync"

	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

var adapter_log = log.NewLog("sio:adapter")

type AdapterBuilder struct{}

func (*AdapterBuilder) New(nsp *Namespace) Adapter {
	return NewAdapter(nsp)
}

// adapter is the in-memory, single-node room index. Membership mutations
// are serialized so the create-room and delete-room observability events
// fire exactly once per room lifetime.
type adapter struct {
	events.EventEmitter

	nsp   *Namespace
	rooms *types.Map[Room, *types.Set[SocketId]]
	sids  *types.Map[SocketId, *types.Set[Room]]
	mu    sync.Mutex
}

func NewAdapter(nsp *Namespace) Adapter {
	return &adapter{
		EventEmitter: events.New(),
		nsp:          nsp,
		rooms:        &types.Map[Room, *types.Set[SocketId]]{},
		sids:         &types.Map[SocketId, *types.Set[Room]]{},
	}
}

func (a *adapter) Init()  {}
func (a *adapter) Close() {}

func (a *adapter) ServerCount() int64 {
	return 1
}

func (a *adapter) Rooms() *types.Map[Room, *types.Set[SocketId]] {
	return a.rooms
}

func (a *adapter) Sids() *types.Map[SocketId, *types.Set[Room]] {
	return a.sids
}

func (a *adapter) Nsp() *Namespace {
	return a.nsp
}

func (a *adapter) AddAll(id SocketId, rooms *types.Set[Room]) {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined, _ := a.sids.LoadOrStore(id, types.NewSet[Room]())
	for _, room := range rooms.Keys() {
		joined.Add(room)
		members, loaded := a.rooms.LoadOrStore(room, types.NewSet[SocketId]())
		if !loaded {
			a.Emit("create-room", room)
		}
		if !members.Has(id) {
			members.Add(id)
			a.Emit("join-room", room, id)
		}
	}
}

func (a *adapter) Del(id SocketId, room Room) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if joined, ok := a.sids.Load(id); ok {
		joined.Delete(room)
	}
	a.del(id, room)
}

func (a *adapter) del(id SocketId, room Room) {
	members, ok := a.rooms.Load(room)
	if !ok {
		return
	}
	if members.Delete(id) {
		a.Emit("leave-room", room, id)
	}
	if members.Len() == 0 {
		a.rooms.Delete(room)
		a.Emit("delete-room", room)
	}
}

func (a *adapter) DelAll(id SocketId) {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined, ok := a.sids.LoadAndDelete(id)
	if !ok {
		return
	}
	for _, room := range joined.Keys() {
		a.del(id, room)
	}
}

// Broadcast encodes the packet once and hands the frames to every
// matching session.
func (a *adapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}
	writeOpts := &WriteOptions{}
	writeOpts.PreEncoded = true
	writeOpts.Volatile = flags.Volatile
	writeOpts.Compress = flags.Compress

	packet.Nsp = a.nsp.Name()
	encoded, err := a.nsp.Server().Encoder().Encode(packet)
	if err != nil {
		adapter_log.Error("broadcast encode error: %v", err)
		return
	}
	a.apply(opts, func(s *Socket) {
		s.client.WriteToEngine(encoded, writeOpts)
	})
}

// BroadcastWithAck is Broadcast plus an acknowledgement registered in
// every matching session. The ack id is allocated only when at least one
// session matches.
func (a *adapter) BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, clientCountCallback func(uint64), ack Ack) {
	flags := &BroadcastFlags{}
	if opts != nil && opts.Flags != nil {
		flags = opts.Flags
	}
	writeOpts := &WriteOptions{}
	writeOpts.PreEncoded = true
	writeOpts.Volatile = flags.Volatile
	writeOpts.Compress = flags.Compress

	var targets []*Socket
	a.apply(opts, func(s *Socket) {
		targets = append(targets, s)
	})
	if len(targets) == 0 {
		if clientCountCallback != nil {
			clientCountCallback(0)
		}
		return
	}

	id := a.nsp.nextAckId()
	packet.Nsp = a.nsp.Name()
	packet.Id = &id
	encoded, err := a.nsp.Server().Encoder().Encode(packet)
	if err != nil {
		adapter_log.Error("broadcast encode error: %v", err)
		return
	}
	for _, s := range targets {
		s.acks.Store(id, ack)
		s.client.WriteToEngine(encoded, writeOpts)
	}
	if clientCountCallback != nil {
		clientCountCallback(uint64(len(targets)))
	}
}

// apply runs callback once per matching live session: the union of the
// target rooms (the whole namespace when none), minus the expanded
// exclusion set. A session in several target rooms is visited once.
func (a *adapter) apply(opts *BroadcastOptions, callback func(*Socket)) {
	var rooms *types.Set[Room]
	var except *types.Set[Room]
	if opts != nil {
		rooms = opts.Rooms
		except = opts.Except
	}
	exceptSids := a.computeExceptSids(except)

	if rooms != nil && rooms.Len() > 0 {
		visited := types.NewSet[SocketId]()
		for _, room := range rooms.Keys() {
			members, ok := a.rooms.Load(room)
			if !ok {
				continue
			}
			for _, id := range members.Keys() {
				if visited.Has(id) || exceptSids.Has(id) {
					continue
				}
				if s, ok := a.nsp.sockets.Load(id); ok {
					callback(s)
					visited.Add(id)
				}
			}
		}
		return
	}

	a.sids.Range(func(id SocketId, _ *types.Set[Room]) bool {
		if exceptSids.Has(id) {
			return true
		}
		if s, ok := a.nsp.sockets.Load(id); ok {
			callback(s)
		}
		return true
	})
}

// computeExceptSids expands excluded rooms into session ids. A session
// id is itself a room name, so excluding by sid needs no special case.
func (a *adapter) computeExceptSids(except *types.Set[Room]) *types.Set[SocketId] {
	exceptSids := types.NewSet[SocketId]()
	if except == nil {
		return exceptSids
	}
	for _, room := range except.Keys() {
		if members, ok := a.rooms.Load(room); ok {
			exceptSids.Add(members.Keys()...)
		}
	}
	return exceptSids
}

func (a *adapter) Sockets(rooms *types.Set[Room]) *types.Set[SocketId] {
	sids := types.NewSet[SocketId]()
	a.apply(&BroadcastOptions{Rooms: rooms}, func(s *Socket) {
		sids.Add(s.Id())
	})
	return sids
}

func (a *adapter) SocketRooms(id SocketId) *types.Set[Room] {
	rooms, ok := a.sids.Load(id)
	if !ok {
		return nil
	}
	return rooms
}

func (a *adapter) FetchSockets(opts *BroadcastOptions) func(func([]SocketDetails, error)) {
	return func(callback func([]SocketDetails, error)) {
		sockets := []SocketDetails{}
		a.apply(opts, func(s *Socket) {
			sockets = append(sockets, s)
		})
		callback(sockets, nil)
	}
}

func (a *adapter) AddSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(s *Socket) {
		s.Join(rooms...)
	})
}

func (a *adapter) DelSockets(opts *BroadcastOptions, rooms []Room) {
	a.apply(opts, func(s *Socket) {
		for _, room := range rooms {
			s.Leave(room)
		}
	})
}

func (a *adapter) DisconnectSockets(opts *BroadcastOptions, status bool) {
	a.apply(opts, func(s *Socket) {
		s.Disconnect(status)
	})
}

func (a *adapter) ServerSideEmit([]any) error {
	return errors.New("this adapter does not support the ServerSideEmit() functionality")
}

func (a *adapter) PersistSession(*SessionToPersist) {}

func (a *adapter) RestoreSession(PrivateSessionId, string) (*Session, error) {
	return nil, errors.New("connection state recovery is disabled")
}
