package socket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

type SessionAwareAdapterBuilder struct{}

func (*SessionAwareAdapterBuilder) New(nsp *Namespace) Adapter {
	return NewSessionAwareAdapter(nsp)
}

// sessionAwareAdapter extends the in-memory adapter with connection
// state recovery: it snapshots disconnected sessions, journals every
// eligible broadcast under a monotonic offset, and replays the part of
// the journal a returning client missed.
type sessionAwareAdapter struct {
	*adapter

	maxDisconnectionDuration time.Duration

	sessions types.Map[PrivateSessionId, *SessionWithTimestamp]

	packetsMu sync.RWMutex
	packets   []*PersistedPacket
	offsetSeq uint64

	cleaner *utils.Timer
}

func NewSessionAwareAdapter(nsp *Namespace) Adapter {
	a := &sessionAwareAdapter{
		adapter:                  NewAdapter(nsp).(*adapter),
		maxDisconnectionDuration: nsp.Server().Opts().ConnectionStateRecovery().MaxDisconnectionDuration(),
	}
	a.cleaner = utils.SetInterval(a.cleanup, a.maxDisconnectionDuration)
	return a
}

func (a *sessionAwareAdapter) Close() {
	utils.ClearInterval(a.cleaner)
	a.adapter.Close()
}

// cleanup drops sessions and journal entries past the recovery window.
func (a *sessionAwareAdapter) cleanup() {
	threshold := time.Now().Add(-a.maxDisconnectionDuration).UnixMilli()

	a.sessions.Range(func(pid PrivateSessionId, session *SessionWithTimestamp) bool {
		if session.DisconnectedAt < threshold {
			a.sessions.Delete(pid)
		}
		return true
	})

	a.packetsMu.Lock()
	defer a.packetsMu.Unlock()
	i := 0
	for ; i < len(a.packets); i++ {
		if a.packets[i].EmittedAt >= threshold {
			break
		}
	}
	if i > 0 {
		a.packets = append([]*PersistedPacket(nil), a.packets[i:]...)
	}
}

func (a *sessionAwareAdapter) PersistSession(session *SessionToPersist) {
	a.sessions.Store(session.Pid, &SessionWithTimestamp{
		SessionToPersist: session,
		DisconnectedAt:   time.Now().UnixMilli(),
	})
}

func (a *sessionAwareAdapter) RestoreSession(pid PrivateSessionId, offset string) (*Session, error) {
	session, ok := a.sessions.LoadAndDelete(pid)
	if !ok {
		return nil, errors.New("unknown session")
	}
	if session.DisconnectedAt < time.Now().Add(-a.maxDisconnectionDuration).UnixMilli() {
		return nil, errors.New("session has expired")
	}

	a.packetsMu.RLock()
	defer a.packetsMu.RUnlock()

	index := -1
	for i, packet := range a.packets {
		if packet.Id == offset {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, errors.New("unknown offset")
	}

	missedPackets := []any{}
	for _, packet := range a.packets[index+1:] {
		if shouldIncludePacket(session.Rooms, packet.Opts) {
			missedPackets = append(missedPackets, packet.Data)
		}
	}
	return &Session{
		SessionToPersist: session.SessionToPersist,
		MissedPackets:    missedPackets,
	}, nil
}

// shouldIncludePacket replays a journal entry only to sessions the
// original broadcast would have reached.
func shouldIncludePacket(sessionRooms *types.Set[Room], opts *BroadcastOptions) bool {
	if opts == nil {
		return true
	}
	if opts.Rooms != nil && opts.Rooms.Len() > 0 {
		included := false
		for _, room := range opts.Rooms.Keys() {
			if sessionRooms.Has(room) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	if opts.Except != nil {
		for _, room := range opts.Except.Keys() {
			if sessionRooms.Has(room) {
				return false
			}
		}
	}
	return true
}

// Broadcast journals plain events (no ack, not volatile) under a fresh
// offset appended as a trailing argument, then broadcasts as usual.
func (a *sessionAwareAdapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	isEventWithAck := packet.Type == parser.EVENT && packet.Id != nil
	isVolatile := opts != nil && opts.Flags != nil && opts.Flags.Volatile
	if packet.Type == parser.EVENT && !isEventWithAck && !isVolatile {
		a.packetsMu.Lock()
		a.offsetSeq++
		offset := fmt.Sprintf("%016d", a.offsetSeq)
		if data, ok := packet.Data.([]any); ok {
			packet.Data = append(data, offset)
		}
		a.packets = append(a.packets, &PersistedPacket{
			Id:        offset,
			EmittedAt: time.Now().UnixMilli(),
			Data:      packet.Data,
			Opts:      opts,
		})
		a.packetsMu.Unlock()
	}
	a.adapter.Broadcast(packet, opts)
}
