package engine

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

var socket_log = log.NewLog("sio:engine-socket")

// RequestInfo is a snapshot of the HTTP request that opened the session,
// taken at handshake time so later readers never touch the live request.
type RequestInfo struct {
	Headers    http.Header
	Query      url.Values
	RemoteAddr string
	Secure     bool
	Url        string
}

func NewRequestInfo(r *http.Request) *RequestInfo {
	return &RequestInfo{
		Headers:    r.Header.Clone(),
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
		Secure:     r.TLS != nil,
		Url:        r.RequestURI,
	}
}

// Socket is one live transport session. It emits:
//
//	"data"    (types.BufferInterface)  a message payload
//	"drain"                            the write buffer flushed
//	"upgrade" (Transport)              the transport was upgraded
//	"close"   (string)                 session over, with reason
type Socket interface {
	events.EventEmitter

	Id() string
	Protocol() int
	ReadyState() string
	Transport() Transport
	Upgraded() bool
	Request() *RequestInfo
	Write(data types.BufferInterface, opts *PacketOptions)
	Close()
}

type socket struct {
	events.EventEmitter

	id      string
	server  *Server
	request *RequestInfo

	mu          sync.Mutex
	transport   Transport
	readyState  string
	upgrading   bool
	upgraded    bool
	writeBuffer []*Packet

	pingIntervalTimer *utils.Timer
	pingTimeoutTimer  *utils.Timer
	upgradeTimer      *utils.Timer
}

func newSocket(server *Server, id string, transport Transport, request *RequestInfo) *socket {
	s := &socket{
		EventEmitter: events.New(),
		id:           id,
		server:       server,
		request:      request,
		readyState:   "opening",
	}
	s.setTransport(transport)
	s.onOpen()
	return s
}

func (s *socket) Id() string {
	return s.id
}

func (s *socket) Protocol() int {
	return 4
}

func (s *socket) Request() *RequestInfo {
	return s.request
}

func (s *socket) ReadyState() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readyState
}

func (s *socket) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transport
}

func (s *socket) Upgraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upgraded
}

func (s *socket) onOpen() {
	s.mu.Lock()
	s.readyState = "open"
	upgrades := []string{}
	if s.server.opts.AllowUpgrades() && !s.transport.HandlesUpgrades() {
		upgrades = append(upgrades, "websocket")
	}
	s.mu.Unlock()

	handshake, _ := json.Marshal(map[string]any{
		"sid":          s.id,
		"upgrades":     upgrades,
		"pingInterval": s.server.opts.PingInterval().Milliseconds(),
		"pingTimeout":  s.server.opts.PingTimeout().Milliseconds(),
		"maxPayload":   s.server.opts.MaxHttpBufferSize(),
	})
	data := types.NewStringBuffer()
	data.Write(handshake)
	s.sendPacket(&Packet{Type: OPEN, Data: data})
	s.schedulePing()
}

func (s *socket) setTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()

	t.On("packet", func(args ...any) {
		s.onPacket(args[0].(*Packet))
	})
	t.On("drain", func(...any) {
		s.flush()
	})
	t.On("error", func(args ...any) {
		socket_log.Debug("transport error for %s: %v", s.id, args)
	})
	t.On("close", func(args ...any) {
		reason := "transport close"
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		s.onClose(reason)
	})
}

func (s *socket) onPacket(packet *Packet) {
	switch packet.Type {
	case PING:
		// the server drives the heartbeat; an unsolicited ping is only
		// valid as an upgrade probe, which never reaches this path
		socket_log.Debug("unexpected ping from %s", s.id)
	case PONG:
		socket_log.Debug("got pong from %s", s.id)
		utils.ClearTimeout(s.pingTimeoutTimer)
		s.schedulePing()
		s.Emit("heartbeat")
	case MESSAGE:
		s.Emit("data", packet.Data)
	case CLOSE:
		s.onClose("transport close")
	}
}

// schedulePing arms the next heartbeat round: send a ping after
// pingInterval, then expect a pong within pingTimeout.
func (s *socket) schedulePing() {
	utils.ClearTimeout(s.pingIntervalTimer)
	s.pingIntervalTimer = utils.SetTimeout(func() {
		if s.ReadyState() != "open" {
			return
		}
		socket_log.Debug("sending ping to %s", s.id)
		s.sendPacket(&Packet{Type: PING})
		s.pingTimeoutTimer = utils.SetTimeout(func() {
			s.onClose("ping timeout")
		}, s.server.opts.PingTimeout())
	}, s.server.opts.PingInterval())
}

func (s *socket) Write(data types.BufferInterface, opts *PacketOptions) {
	s.sendPacket(&Packet{Type: MESSAGE, Data: data, Options: opts})
}

func (s *socket) sendPacket(packet *Packet) {
	s.mu.Lock()
	if s.readyState == "closing" || s.readyState == "closed" {
		s.mu.Unlock()
		return
	}
	s.writeBuffer = append(s.writeBuffer, packet)
	s.mu.Unlock()
	s.flush()
}

func (s *socket) flush() {
	s.mu.Lock()
	if s.readyState == "closed" || s.transport == nil || !s.transport.Writable() ||
		s.upgrading || len(s.writeBuffer) == 0 {
		s.mu.Unlock()
		return
	}
	packets := s.writeBuffer
	s.writeBuffer = nil
	transport := s.transport
	s.mu.Unlock()

	transport.Send(packets)
	s.Emit("drain")
}

// MaybeUpgrade performs the probe handshake on a fresh transport and
// swaps it in once the client commits with an upgrade packet.
func (s *socket) MaybeUpgrade(t Transport) {
	s.mu.Lock()
	if s.upgrading || s.upgraded {
		s.mu.Unlock()
		t.Close()
		return
	}
	s.upgrading = true
	s.mu.Unlock()

	socket_log.Debug("might upgrade socket transport from %s to %s", s.Transport().Name(), t.Name())
	s.upgradeTimer = utils.SetTimeout(func() {
		socket_log.Debug("client did not complete upgrade - closing probe transport")
		s.mu.Lock()
		s.upgrading = false
		s.mu.Unlock()
		t.Close()
	}, s.server.opts.UpgradeTimeout())

	var onProbePacket func(...any)
	onProbePacket = func(args ...any) {
		packet := args[0].(*Packet)
		switch {
		case packet.Type == PING && packet.Data != nil && packet.Data.String() == "probe":
			socket_log.Debug("got probe ping packet, sending pong")
			t.Send([]*Packet{{Type: PONG, Data: types.NewStringBufferString("probe")}})
			s.Emit("upgrading", t)
			// release the polling cycle so the client can finish the probe
			if current := s.Transport(); current != nil && !current.HandlesUpgrades() {
				current.Send([]*Packet{{Type: NOOP}})
			}
		case packet.Type == UPGRADE && s.ReadyState() != "closed":
			socket_log.Debug("got upgrade packet - upgrading")
			utils.ClearTimeout(s.upgradeTimer)
			t.RemoveListener("packet", onProbePacket)
			old := s.Transport()
			s.mu.Lock()
			s.upgrading = false
			s.upgraded = true
			s.mu.Unlock()
			if old != nil {
				old.Discard()
				old.RemoveAllListeners("close")
				old.Close()
			}
			s.setTransport(t)
			s.Emit("upgrade", t)
			s.flush()
		default:
			socket_log.Debug("invalid probe packet, closing probe transport")
			utils.ClearTimeout(s.upgradeTimer)
			s.mu.Lock()
			s.upgrading = false
			s.mu.Unlock()
			t.Close()
		}
	}
	t.On("packet", onProbePacket)
	t.Open()
}

// Close shuts the session down from the server side.
func (s *socket) Close() {
	s.mu.Lock()
	if s.readyState != "open" {
		s.mu.Unlock()
		return
	}
	s.readyState = "closing"
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		transport.Send([]*Packet{{Type: CLOSE}})
	}
	s.onClose("forced close")
}

func (s *socket) onClose(reason string) {
	s.mu.Lock()
	if s.readyState == "closed" {
		s.mu.Unlock()
		return
	}
	s.readyState = "closed"
	transport := s.transport
	s.writeBuffer = nil
	s.mu.Unlock()

	socket_log.Debug("socket %s closed: %s", s.id, reason)
	utils.ClearTimeout(s.pingIntervalTimer)
	utils.ClearTimeout(s.pingTimeoutTimer)
	utils.ClearTimeout(s.upgradeTimer)
	if transport != nil {
		transport.Close()
	}
	s.server.clients.Delete(s.id)
	s.Emit("close", reason)
}
