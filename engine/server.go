// Package engine implements the transport layer: one persistent duplex
// session per client, reachable over HTTP long-polling, WebSocket or
// WebTransport, with a server-driven heartbeat and an in-band upgrade
// path from polling to a frame-based transport.
package engine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/zishang520/webtransport-go"

	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

var server_log = log.NewLog("sio:engine")

const Protocol = 4

// Server accepts transport sessions. It is an http.Handler for the
// polling and websocket transports; WebTransport sessions are fed in
// through WebTransportHandler. Emits "connection" (Socket).
type Server struct {
	events.EventEmitter

	opts     *ServerOptions
	clients  types.Map[string, Socket]
	upgrader websocket.Upgrader
}

func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = DefaultServerOptions()
	}
	return &Server{
		EventEmitter: events.New(),
		opts:         opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policing is left to the embedding HTTP stack
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Opts() *ServerOptions {
	return s.opts
}

func (s *Server) Clients() *types.Map[string, Socket] {
	return &s.clients
}

func (s *Server) ClientsCount() int {
	return s.clients.Len()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("EIO") != "4" {
		abortRequest(w, errUnsupportedProtocolVersion)
		return
	}
	transportName := query.Get("transport")
	if transportName == "webtransport" || !s.opts.Transports().Has(transportName) {
		abortRequest(w, errUnknownTransport)
		return
	}

	sid := query.Get("sid")
	if sid == "" {
		if r.Method != http.MethodGet {
			abortRequest(w, errBadHandshakeMethod)
			return
		}
		s.handshake(w, r, transportName)
		return
	}

	client, ok := s.clients.Load(sid)
	if !ok {
		abortRequest(w, errUnknownSid)
		return
	}

	currentName := client.Transport().Name()
	switch {
	case transportName == currentName && transportName == "polling":
		client.Transport().(*pollingTransport).OnRequest(w, r)
	case transportName == "websocket" && currentName != "websocket":
		if !s.opts.AllowUpgrades() {
			abortRequest(w, errBadRequest)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			server_log.Debug("websocket upgrade failed: %v", err)
			return
		}
		client.(*socket).MaybeUpgrade(NewWebSocketTransport(conn, s.opts.MaxHttpBufferSize()))
	default:
		abortRequest(w, errBadRequest)
	}
}

func (s *Server) handshake(w http.ResponseWriter, r *http.Request, transportName string) {
	id, err := utils.Base64Id().GenerateId()
	if err != nil {
		abortRequest(w, errBadRequest)
		return
	}
	server_log.Debug("handshaking client %s over %s", id, transportName)

	request := NewRequestInfo(r)
	switch transportName {
	case "polling":
		transport := NewPollingTransport(s.opts.MaxHttpBufferSize(), s.opts.HttpCompression())
		client := newSocket(s, id, transport, request)
		s.clients.Store(id, client)
		s.Emit("connection", Socket(client))
		transport.(*pollingTransport).OnRequest(w, r)
	case "websocket":
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			server_log.Debug("websocket upgrade failed: %v", err)
			return
		}
		transport := NewWebSocketTransport(conn, s.opts.MaxHttpBufferSize())
		client := newSocket(s, id, transport, request)
		s.clients.Store(id, client)
		s.Emit("connection", Socket(client))
		transport.Open()
	default:
		abortRequest(w, errUnknownTransport)
	}
}

// WebTransportHandler returns the http.Handler to mount on the HTTP/3
// endpoint. Each CONNECT request is upgraded to a session carrying one
// bidirectional stream.
func (s *Server) WebTransportHandler(wts *webtransport.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.Transports().Has("webtransport") {
			abortRequest(w, errUnknownTransport)
			return
		}
		session, err := wts.Upgrade(w, r)
		if err != nil {
			server_log.Debug("webtransport upgrade failed: %v", err)
			abortRequest(w, errBadRequest)
			return
		}
		stream, err := session.AcceptStream(r.Context())
		if err != nil {
			server_log.Debug("webtransport stream not accepted: %v", err)
			session.CloseWithError(0, "")
			return
		}
		transport := NewWebTransportTransport(session, stream, s.opts.MaxHttpBufferSize())

		if sid := r.URL.Query().Get("sid"); sid != "" {
			client, ok := s.clients.Load(sid)
			if !ok {
				transport.Close()
				return
			}
			client.(*socket).MaybeUpgrade(transport)
			return
		}

		id, err := utils.Base64Id().GenerateId()
		if err != nil {
			transport.Close()
			return
		}
		client := newSocket(s, id, transport, NewRequestInfo(r))
		s.clients.Store(id, client)
		s.Emit("connection", Socket(client))
		transport.Open()
	})
}

// Close terminates every live session.
func (s *Server) Close() {
	s.clients.Range(func(_ string, client Socket) bool {
		client.Close()
		return true
	})
}

func abortRequest(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": errorMessages[code],
	})
}
