// Package socket implements the messaging layer: namespaces multiplexed
// over one transport connection, rooms, broadcasts, acknowledgements
// and connection state recovery.
package socket

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

var server_log = log.NewLog("sio:server")

// ParentNspNameMatchFn decides asynchronously whether a namespace name
// is acceptable for dynamic creation.
type ParentNspNameMatchFn func(name string, auth any, fn func(error, bool))

type parentMatcher struct {
	match ParentNspNameMatchFn
	pnsp  *ParentNamespace
}

// Server is the namespace registry bound to a transport server. Event
// registration and broadcast methods called on the server itself apply
// to the root namespace.
type Server struct {
	opts    *ServerOptions
	eng     *engine.Server
	parser  parser.Parser
	encoder parser.Encoder

	_nsps   types.Map[string, *Namespace]
	sockets *Namespace

	parentNspsMu sync.RWMutex
	parentNsps   []parentMatcher
}

func NewServer(opts *ServerOptions) *Server {
	if opts == nil {
		opts = DefaultServerOptions()
	}
	s := &Server{opts: opts}
	s.parser = opts.Parser()
	s.encoder = s.parser.NewEncoder()
	s.sockets = s.Of("/", nil)
	return s
}

func (s *Server) Opts() *ServerOptions {
	return s.opts
}

func (s *Server) Encoder() parser.Encoder {
	return s.encoder
}

// Sockets is the root namespace.
func (s *Server) Sockets() *Namespace {
	return s.sockets
}

// Engine is the underlying transport server, nil until the server is
// bound to one.
func (s *Server) Engine() *engine.Server {
	return s.eng
}

// Of resolves a namespace. The name may be a string (created on first
// use), a *regexp.Regexp or a ParentNspNameMatchFn (both registering a
// dynamic matcher and returning its parent namespace). The optional
// listener is registered for "connect".
func (s *Server) Of(name any, fn func(...any)) *Namespace {
	switch v := name.(type) {
	case string:
		return s.ofString(v, fn)
	case *regexp.Regexp:
		return s.ofMatcher(func(nsp string, _ any, cb func(error, bool)) {
			cb(nil, v.MatchString(nsp))
		}, fn)
	case ParentNspNameMatchFn:
		return s.ofMatcher(v, fn)
	default:
		panic("Of() expects a string, a *regexp.Regexp or a ParentNspNameMatchFn")
	}
}

func (s *Server) ofString(name string, fn func(...any)) *Namespace {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	nsp, ok := s._nsps.Load(name)
	if !ok {
		server_log.Debug("initializing namespace %s", name)
		created := NewNamespace(s, name)
		var loaded bool
		nsp, loaded = s._nsps.LoadOrStore(name, created)
		if !loaded && name != "/" && s.sockets != nil {
			s.sockets.EmitReserved("new_namespace", nsp)
		}
	}
	if fn != nil {
		nsp.On("connect", fn)
	}
	return nsp
}

func (s *Server) ofMatcher(match ParentNspNameMatchFn, fn func(...any)) *Namespace {
	pnsp := NewParentNamespace(s)
	server_log.Debug("initializing parent namespace %s", pnsp.Name())

	s.parentNspsMu.Lock()
	s.parentNsps = append(s.parentNsps, parentMatcher{match: match, pnsp: pnsp})
	s.parentNspsMu.Unlock()

	if fn != nil {
		pnsp.On("connect", fn)
	}
	return pnsp.Namespace
}

// _checkNamespace asks the dynamic matchers, in registration order,
// whether the namespace may be created. The first positive answer wins.
func (s *Server) _checkNamespace(name string, auth any, fn func(*Namespace)) {
	s.parentNspsMu.RLock()
	matchers := append([]parentMatcher{}, s.parentNsps...)
	s.parentNspsMu.RUnlock()

	if len(matchers) == 0 {
		fn(nil)
		return
	}
	var run func(int)
	run = func(i int) {
		if i >= len(matchers) {
			fn(nil)
			return
		}
		matchers[i].match(name, auth, func(err error, allowed bool) {
			if err != nil || !allowed {
				run(i + 1)
				return
			}
			if nsp, ok := s._nsps.Load(name); ok {
				// a previous connection already created it
				fn(nsp)
				return
			}
			fn(matchers[i].pnsp.CreateChild(name))
		})
	}
	run(0)
}

// Bind attaches the server to a transport server, accepting every
// connection it emits.
func (s *Server) Bind(eng *engine.Server) *Server {
	s.eng = eng
	eng.On("connection", func(args ...any) {
		NewClient(s, args[0].(engine.Socket))
	})
	return s
}

// ServeHandler returns the http.Handler serving the transport under the
// configured path, creating and binding the transport server on first
// use. Extra transport options override the embedded ones.
func (s *Server) ServeHandler(engineOpts *engine.ServerOptions) http.Handler {
	if s.eng == nil {
		opts := (&engine.ServerOptions{}).Assign(&s.opts.ServerOptions).Assign(engineOpts)
		s.Bind(engine.NewServer(opts))
	}
	path := s.opts.Path()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path && !strings.HasPrefix(r.URL.Path, path+"/") {
			http.NotFound(w, r)
			return
		}
		s.eng.ServeHTTP(w, r)
	})
}

// Close disconnects every session, shuts the adapters and transport
// down, then calls fn.
func (s *Server) Close(fn func()) {
	s._nsps.Range(func(_ string, nsp *Namespace) bool {
		nsp.sockets.Range(func(_ SocketId, socket *Socket) bool {
			socket._onclose("server shutting down")
			return true
		})
		nsp.adapter.Close()
		return true
	})
	if s.eng != nil {
		s.eng.Close()
	}
	if fn != nil {
		fn()
	}
}

// The methods below apply to the root namespace.

func (s *Server) On(ev string, listener func(...any)) {
	s.sockets.On(ev, listener)
}

func (s *Server) Once(ev string, listener func(...any)) {
	s.sockets.Once(ev, listener)
}

func (s *Server) Use(fn func(*Socket, func(*ExtendedError))) *Server {
	s.sockets.Use(fn)
	return s
}

func (s *Server) Emit(ev string, args ...any) error {
	return s.sockets.Emit(ev, args...)
}

func (s *Server) EmitWithAck(ev string, args ...any) func(Ack) {
	return s.sockets.EmitWithAck(ev, args...)
}

func (s *Server) Send(args ...any) *Server {
	s.sockets.Send(args...)
	return s
}

func (s *Server) Write(args ...any) *Server {
	return s.Send(args...)
}

func (s *Server) To(rooms ...Room) *BroadcastOperator {
	return s.sockets.To(rooms...)
}

func (s *Server) In(rooms ...Room) *BroadcastOperator {
	return s.sockets.In(rooms...)
}

func (s *Server) Except(rooms ...Room) *BroadcastOperator {
	return s.sockets.Except(rooms...)
}

func (s *Server) Compress(compress bool) *BroadcastOperator {
	return s.sockets.Compress(compress)
}

func (s *Server) Volatile() *BroadcastOperator {
	return s.sockets.Volatile()
}

func (s *Server) Local() *BroadcastOperator {
	return s.sockets.Local()
}

func (s *Server) Timeout(timeout time.Duration) *BroadcastOperator {
	return s.sockets.Timeout(timeout)
}

func (s *Server) ServerSideEmit(ev string, args ...any) error {
	return s.sockets.ServerSideEmit(ev, args...)
}

func (s *Server) FetchSockets() func(func([]*RemoteSocket, error)) {
	return s.sockets.FetchSockets()
}

func (s *Server) SocketsJoin(rooms ...Room) {
	s.sockets.SocketsJoin(rooms...)
}

func (s *Server) SocketsLeave(rooms ...Room) {
	s.sockets.SocketsLeave(rooms...)
}

func (s *Server) DisconnectSockets(status bool) {
	s.sockets.DisconnectSockets(status)
}
