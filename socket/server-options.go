package socket

import (
	"strings"
	"time"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/parser"
)

// ConnectionStateRecovery tunes the recovery of briefly disconnected
// sessions. Attaching it to the server options (even empty) enables the
// feature.
type ConnectionStateRecovery struct {
	maxDisconnectionDuration *time.Duration
	skipMiddlewares          *bool
}

func (c *ConnectionStateRecovery) SetMaxDisconnectionDuration(d time.Duration) *ConnectionStateRecovery {
	if d > 0 {
		c.maxDisconnectionDuration = &d
	}
	return c
}

func (c *ConnectionStateRecovery) MaxDisconnectionDuration() time.Duration {
	if c.maxDisconnectionDuration == nil {
		return 2 * time.Minute
	}
	return *c.maxDisconnectionDuration
}

func (c *ConnectionStateRecovery) SetSkipMiddlewares(skip bool) *ConnectionStateRecovery {
	c.skipMiddlewares = &skip
	return c
}

func (c *ConnectionStateRecovery) SkipMiddlewares() bool {
	if c.skipMiddlewares == nil {
		return true
	}
	return *c.skipMiddlewares
}

// ServerOptions configures the messaging layer on top of the transport
// options it embeds.
type ServerOptions struct {
	engine.ServerOptions

	path                        *string
	connectTimeout              *time.Duration
	adapter                     AdapterConstructor
	parserImpl                  parser.Parser
	cleanupEmptyChildNamespaces *bool
	connectionStateRecovery     *ConnectionStateRecovery
}

func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{}
}

// SetPath sets the HTTP mount point, normalized to a leading and no
// trailing slash.
func (o *ServerOptions) SetPath(path string) *ServerOptions {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimSuffix(path, "/")
	o.path = &path
	return o
}

func (o *ServerOptions) Path() string {
	if o.path == nil {
		return "/socket.io"
	}
	return *o.path
}

// SetConnectTimeout bounds how long a connection may stay open without
// joining any namespace.
func (o *ServerOptions) SetConnectTimeout(d time.Duration) *ServerOptions {
	if d > 0 {
		o.connectTimeout = &d
	}
	return o
}

func (o *ServerOptions) ConnectTimeout() time.Duration {
	if o.connectTimeout == nil {
		return 45_000 * time.Millisecond
	}
	return *o.connectTimeout
}

func (o *ServerOptions) SetAdapter(adapter AdapterConstructor) *ServerOptions {
	o.adapter = adapter
	return o
}

// Adapter returns the adapter constructor, defaulting to the in-memory
// one (session aware when connection state recovery is enabled).
func (o *ServerOptions) Adapter() AdapterConstructor {
	if o.adapter != nil {
		return o.adapter
	}
	if o.connectionStateRecovery != nil {
		return &SessionAwareAdapterBuilder{}
	}
	return &AdapterBuilder{}
}

func (o *ServerOptions) SetParser(p parser.Parser) *ServerOptions {
	o.parserImpl = p
	return o
}

func (o *ServerOptions) Parser() parser.Parser {
	if o.parserImpl == nil {
		return parser.NewParser()
	}
	return o.parserImpl
}

func (o *ServerOptions) SetCleanupEmptyChildNamespaces(cleanup bool) *ServerOptions {
	o.cleanupEmptyChildNamespaces = &cleanup
	return o
}

func (o *ServerOptions) CleanupEmptyChildNamespaces() bool {
	if o.cleanupEmptyChildNamespaces == nil {
		return false
	}
	return *o.cleanupEmptyChildNamespaces
}

func (o *ServerOptions) SetConnectionStateRecovery(recovery *ConnectionStateRecovery) *ServerOptions {
	o.connectionStateRecovery = recovery
	return o
}

// ConnectionStateRecovery never returns nil; use
// GetRawConnectionStateRecovery to test whether the feature is enabled.
func (o *ServerOptions) ConnectionStateRecovery() *ConnectionStateRecovery {
	if o.connectionStateRecovery == nil {
		return &ConnectionStateRecovery{}
	}
	return o.connectionStateRecovery
}

func (o *ServerOptions) GetRawConnectionStateRecovery() *ConnectionStateRecovery {
	return o.connectionStateRecovery
}
