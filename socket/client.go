package socket

import (
	"sync"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
	"github.com/evsio/evsio/utils"
)

var client_log = log.NewLog("sio:client")

// Client is one transport connection and the namespace sessions
// multiplexed over it. It owns the parser decoder and routes decoded
// packets to the right session; user packets are dispatched off a
// single queue so per-connection ordering is preserved.
type Client struct {
	conn    engine.Socket
	server  *Server
	encoder parser.Encoder
	decoder parser.Decoder

	sockets types.Map[SocketId, *Socket]
	nsps    types.Map[string, *Socket]

	// dispatchMu guards the queue state and connectTimeout
	dispatchMu     sync.Mutex
	dispatchCh     chan *parser.Packet
	dispatchClosed bool
	connectTimeout *utils.Timer
}

func NewClient(server *Server, conn engine.Socket) *Client {
	c := &Client{
		conn:       conn,
		server:     server,
		encoder:    server.encoder,
		decoder:    server.parser.NewDecoder(),
		dispatchCh: make(chan *parser.Packet, 32),
	}
	go c.dispatchLoop()

	c.decoder.On("decoded", func(args ...any) {
		c.ondecoded(args[0].(*parser.Packet))
	})
	conn.On("data", func(args ...any) {
		if err := c.decoder.Add(args[0]); err != nil {
			c.onerror(err)
		}
	})
	conn.On("error", func(args ...any) {
		if err, ok := args[0].(error); ok {
			c.onerror(err)
		}
	})
	conn.On("close", func(args ...any) {
		reason := "transport close"
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		c.onclose(reason)
	})

	// a connection that never joins a namespace is dropped
	timer := utils.SetTimeout(func() {
		if c.nsps.Len() == 0 {
			client_log.Debug("no namespace joined yet, close the client")
			c.close()
		}
	}, server.Opts().ConnectTimeout())
	c.dispatchMu.Lock()
	if c.dispatchClosed {
		// the connection closed while we were setting up
		utils.ClearTimeout(timer)
	} else {
		c.connectTimeout = timer
	}
	c.dispatchMu.Unlock()

	return c
}

// Conn exposes the underlying transport session.
func (c *Client) Conn() engine.Socket {
	return c.conn
}

func (c *Client) Request() *engine.RequestInfo {
	return c.conn.Request()
}

func (c *Client) dispatchLoop() {
	for packet := range c.dispatchCh {
		socket, ok := c.nsps.Load(packet.Nsp)
		if !ok {
			continue
		}
		socket._onpacket(packet)
	}
}

func (c *Client) ondecoded(packet *parser.Packet) {
	nsp := packet.Nsp
	_, connected := c.nsps.Load(nsp)

	switch {
	case !connected && packet.Type == parser.CONNECT:
		c.connect(nsp, packet.Data)
	case !connected && packet.Type == parser.CONNECT_ERROR:
		client_log.Debug("ignoring CONNECT_ERROR for unknown session on %s", nsp)
	case connected && packet.Type != parser.CONNECT:
		// CONNECT_ERROR with a live session surfaces as an error on it
		c.dispatchMu.Lock()
		if !c.dispatchClosed {
			c.dispatchCh <- packet
		}
		c.dispatchMu.Unlock()
	default:
		client_log.Debug("invalid state (packet type: %d)", packet.Type)
		c.close()
	}
}

// connect resolves the namespace (static registry first, then the
// dynamic matchers) and hands the connection to it.
func (c *Client) connect(name string, auth any) {
	if _, ok := c.server._nsps.Load(name); ok {
		client_log.Debug("connecting to namespace %s", name)
		c.doConnect(name, auth)
		return
	}
	c.server._checkNamespace(name, auth, func(dynamicNsp *Namespace) {
		if dynamicNsp != nil {
			c.doConnect(name, auth)
		} else {
			client_log.Debug("creation of namespace %s was denied", name)
			c._packet(&parser.Packet{
				Type: parser.CONNECT_ERROR,
				Nsp:  name,
				Data: map[string]any{"message": "Invalid namespace"},
			}, nil)
		}
	})
}

func (c *Client) doConnect(name string, auth any) {
	nsp := c.server.Of(name, nil)
	nsp.Add(c, auth, func(socket *Socket) {
		c.sockets.Store(socket.Id(), socket)
		c.nsps.Store(name, socket)
		c.clearConnectTimeout()
	})
}

// _packet encodes and writes a single packet to the connection.
func (c *Client) _packet(packet *parser.Packet, opts *WriteOptions) {
	encoded, err := c.encoder.Encode(packet)
	if err != nil {
		client_log.Error("packet encode error: %v", err)
		return
	}
	c.WriteToEngine(encoded, opts)
}

// WriteToEngine pushes already encoded frames down the transport. A
// volatile write is dropped when the transport is not ready.
func (c *Client) WriteToEngine(encoded []types.BufferInterface, opts *WriteOptions) {
	if opts == nil {
		opts = &WriteOptions{}
	}
	if opts.Volatile && (c.conn.Transport() == nil || !c.conn.Transport().Writable()) {
		client_log.Debug("volatile packet is discarded since the transport is not currently writable")
		return
	}
	for _, frame := range encoded {
		c.conn.Write(frame, &opts.PacketOptions)
	}
}

// _remove detaches a session that closed on its own.
func (c *Client) _remove(socket *Socket) {
	if nsp, ok := c.sockets.LoadAndDelete(socket.Id()); ok {
		c.nsps.Delete(nsp.nsp.Name())
	} else {
		client_log.Debug("ignoring remove for %s", socket.Id())
	}
}

// _disconnect closes the whole connection on behalf of one session.
func (c *Client) _disconnect() {
	c.close()
}

func (c *Client) close() {
	if c.conn.ReadyState() == "open" {
		client_log.Debug("forcing transport close")
		// the "close" event of the connection drives onclose
		c.conn.Close()
	}
}

func (c *Client) onerror(err error) {
	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onerror(err)
		return true
	})
	c.conn.Close()
}

func (c *Client) onclose(reason string) {
	client_log.Debug("client close with reason %s", reason)
	c.destroy()

	// propagate the close to every live session
	c.sockets.Range(func(_ SocketId, socket *Socket) bool {
		socket._onclose(reason)
		return true
	})
	c.sockets.Clear()
	c.decoder.Destroy()
}

func (c *Client) clearConnectTimeout() {
	c.dispatchMu.Lock()
	if c.connectTimeout != nil {
		utils.ClearTimeout(c.connectTimeout)
		c.connectTimeout = nil
	}
	c.dispatchMu.Unlock()
}

func (c *Client) destroy() {
	c.dispatchMu.Lock()
	if c.connectTimeout != nil {
		utils.ClearTimeout(c.connectTimeout)
		c.connectTimeout = nil
	}
	if !c.dispatchClosed {
		c.dispatchClosed = true
		close(c.dispatchCh)
	}
	c.dispatchMu.Unlock()
}
