package socket

import (
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/evsio/evsio/engine"
	"github.com/evsio/evsio/events"
	"github.com/evsio/evsio/types"
)

// fakeTransport stands in for a live transport so the messaging layer
// can be exercised without HTTP.
type fakeTransport struct {
	events.EventEmitter

	mu       sync.Mutex
	writable bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{EventEmitter: events.New(), writable: true}
}

func (t *fakeTransport) Name() string { return "websocket" }

func (t *fakeTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

func (t *fakeTransport) setWritable(writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writable = writable
}

func (t *fakeTransport) Open()                       {}
func (t *fakeTransport) Send(packets []*engine.Packet) {}
func (t *fakeTransport) Close()                      {}
func (t *fakeTransport) Discard()                    {}
func (t *fakeTransport) HandlesUpgrades() bool       { return true }

// fakeConn is an in-memory engine.Socket: frames written by the server
// are captured, frames "received from the client" are fed in with
// receive.
type fakeConn struct {
	events.EventEmitter

	id        string
	transport *fakeTransport
	request   *engine.RequestInfo

	mu         sync.Mutex
	readyState string

	frames chan string
}

var fakeConnSeq int

func newFakeConn() *fakeConn {
	fakeConnSeq++
	r := httptest.NewRequest("GET", "/socket.io/?EIO=4&transport=websocket", nil)
	return &fakeConn{
		EventEmitter: events.New(),
		id:           "conn-" + strconv.Itoa(fakeConnSeq),
		transport:    newFakeTransport(),
		request:      engine.NewRequestInfo(r),
		readyState:   "open",
		frames:       make(chan string, 64),
	}
}

func (c *fakeConn) Id() string                  { return c.id }
func (c *fakeConn) Protocol() int               { return 4 }
func (c *fakeConn) Transport() engine.Transport { return c.transport }
func (c *fakeConn) Upgraded() bool              { return true }
func (c *fakeConn) Request() *engine.RequestInfo {
	return c.request
}

func (c *fakeConn) ReadyState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

func (c *fakeConn) Write(data types.BufferInterface, opts *engine.PacketOptions) {
	c.frames <- data.String()
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	if c.readyState == "closed" {
		c.mu.Unlock()
		return
	}
	c.readyState = "closed"
	c.mu.Unlock()
	c.Emit("close", "forced close")
}

// receive feeds a decoded transport frame, as if the client had sent it.
func (c *fakeConn) receive(frame string) {
	c.Emit("data", types.NewStringBufferString(frame))
}

func (c *fakeConn) receiveBinary(data []byte) {
	c.Emit("data", types.NewBytesBuffer(data))
}

// nextFrame returns the next frame written to the connection.
func (c *fakeConn) nextFrame(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-c.frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame written")
		return ""
	}
}

// expectNoFrame asserts nothing is written for a short while.
func (c *fakeConn) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-c.frames:
		t.Fatalf("unexpected frame %q", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

// connectedSocket wires a fake connection into the server and completes
// the CONNECT handshake on the root namespace.
func connectedSocket(t *testing.T, server *Server) (*Socket, *fakeConn) {
	t.Helper()
	socketCh := make(chan *Socket, 1)
	server.sockets.Once("connection", func(args ...any) {
		socketCh <- args[0].(*Socket)
	})

	conn := newFakeConn()
	NewClient(server, conn)
	conn.receive("0")

	frame := conn.nextFrame(t)
	if frame[0] != '0' {
		t.Fatalf("expected a CONNECT reply, got %q", frame)
	}
	select {
	case socket := <-socketCh:
		return socket, conn
	case <-time.After(time.Second):
		t.Fatal("connection event not fired")
		return nil, nil
	}
}
