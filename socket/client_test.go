package socket

import (
	"strings"
	"testing"
	"time"
)

func TestConnectRootNamespace(t *testing.T) {
	server := NewServer(nil)
	socket, _ := connectedSocket(t, server)

	if !socket.Connected() {
		t.Fatal("socket should be connected")
	}
	if socket.Id() == "" {
		t.Fatal("missing socket id")
	}
	if _, ok := server.sockets.Sockets().Load(socket.Id()); !ok {
		t.Fatal("socket not registered in the namespace")
	}
	if !socket.Rooms().Has(Room(socket.Id())) {
		t.Fatal("socket should be in its own room")
	}
}

func TestConnectUnknownNamespace(t *testing.T) {
	server := NewServer(nil)
	conn := newFakeConn()
	NewClient(server, conn)

	conn.receive("0/nope,")
	frame := conn.nextFrame(t)
	if !strings.HasPrefix(frame, "4/nope,") || !strings.Contains(frame, "Invalid namespace") {
		t.Fatalf("expected a CONNECT_ERROR, got %q", frame)
	}
}

func TestDuplicateConnectClosesConnection(t *testing.T) {
	server := NewServer(nil)
	_, conn := connectedSocket(t, server)

	conn.receive("0")
	deadline := time.Now().Add(time.Second)
	for conn.ReadyState() != "closed" {
		if time.Now().After(deadline) {
			t.Fatal("connection not closed after duplicate CONNECT")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventDispatch(t *testing.T) {
	server := NewServer(nil)
	received := make(chan []any, 1)
	server.On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.On("chat", func(ev ...any) {
			received <- ev
		})
	})

	_, conn := connectedSocket(t, server)
	conn.receive(`2["chat","hello",42]`)

	select {
	case ev := <-received:
		if ev[0] != "hello" || ev[1] != float64(42) {
			t.Fatalf("unexpected arguments %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestInboundAck(t *testing.T) {
	server := NewServer(nil)
	server.On("connection", func(args ...any) {
		s := args[0].(*Socket)
		s.On("echo", func(ev ...any) {
			ack := ev[len(ev)-1].(Ack)
			ack([]any{ev[0]}, nil)
			// a second reply is swallowed
			ack([]any{"again"}, nil)
		})
	})

	_, conn := connectedSocket(t, server)
	conn.receive(`27["echo","hi"]`)

	frame := conn.nextFrame(t)
	if frame != `37["hi"]` {
		t.Fatalf("unexpected ack frame %q", frame)
	}
	conn.expectNoFrame(t)
}

func TestOutboundEmitAndAck(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	responses := make(chan []any, 1)
	if err := socket.Emit("greet", "yo", Ack(func(args []any, err error) {
		if err != nil {
			t.Errorf("unexpected ack error: %v", err)
		}
		responses <- args
	})); err != nil {
		t.Fatalf("emit: %v", err)
	}

	frame := conn.nextFrame(t)
	if frame != `21["greet","yo"]` {
		t.Fatalf("unexpected frame %q", frame)
	}
	conn.receive(`31["sup"]`)

	select {
	case args := <-responses:
		if len(args) != 1 || args[0] != "sup" {
			t.Fatalf("unexpected response %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("ack not resolved")
	}
}

func TestAckTimeout(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	errCh := make(chan error, 1)
	socket.Timeout(50 * time.Millisecond).Emit("slow", Ack(func(_ []any, err error) {
		errCh <- err
	}))
	conn.nextFrame(t)

	select {
	case err := <-errCh:
		if err != ErrAckTimeout {
			t.Fatalf("expected ErrAckTimeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ack not resolved")
	}

	// a late reply is swallowed
	conn.receive(`31["late"]`)
	conn.expectNoFrame(t)
}

func TestVolatileDroppedWhenNotWritable(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	conn.transport.setWritable(false)
	socket.Volatile().Emit("update", 1)
	conn.expectNoFrame(t)

	conn.transport.setWritable(true)
	socket.Volatile().Emit("update", 2)
	if frame := conn.nextFrame(t); frame != `2["update",2]` {
		t.Fatalf("unexpected frame %q", frame)
	}
}

func TestReservedEventRejected(t *testing.T) {
	server := NewServer(nil)
	socket, _ := connectedSocket(t, server)

	if err := socket.Emit("disconnect"); err == nil {
		t.Fatal("expected an error for a reserved event name")
	}
	if err := server.Emit("connection"); err == nil {
		t.Fatal("expected an error for a reserved event name")
	}
}

func TestClientDisconnectPacket(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	reasons := make(chan string, 2)
	socket.On("disconnecting", func(args ...any) {
		reasons <- "disconnecting:" + args[0].(string)
	})
	socket.On("disconnect", func(args ...any) {
		reasons <- "disconnect:" + args[0].(string)
	})

	conn.receive("1")

	for _, want := range []string{
		"disconnecting:client namespace disconnect",
		"disconnect:client namespace disconnect",
	} {
		select {
		case got := <-reasons:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(time.Second):
			t.Fatal("disconnect events not fired")
		}
	}
	if socket.Connected() {
		t.Fatal("socket should be disconnected")
	}
	if _, ok := server.sockets.Sockets().Load(socket.Id()); ok {
		t.Fatal("socket should be removed from the namespace")
	}
}

func TestServerSideDisconnect(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	socket.Disconnect(false)
	if frame := conn.nextFrame(t); frame != "1" {
		t.Fatalf("expected a DISCONNECT packet, got %q", frame)
	}
	if socket.Connected() {
		t.Fatal("socket should be disconnected")
	}
	if conn.ReadyState() != "open" {
		t.Fatal("the connection must survive a namespace-only disconnect")
	}

	socket2, conn2 := connectedSocket(t, server)
	socket2.Disconnect(true)
	if conn2.ReadyState() != "closed" {
		t.Fatal("the connection should be closed")
	}
}

func TestPendingAcksFlushedOnDisconnect(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	errCh := make(chan error, 1)
	socket.Emit("question", Ack(func(_ []any, err error) {
		errCh <- err
	}))
	conn.nextFrame(t)

	conn.receive("1")
	select {
	case err := <-errCh:
		if err != ErrSocketDisconnected {
			t.Fatalf("expected ErrSocketDisconnected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending ack not flushed")
	}
}

func TestBinaryEventDispatch(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	payload := make(chan []byte, 1)
	socket.On("pic", func(args ...any) {
		buf, ok := args[0].([]byte)
		if !ok {
			t.Errorf("expected a byte slice, got %T", args[0])
			return
		}
		payload <- buf
	})

	conn.receive(`51-["pic",{"_placeholder":true,"num":0}]`)
	conn.receiveBinary([]byte{9, 8, 7})

	select {
	case buf := <-payload:
		if string(buf) != "\x09\x08\x07" {
			t.Fatalf("binary payload corrupted: %v", buf)
		}
	case <-time.After(time.Second):
		t.Fatal("binary event not dispatched")
	}
}

func TestConnectErrorRoutedToSession(t *testing.T) {
	server := NewServer(nil)
	socket, conn := connectedSocket(t, server)

	errCh := make(chan error, 1)
	socket.On("error", func(args ...any) {
		errCh <- args[0].(error)
	})

	conn.receive(`4{"message":"denied"}`)
	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "denied") {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("CONNECT_ERROR not routed to the session")
	}
	if !socket.Connected() {
		t.Fatal("the session must survive an inbound CONNECT_ERROR")
	}
	if conn.ReadyState() != "open" {
		t.Fatal("the connection must stay open")
	}
}

func TestConnectErrorWithoutSessionIgnored(t *testing.T) {
	server := NewServer(nil)
	conn := newFakeConn()
	NewClient(server, conn)

	conn.receive(`4{"message":"stray"}`)
	conn.receive(`4/nope,{"message":"stray"}`)
	conn.expectNoFrame(t)
	if conn.ReadyState() != "open" {
		t.Fatal("a stray CONNECT_ERROR must be ignored, not close the connection")
	}
}

func TestConnectTimeoutDropsIdleConnection(t *testing.T) {
	opts := DefaultServerOptions().SetConnectTimeout(20 * time.Millisecond)
	server := NewServer(opts)

	idle := newFakeConn()
	NewClient(server, idle)
	deadline := time.Now().Add(time.Second)
	for idle.ReadyState() != "closed" {
		if time.Now().After(deadline) {
			t.Fatal("idle connection not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a connection that joins a namespace in time is kept
	busy := newFakeConn()
	NewClient(server, busy)
	busy.receive("0")
	busy.nextFrame(t)
	time.Sleep(50 * time.Millisecond)
	if busy.ReadyState() != "open" {
		t.Fatal("a connected session must not be timed out")
	}

	// closing before the timer fires must not race the teardown
	gone := newFakeConn()
	NewClient(server, gone)
	gone.Close()
	time.Sleep(50 * time.Millisecond)
}
