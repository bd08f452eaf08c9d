package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evsio/evsio/types"
)

type handshakePayload struct {
	Sid          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

func pollingHandshake(t *testing.T, ts *httptest.Server) *handshakePayload {
	t.Helper()
	resp, err := http.Get(ts.URL + "/?EIO=4&transport=polling")
	if err != nil {
		t.Fatalf("handshake request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("handshake status %d: %s", resp.StatusCode, body)
	}
	if len(body) == 0 || body[0] != '0' {
		t.Fatalf("expected an open packet, got %q", body)
	}
	var handshake handshakePayload
	if err := json.Unmarshal(body[1:], &handshake); err != nil {
		t.Fatalf("handshake payload: %v", err)
	}
	return &handshake
}

func TestHandshakeRejectsWrongProtocolVersion(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/?EIO=3&transport=polling")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandshakeRejectsUnknownTransport(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/?EIO=4&transport=carrierpigeon")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownSidRejected(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/?EIO=4&transport=polling&sid=nope")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPollingHandshake(t *testing.T) {
	srv := NewServer(nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	handshake := pollingHandshake(t, ts)
	if handshake.Sid == "" {
		t.Fatal("missing sid")
	}
	if len(handshake.Upgrades) != 1 || handshake.Upgrades[0] != "websocket" {
		t.Fatalf("unexpected upgrades %v", handshake.Upgrades)
	}
	if handshake.PingInterval != 25_000 || handshake.PingTimeout != 20_000 {
		t.Fatalf("unexpected heartbeat config %d/%d", handshake.PingInterval, handshake.PingTimeout)
	}
	if srv.ClientsCount() != 1 {
		t.Fatalf("expected 1 client, got %d", srv.ClientsCount())
	}
}

func TestPollingPostDeliversMessage(t *testing.T) {
	srv := NewServer(nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	dataCh := make(chan string, 1)
	srv.On("connection", func(args ...any) {
		client := args[0].(Socket)
		client.On("data", func(args ...any) {
			dataCh <- args[0].(types.BufferInterface).String()
		})
	})

	handshake := pollingHandshake(t, ts)

	resp, err := http.Post(
		ts.URL+"/?EIO=4&transport=polling&sid="+handshake.Sid,
		"text/plain;charset=UTF-8",
		strings.NewReader("4hello"),
	)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf(`expected "ok", got %q`, body)
	}

	select {
	case got := <-dataCh:
		if got != "hello" {
			t.Fatalf("unexpected payload %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/?EIO=4&transport=websocket"
}

func TestWebSocketHandshakeAndHeartbeat(t *testing.T) {
	opts := DefaultServerOptions().
		SetPingInterval(50 * time.Millisecond).
		SetPingTimeout(500 * time.Millisecond)
	srv := NewServer(opts)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read open: %v", err)
	}
	if len(frame) == 0 || frame[0] != '0' {
		t.Fatalf("expected an open packet, got %q", frame)
	}
	var handshake handshakePayload
	if err := json.Unmarshal(frame[1:], &handshake); err != nil {
		t.Fatalf("handshake payload: %v", err)
	}
	if len(handshake.Upgrades) != 0 {
		t.Fatalf("websocket needs no upgrades, got %v", handshake.Upgrades)
	}

	// two heartbeat rounds
	for range 2 {
		_, frame, err = conn.ReadMessage()
		if err != nil {
			t.Fatalf("read ping: %v", err)
		}
		if string(frame) != "2" {
			t.Fatalf("expected a ping, got %q", frame)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("3")); err != nil {
			t.Fatalf("write pong: %v", err)
		}
	}
}

func TestMissedPongClosesSession(t *testing.T) {
	opts := DefaultServerOptions().
		SetPingInterval(50 * time.Millisecond).
		SetPingTimeout(100 * time.Millisecond)
	srv := NewServer(opts)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	closeCh := make(chan string, 1)
	srv.On("connection", func(args ...any) {
		client := args[0].(Socket)
		client.On("close", func(args ...any) {
			closeCh <- args[0].(string)
		})
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case reason := <-closeCh:
		if reason != "ping timeout" {
			t.Fatalf("unexpected close reason %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
}
