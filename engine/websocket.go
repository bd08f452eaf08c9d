package engine

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
)

var websocket_log = log.NewLog("sio:websocket")

// websocketTransport frames transport packets onto a WebSocket
// connection: text frames for text packets, binary frames for binary
// message payloads. Frame order on the wire preserves Send order.
type websocketTransport struct {
	*baseTransport

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn, maxPayload int64) Transport {
	t := &websocketTransport{
		baseTransport: newBaseTransport(),
		conn:          conn,
	}
	t.writable = true
	conn.SetReadLimit(maxPayload)
	return t
}

func (t *websocketTransport) Open() {
	go t.readLoop()
}

func (t *websocketTransport) Name() string {
	return "websocket"
}

func (t *websocketTransport) HandlesUpgrades() bool {
	return true
}

func (t *websocketTransport) readLoop() {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.onReadError(err)
			return
		}
		var frame types.BufferInterface
		if messageType == websocket.BinaryMessage {
			frame = types.NewBytesBuffer(data)
		} else {
			frame = types.NewStringBufferString(string(data))
		}
		packet, err := DecodePacket(frame)
		if err != nil {
			websocket_log.Debug("ignoring undecodable frame: %v", err)
			t.Emit("error", err)
			continue
		}
		t.Emit("packet", packet)
	}
}

// onReadError maps the websocket close code to a session close reason.
func (t *websocketTransport) onReadError(err error) {
	if !t.markClosed() {
		return
	}
	reason := "transport close"
	if closeErr, ok := err.(*websocket.CloseError); ok {
		switch {
		case closeErr.Code == websocket.CloseNormalClosure, closeErr.Code == websocket.CloseGoingAway:
			reason = "transport close"
		case closeErr.Code == websocket.ClosePolicyViolation:
			reason = "ping timeout"
		case closeErr.Code == websocket.CloseAbnormalClosure,
			closeErr.Code == websocket.CloseInternalServerErr,
			closeErr.Code >= 4000:
			reason = "transport error"
		}
	} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "transport error"
	}
	websocket_log.Debug("websocket closed: %v -> %s", err, reason)
	t.conn.Close()
	t.Emit("close", reason)
}

func (t *websocketTransport) Send(packets []*Packet) {
	if t.discardedOrClosed() {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, packet := range packets {
		encoded, err := EncodePacket(packet, true)
		if err != nil {
			t.Emit("error", err)
			continue
		}
		messageType := websocket.TextMessage
		if _, isBinary := encoded.(*types.BytesBuffer); isBinary {
			messageType = websocket.BinaryMessage
		}
		if err := t.conn.WriteMessage(messageType, encoded.Bytes()); err != nil {
			t.Emit("error", err)
			return
		}
	}
}

func (t *websocketTransport) Close() {
	if !t.markClosed() {
		return
	}
	t.writeMu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	t.conn.Close()
	t.Emit("close", "forced close")
}
