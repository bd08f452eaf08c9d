package engine

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/zishang520/webtransport-go"

	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
)

var webtransport_log = log.NewLog("sio:webtransport")

const (
	wtFrameText   = 0
	wtFrameBinary = 1
)

// webTransportTransport carries transport packets over a single
// bidirectional WebTransport stream. Stream chunks give no message
// boundaries, so each packet is framed as a uvarint length, a one byte
// text/binary flag, then the payload.
type webTransportTransport struct {
	*baseTransport

	session    *webtransport.Session
	stream     webtransport.Stream
	maxPayload int64
	writeMu    sync.Mutex
}

func NewWebTransportTransport(session *webtransport.Session, stream webtransport.Stream, maxPayload int64) Transport {
	t := &webTransportTransport{
		baseTransport: newBaseTransport(),
		session:       session,
		stream:        stream,
		maxPayload:    maxPayload,
	}
	t.writable = true
	return t
}

func (t *webTransportTransport) Open() {
	go t.readLoop()
}

func (t *webTransportTransport) Name() string {
	return "webtransport"
}

func (t *webTransportTransport) HandlesUpgrades() bool {
	return true
}

func (t *webTransportTransport) readLoop() {
	reader := bufio.NewReader(t.stream)
	for {
		length, err := binary.ReadUvarint(reader)
		if err != nil {
			t.onReadError(err)
			return
		}
		if length < 1 || int64(length) > t.maxPayload+1 {
			t.onReadError(ErrInvalidPacketData)
			return
		}
		flag, err := reader.ReadByte()
		if err != nil {
			t.onReadError(err)
			return
		}
		payload := make([]byte, length-1)
		if _, err := io.ReadFull(reader, payload); err != nil {
			t.onReadError(err)
			return
		}
		var frame types.BufferInterface
		if flag == wtFrameBinary {
			frame = types.NewBytesBuffer(payload)
		} else {
			frame = types.NewStringBufferString(string(payload))
		}
		packet, err := DecodePacket(frame)
		if err != nil {
			webtransport_log.Debug("ignoring undecodable frame: %v", err)
			t.Emit("error", err)
			continue
		}
		t.Emit("packet", packet)
	}
}

func (t *webTransportTransport) onReadError(err error) {
	if !t.markClosed() {
		return
	}
	webtransport_log.Debug("webtransport closed: %v", err)
	t.session.CloseWithError(0, "")
	t.Emit("close", "transport close")
}

func (t *webTransportTransport) Send(packets []*Packet) {
	if t.discardedOrClosed() {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var header [binary.MaxVarintLen64]byte
	for _, packet := range packets {
		encoded, err := EncodePacket(packet, true)
		if err != nil {
			t.Emit("error", err)
			continue
		}
		flag := byte(wtFrameText)
		if _, isBinary := encoded.(*types.BytesBuffer); isBinary {
			flag = wtFrameBinary
		}
		n := binary.PutUvarint(header[:], uint64(encoded.Len()+1))
		if _, err := t.stream.Write(header[:n]); err != nil {
			t.Emit("error", err)
			return
		}
		if _, err := t.stream.Write([]byte{flag}); err != nil {
			t.Emit("error", err)
			return
		}
		if _, err := t.stream.Write(encoded.Bytes()); err != nil {
			t.Emit("error", err)
			return
		}
	}
}

func (t *webTransportTransport) Close() {
	if !t.markClosed() {
		return
	}
	t.stream.Close()
	t.session.CloseWithError(0, "")
	t.Emit("close", "forced close")
}
