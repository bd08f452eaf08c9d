package engine

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/evsio/evsio/log"
	"github.com/evsio/evsio/types"
)

var polling_log = log.NewLog("sio:polling")

// compressionThreshold is the minimum payload size before a polling
// response is compressed.
const compressionThreshold = 1024

// pollingTransport implements HTTP long-polling: inbound packets arrive
// as POST payloads, outbound packets are held until a GET parks on the
// endpoint. The transport is writable only while a GET is parked.
type pollingTransport struct {
	*baseTransport

	maxHttpBufferSize int64
	httpCompression   bool

	// guarded by baseTransport.mu
	buffer   []*Packet
	pollCh   chan []*Packet
	shutdown chan struct{}
}

func NewPollingTransport(maxHttpBufferSize int64, httpCompression bool) Transport {
	return &pollingTransport{
		baseTransport:     newBaseTransport(),
		maxHttpBufferSize: maxHttpBufferSize,
		httpCompression:   httpCompression,
		shutdown:          make(chan struct{}),
	}
}

func (t *pollingTransport) Name() string {
	return "polling"
}

func (t *pollingTransport) HandlesUpgrades() bool {
	return false
}

// Open is a no-op: polling only delivers inbound packets while serving a
// POST, which cannot happen before the session is wired up.
func (t *pollingTransport) Open() {}

// OnRequest serves one HTTP exchange on this transport.
func (t *pollingTransport) OnRequest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.onPollRequest(w, r)
	case http.MethodPost:
		t.onDataRequest(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *pollingTransport) onPollRequest(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	if t.pollCh != nil {
		t.mu.Unlock()
		polling_log.Debug("request overlap")
		t.Emit("error", ErrInvalidPacketData)
		http.Error(w, "overlap from client", http.StatusBadRequest)
		t.Close()
		return
	}
	if len(t.buffer) > 0 {
		packets := t.buffer
		t.buffer = nil
		t.mu.Unlock()
		t.respond(w, r, packets)
		return
	}
	ch := make(chan []*Packet, 1)
	t.pollCh = ch
	t.writable = true
	t.mu.Unlock()

	t.Emit("drain")

	select {
	case packets := <-ch:
		t.respond(w, r, packets)
	case <-t.shutdown:
		t.respond(w, r, []*Packet{{Type: CLOSE}})
	case <-r.Context().Done():
		polling_log.Debug("poll connection dropped by client")
		t.mu.Lock()
		t.pollCh = nil
		t.writable = false
		t.mu.Unlock()
		t.onClose("transport close")
		return
	}

	t.mu.Lock()
	if t.pollCh == ch {
		t.pollCh = nil
	}
	t.writable = false
	t.mu.Unlock()
}

func (t *pollingTransport) onDataRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.maxHttpBufferSize))
	if err != nil {
		t.Emit("error", err)
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		t.Close()
		return
	}
	packets, err := DecodePayload(string(body))
	if err != nil {
		t.Emit("error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, packet := range packets {
		if packet.Type == CLOSE {
			polling_log.Debug("got xhr close packet")
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("ok"))
			t.onClose("transport close")
			return
		}
		t.Emit("packet", packet)
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("ok"))
}

func (t *pollingTransport) Send(packets []*Packet) {
	t.mu.Lock()
	if t.discarded {
		t.mu.Unlock()
		return
	}
	if t.pollCh != nil {
		ch := t.pollCh
		t.pollCh = nil
		t.writable = false
		t.mu.Unlock()
		ch <- packets
		return
	}
	t.buffer = append(t.buffer, packets...)
	t.mu.Unlock()
}

func (t *pollingTransport) respond(w http.ResponseWriter, r *http.Request, packets []*Packet) {
	payload, err := EncodePayload(packets)
	if err != nil {
		t.Emit("error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.write(w, r, payload)
}

func (t *pollingTransport) write(w http.ResponseWriter, r *http.Request, payload *types.StringBuffer) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")

	if t.httpCompression && payload.Len() >= compressionThreshold {
		if encoding := acceptedEncoding(r); encoding != "" {
			w.Header().Set("Content-Encoding", encoding)
			var compressor io.WriteCloser
			switch encoding {
			case "br":
				compressor = brotli.NewWriterLevel(w, brotli.DefaultCompression)
			case "gzip":
				compressor, _ = gzip.NewWriterLevel(w, gzip.DefaultCompression)
			case "deflate":
				compressor, _ = flate.NewWriter(w, flate.DefaultCompression)
			}
			compressor.Write(payload.Bytes())
			compressor.Close()
			return
		}
	}
	w.Write(payload.Bytes())
}

func acceptedEncoding(r *http.Request) string {
	accepted := r.Header.Get("Accept-Encoding")
	for _, encoding := range []string{"br", "gzip", "deflate"} {
		if strings.Contains(accepted, encoding) {
			return encoding
		}
	}
	return ""
}

func (t *pollingTransport) Close() {
	t.onClose("forced close")
}

func (t *pollingTransport) onClose(reason string) {
	if !t.markClosed() {
		return
	}
	close(t.shutdown)
	t.Emit("close", reason)
}
