package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atlasmeta/reindexer/internal/reindex"
)

// clientBuffer is the per-connection send queue depth. A client that
// cannot keep up is dropped rather than blocking the broadcast.
const clientBuffer = 16

// writeWait bounds a single websocket write.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub broadcasts job progress events to connected websocket clients. It
// implements reindex.Notifier so it can be handed straight to the job
// runner.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewHub builds an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish fans a job event out to every connected client. Implements
// reindex.Notifier; never blocks the publisher.
func (h *Hub) Publish(event reindex.JobEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encoding job event failed", "jobId", event.JobID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			// Slow consumer: drop the connection, not the event stream.
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Publish becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *Hub) register() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unregister(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeWS upgrades the request and streams job events until the client
// disconnects or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ch, ok := h.register()
	if !ok {
		conn.Close()
		return
	}
	h.log.Debug("websocket client connected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	go func() {
		defer h.unregister(ch)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for payload := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(ch)
			return
		}
	}
}
