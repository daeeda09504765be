package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pagepulse/collector/pkg/logger"
)

// StreamEvent is one message on the live telemetry stream.
type StreamEvent struct {
	Type     string    `json:"type"` // "report" or "vitals"
	Payload  any       `json:"payload"`
	Received time.Time `json:"received"`
}

// streamClient is one connected websocket consumer. Slow clients are
// dropped rather than buffered indefinitely.
type streamClient struct {
	id   string
	send chan []byte
}

// Hub fans telemetry events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger
	metrics  *Metrics

	mu      sync.RWMutex
	clients map[string]*streamClient
	closed  bool
}

const clientSendBuffer = 64

// NewHub creates an empty hub.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Beacons come from arbitrary site origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger.Global().WithComponent("stream"),
		clients: make(map[string]*streamClient),
		metrics: metrics,
	}
}

// Broadcast sends an event to every connected client. Clients whose
// send buffer is full miss the event.
func (h *Hub) Broadcast(ev StreamEvent) {
	if ev.Received.IsZero() {
		ev.Received = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("failed to serialize stream event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("dropping event for slow stream client", "client_id", id)
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &streamClient{
		id:   uuid.NewString(),
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	h.metrics.StreamClients.Inc()
	h.log.Info("stream client connected", "client_id", client.id, "remote", r.RemoteAddr)

	defer func() {
		h.remove(client.id)
		h.metrics.StreamClients.Dec()
		conn.Close()
		h.log.Info("stream client disconnected", "client_id", client.id)
	}()

	// Reader goroutine: discard inbound frames, detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data, ok := <-client.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
