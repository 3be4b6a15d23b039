package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
)

const (
	wsPingInterval = 30 * time.Second

	// wsPongWait allows two missed pongs before the connection is declared
	// dead and terminated.
	wsPongWait = 2*wsPingInterval + 5*time.Second

	wsWriteWait = 10 * time.Second

	// wsSendBuffer is the per-client queue; a client that falls this far
	// behind is dropped rather than allowed to stall the broadcast.
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway binds to localhost; browser pages served from anywhere may
	// open the stream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEnvelope is the JSON shape written to every stream client.
type wsEnvelope struct {
	Type  events.Kind  `json:"type"`
	Event events.Event `json:"event"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans event bus traffic out to WebSocket clients. Writes are
// non-blocking: a full client queue drops the client instead of pausing the
// publisher.
type Hub struct {
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates a Hub and subscribes it to bus.
func NewHub(bus *events.Bus, log *logger.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	h := &Hub{log: log, metrics: m, clients: make(map[*wsClient]struct{})}
	bus.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorf("gateway: ws upgrade: %v", err)
		}
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSClients.Add(1)

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) broadcast(ev events.Event) {
	data, err := json.Marshal(wsEnvelope{Type: ev.Kind, Event: ev})
	if err != nil {
		return
	}
	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Queue full: the client is too slow to keep.
			delete(h.clients, client)
			close(client.send)
		}
	}
	h.mu.Unlock()
}

// readPump consumes inbound frames so pongs and close frames are processed,
// discarding everything else.
func (h *Hub) readPump(client *wsClient) {
	defer h.drop(client)
	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop removes a client from the set and closes its connection.
func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
	h.metrics.WSClients.Add(-1)
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
