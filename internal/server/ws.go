package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/netcam/internal/app"
	"github.com/ayusman/netcam/internal/detector"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type frameMessage struct {
	Type             string               `json:"type"`
	Seq              uint64               `json:"seq"`
	DetectionEnabled bool                 `json:"detection_enabled"`
	Detections       []detector.Detection `json:"detections"`
	Timestamp        int64                `json:"timestamp"`
}

type statusMessage struct {
	Type   string     `json:"type"`
	Status app.Status `json:"status"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// DetectionsHub pushes per-frame detections and status changes to WebSocket
// clients. Slow clients miss messages rather than stall the pipeline.
type DetectionsHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	log     *slog.Logger
	last    []byte
}

// NewDetectionsHub creates an empty hub.
func NewDetectionsHub(logger *slog.Logger) *DetectionsHub {
	return &DetectionsHub{
		clients: make(map[*wsClient]struct{}),
		log:     logger,
	}
}

// FramePublished broadcasts the detections of f.
func (h *DetectionsHub) FramePublished(f *app.Frame) {
	if h.ClientCount() == 0 {
		return
	}

	dets := f.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	msg, err := json.Marshal(frameMessage{
		Type:             "frame",
		Seq:              f.Seq,
		DetectionEnabled: f.DetectionEnabled,
		Detections:       dets,
		Timestamp:        f.Timestamp.UnixMilli(),
	})
	if err != nil {
		return
	}
	h.broadcast(msg)
}

// StatusChanged broadcasts s and remembers it for clients that join later.
func (h *DetectionsHub) StatusChanged(s app.Status) {
	msg, err := json.Marshal(statusMessage{Type: "status", Status: publicStatus(s)})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()

	h.broadcast(msg)
}

func (h *DetectionsHub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *DetectionsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *DetectionsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go c.writeLoop()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writeLoop() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// Close disconnects all clients.
func (h *DetectionsHub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
