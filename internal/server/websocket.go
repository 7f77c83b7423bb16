package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jamesruggles/surfacewatch/internal/telemetry"
	"github.com/jamesruggles/surfacewatch/internal/tools"
)

const writeTimeout = 5 * time.Second

// Hub fans live scanner output out to WebSocket clients subscribed to a
// scan. It satisfies scanner.Broadcaster.
type Hub struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	clients map[int64]map[*websocket.Conn]struct{}
}

func NewHub(logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.New(nil)
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[int64]map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) Subscribe(scanID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[scanID] == nil {
		h.clients[scanID] = make(map[*websocket.Conn]struct{})
	}
	if _, ok := h.clients[scanID][conn]; !ok {
		h.clients[scanID][conn] = struct{}{}
		h.metrics.WSClients.Inc()
	}
}

func (h *Hub) Unsubscribe(scanID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[scanID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; ok {
		delete(conns, conn)
		h.metrics.WSClients.Dec()
	}
	if len(conns) == 0 {
		delete(h.clients, scanID)
	}
}

// Subscribers reports how many clients follow scanID.
func (h *Hub) Subscribers(scanID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scanID])
}

func (h *Hub) Broadcast(scanID int64, line tools.OutputLine) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[scanID]))
	for c := range h.clients[scanID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(line)
	if err != nil {
		return
	}

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("ws write error", "scan_id", scanID, "error", err)
			h.Unsubscribe(scanID, conn)
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

type wsSubscribeMsg struct {
	ScanID int64 `json:"scan_id"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("ws accept error", "error", err)
		return
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(r.Context())
	if err != nil {
		return
	}

	var msg wsSubscribeMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.ScanID == 0 {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid subscribe message")
		return
	}

	s.hub.Subscribe(msg.ScanID, conn)
	defer s.hub.Unsubscribe(msg.ScanID, conn)

	// hold until the client goes away
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}
