// Package realtime provides WebSocket streaming of scan progress.
//
// Each connection watches exactly one scan session: the client receives
// a snapshot of the current state on join, then StepEvents in completion
// order until the terminal event closes the stream.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/scan"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Streamer hands out per-scan event subscriptions.
type Streamer interface {
	Subscribe(ctx context.Context, scanID string) (scan.StepEvent, <-chan scan.StepEvent, func(), error)
}

// Hub manages WebSocket connections streaming scan progress.
type Hub struct {
	streamer   Streamer
	logger     *slog.Logger
	maxClients int

	mu      sync.Mutex
	clients int
	done    chan struct{}

	totalClients atomic.Int64
	totalEvents  atomic.Int64
}

// NewHub creates a scan stream hub.
func NewHub(streamer Streamer, logger *slog.Logger) *Hub {
	return &Hub{
		streamer:   streamer,
		logger:     logger,
		maxClients: MaxClients,
		done:       make(chan struct{}),
	}
}

// Shutdown stops accepting upgrades. Existing streams end when their
// scans do.
func (h *Hub) Shutdown() {
	close(h.done)
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"connectedClients": h.clients,
		"totalClients":     h.totalClients.Load(),
		"totalEvents":      h.totalEvents.Load(),
	}
}

// HandleScanStream upgrades GET /ws/scans/:id to a WebSocket and pumps
// StepEvents until the terminal event.
func (h *Hub) HandleScanStream(c *gin.Context) {
	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	default:
	}

	h.mu.Lock()
	if h.clients >= h.maxClients {
		h.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}
	h.mu.Unlock()

	snapshot, events, unsubscribe, err := h.streamer.Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients++
	h.mu.Unlock()
	h.totalClients.Add(1)
	metrics.ActiveStreamClients.Inc()

	go h.stream(conn, snapshot, events, unsubscribe)
}

func (h *Hub) stream(conn *websocket.Conn, snapshot scan.StepEvent, events <-chan scan.StepEvent, unsubscribe func()) {
	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = conn.Close()
		h.mu.Lock()
		h.clients--
		h.mu.Unlock()
		metrics.ActiveStreamClients.Dec()
	}()

	if !h.write(conn, snapshot) {
		return
	}
	if snapshot.Terminal() {
		h.closeNormally(conn)
		return
	}

	for {
		select {
		case <-closed:
			return

		case ev, ok := <-events:
			if !ok {
				h.closeNormally(conn)
				return
			}
			if !h.write(conn, ev) {
				return
			}
			if ev.Terminal() {
				h.closeNormally(conn)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, ev scan.StepEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("websocket write error", "error", err)
		return false
	}
	h.totalEvents.Add(1)
	return true
}

func (h *Hub) closeNormally(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
}

// readPump drains client frames so pongs are processed and disconnects
// are noticed.
func (h *Hub) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}
