package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/malbeclabs/analyst/api/metrics"
	"github.com/malbeclabs/analyst/pkg/chat"
)

const wsWriteTimeout = 10 * time.Second

// wsSink delivers broadcast chat messages to one WebSocket connection.
type wsSink struct {
	conn *websocket.Conn
	addr string
	mu   sync.Mutex
}

func (s *wsSink) Name() string {
	return "ws:" + s.addr
}

func (s *wsSink) Send(ctx context.Context, msg chat.Message) error {
	return s.write(ctx, func(c *websocket.Conn) error { return c.WriteJSON(msg) })
}

func (s *wsSink) sendText(text string) error {
	return s.write(context.Background(), func(c *websocket.Conn) error {
		return c.WriteMessage(websocket.TextMessage, []byte(text))
	})
}

// write serializes writers; gorilla connections allow one concurrent writer.
func (s *wsSink) write(ctx context.Context, fn func(*websocket.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return fn(s.conn)
}

// WebSocket upgrades the connection, subscribes it to completed chat messages and
// echoes every text it receives as "Received: <text>".
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	sink := &wsSink{conn: conn, addr: r.RemoteAddr}
	unregister := h.cfg.Chat.Hub().Register(sink)
	defer unregister()
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	h.log.Info("ws: client connected", "remote", r.RemoteAddr)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("ws: read failed", "remote", r.RemoteAddr, "error", err)
			}
			h.log.Info("ws: client disconnected", "remote", r.RemoteAddr)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := sink.sendText("Received: " + string(data)); err != nil {
			h.log.Warn("ws: write failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
