package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocketHandler streams hub events to WebSocket clients.
type WebSocketHandler struct {
	hub            *Hub
	originPatterns []string
	writeTimeout   time.Duration
}

// NewWebSocketHandler creates a handler. originPatterns follows websocket.AcceptOptions.
func NewWebSocketHandler(hub *Hub, originPatterns []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		originPatterns: originPatterns,
		writeTimeout:   5 * time.Second,
	}
}

// ServeHTTP upgrades the connection, replays the backlog, then streams live events.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sub, backlog := h.hub.SubscribeWithBacklog()
	defer h.hub.Unsubscribe(sub)

	// Clients only listen; CloseRead handles control frames and cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	slog.Info("Event stream connected", "ip", r.RemoteAddr, "subscribers", h.hub.Subscribers())

	for _, ev := range backlog {
		if err := h.write(ctx, ws, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event stream disconnected", "ip", r.RemoteAddr)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, ev); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
