package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	ws "bizyou-chat/internal/websocket"
)

// WebSocketHandler upgrades realtime subscription requests and
// attaches them to the hub.
type WebSocketHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins string) *WebSocketHandler {
	h := &WebSocketHandler{hub: hub}
	for _, o := range strings.Split(allowedOrigins, ",") {
		h.allowedOrigins = append(h.allowedOrigins, strings.TrimSpace(o))
	}
	return h
}

func (h *WebSocketHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients (the mobile app) send no Origin
				return true
			}
			for _, o := range h.allowedOrigins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// HandleConnection handles WebSocket upgrade and subscription
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	if roomID == "" {
		http.Error(w, `{"error":"Room ID required"}`, http.StatusBadRequest)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
		return
	}

	client := ws.NewConn(h.hub, conn, roomID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
