package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/observability"
)

// roomEvent is a row event to fan out to one room's subscribers.
type roomEvent struct {
	roomID  string
	kind    domain.EventKind
	payload []byte
}

// Hub maintains the realtime subscribers per room and fans row events
// out to them.
type Hub struct {
	// Registered connections by room
	conns map[string]map[*Conn]bool

	// Broadcast channel
	broadcast chan *roomEvent

	// Register connection
	register chan *Conn

	// Unregister connection
	unregister chan *Conn

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		conns:      make(map[string]map[*Conn]bool),
		broadcast:  make(chan *roomEvent, 256),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case conn := <-h.register:
			if h.conns[conn.roomID] == nil {
				h.conns[conn.roomID] = make(map[*Conn]bool)
			}
			h.conns[conn.roomID][conn] = true
			observability.WebSocketConnectionsActive.WithLabelValues(conn.roomID).Inc()
			slog.Info("realtime subscriber registered",
				slog.String("room_id", conn.roomID))

		case conn := <-h.unregister:
			h.unregisterConn(conn)

		case ev := <-h.broadcast:
			if conns, ok := h.conns[ev.roomID]; ok {
				for conn := range conns {
					select {
					case conn.send <- ev.payload:
						observability.WebSocketEventsSent.WithLabelValues(ev.roomID, string(ev.kind)).Inc()
					default:
						// Subscriber's send buffer is full, drop it
						h.closeConnSend(conn)
						delete(conns, conn)
					}
				}
			}
		}
	}
}

// unregisterConn safely removes a connection from the hub
func (h *Hub) unregisterConn(conn *Conn) {
	if conns, ok := h.conns[conn.roomID]; ok {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			h.closeConnSend(conn)
			observability.WebSocketConnectionsActive.WithLabelValues(conn.roomID).Dec()
			slog.Info("realtime subscriber unregistered",
				slog.String("room_id", conn.roomID))

			// Clean up empty room
			if len(conns) == 0 {
				delete(h.conns, conn.roomID)
			}
		}
	}
}

// closeConnSend safely closes a connection's send channel
func (h *Hub) closeConnSend(conn *Conn) {
	select {
	case <-conn.send:
		// Channel already closed
	default:
		close(conn.send)
	}
}

// shutdown performs graceful cleanup of all connections
func (h *Hub) shutdown() {
	close(h.done)

	for roomID, conns := range h.conns {
		for conn := range conns {
			h.closeConnSend(conn)
			slog.Info("closed realtime subscriber",
				slog.String("room_id", roomID))
		}
	}

	slog.Info("hub shutdown complete")
}

// BroadcastEvent fans a row event out to every subscriber of its room.
// Marshalling failures are logged and dropped; realtime delivery is
// never allowed to fail a persist.
func (h *Hub) BroadcastEvent(roomID string, kind domain.EventKind, msg domain.Message) {
	payload, err := json.Marshal(domain.Event{Kind: kind, Message: msg})
	if err != nil {
		slog.Error("failed to marshal row event",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
		return
	}

	h.broadcast <- &roomEvent{
		roomID:  roomID,
		kind:    kind,
		payload: payload,
	}
}

// Register registers a connection with the hub
func (h *Hub) Register(conn *Conn) {
	h.register <- conn
}

// Unregister removes a connection from the hub
func (h *Hub) Unregister(conn *Conn) {
	h.unregister <- conn
}
