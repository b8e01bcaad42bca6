package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bizyou-chat/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // Must be less than pongWait
)

// Source opens WebSocket realtime subscriptions against the message
// store. It implements domain.EventSource.
type Source struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewSource creates an event source for the store at baseURL
// (http/https scheme; it is rewritten to ws/wss).
func NewSource(baseURL string) *Source {
	return &Source{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dialer:  websocket.DefaultDialer,
	}
}

// Subscribe dials the room's event stream. Events are delivered in
// arrival order until Close or context cancellation; the channel is
// closed on teardown.
func (s *Source) Subscribe(ctx context.Context, roomID string, isGroup bool) (domain.Subscription, error) {
	endpoint := s.baseURL + "/ws/rooms/" + url.PathEscape(roomID)
	if isGroup {
		endpoint += "?group=true"
	}
	endpoint = strings.Replace(endpoint, "http", "ws", 1)

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime stream: %w", err)
	}

	sub := &subscription{
		conn:   conn,
		roomID: roomID,
		events: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}

	go sub.readPump()
	go sub.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

type subscription struct {
	conn    *websocket.Conn
	roomID  string
	events  chan domain.Event
	done    chan struct{}
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (s *subscription) Events() <-chan domain.Event { return s.events }

// Close tears down the connection; pending events already decoded are
// still delivered before the channel closes.
func (s *subscription) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *subscription) readPump() {
	defer func() {
		s.Close()
		close(s.events)
	}()

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("realtime stream error",
					slog.String("room_id", s.roomID),
					slog.String("error", err.Error()))
			}
			return
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid realtime event",
				slog.String("room_id", s.roomID),
				slog.String("error", err.Error()))
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
