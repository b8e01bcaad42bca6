package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/repository/postgres"
	ws "bizyou-chat/internal/websocket"
)

// MessageHandler exposes the message store API: page fetch and row
// insert. Inserts are broadcast to realtime subscribers after the row
// is persisted.
type MessageHandler struct {
	repo *postgres.MessageRepository
	hub  *ws.Hub
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(repo *postgres.MessageRepository, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{
		repo: repo,
		hub:  hub,
	}
}

// GetPage retrieves one page of messages for a room
func (h *MessageHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")
	if roomID == "" {
		http.Error(w, `{"error":"Room ID required"}`, http.StatusBadRequest)
		return
	}

	requester := r.URL.Query().Get("requester")
	if requester == "" {
		http.Error(w, `{"error":"Requester identity required"}`, http.StatusBadRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			http.Error(w, `{"error":"Invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	page, err := h.repo.FetchPage(r.Context(), domain.PageQuery{
		RoomID:      roomID,
		RequesterID: requester,
		Limit:       limit,
		Cursor:      r.URL.Query().Get("cursor"),
		IsGroup:     r.URL.Query().Get("group") == "true",
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"Failed to retrieve messages"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// Insert persists one message row and fans the insert event out to the
// room's realtime subscribers
func (h *MessageHandler) Insert(w http.ResponseWriter, r *http.Request) {
	var ins domain.MessageInsert
	if err := json.NewDecoder(r.Body).Decode(&ins); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}

	// System messages are produced server-side only
	if strings.HasPrefix(ins.Text, domain.SystemPrefix) {
		http.Error(w, `{"error":"Reserved message prefix"}`, http.StatusBadRequest)
		return
	}

	msg, err := h.repo.Insert(r.Context(), ins)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"Failed to persist message"}`, http.StatusInternalServerError)
		return
	}

	h.broadcastInsert(ins, msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// broadcastInsert routes the row event to every subscription key the
// message belongs to. Direct rooms are keyed by partner identity, so
// each party listens under a different key and the event is emitted
// under both, with RoomID rewritten to the recipient's view.
func (h *MessageHandler) broadcastInsert(ins domain.MessageInsert, msg domain.Message) {
	if ins.IsGroup {
		h.hub.BroadcastEvent(ins.RoomID, domain.EventInsert, msg)
		return
	}

	senderView := msg
	senderView.RoomID = ins.RoomID
	h.hub.BroadcastEvent(ins.RoomID, domain.EventInsert, senderView)

	partnerView := msg
	partnerView.RoomID = ins.SenderID
	h.hub.BroadcastEvent(ins.SenderID, domain.EventInsert, partnerView)
}
