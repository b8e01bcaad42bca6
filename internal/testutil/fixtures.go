package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"bizyou-chat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderName string
	Text       string
	ImageURL   string
	ReplyTo    *domain.ReplyRef
	CreatedAt  time.Time
	IsSystem   bool
	Mine       bool
}

// NewTestMessage creates a test message with sensible defaults
// Pass options to override specific fields
func NewTestMessage(opts ...func(*MessageOptions)) domain.Message {
	o := &MessageOptions{
		ID:         nextID("msg"),
		RoomID:     "room-1",
		SenderID:   nextID("user"),
		SenderName: fmt.Sprintf("testuser%d", idCounter.Load()),
		Text:       "Hello, World!",
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return domain.Message{
		ID:         o.ID,
		RoomID:     o.RoomID,
		SenderID:   o.SenderID,
		SenderName: o.SenderName,
		Text:       o.Text,
		ImageURL:   o.ImageURL,
		ReplyTo:    o.ReplyTo,
		CreatedAt:  o.CreatedAt,
		IsSystem:   o.IsSystem,
		Mine:       o.Mine,
	}
}

// Message option functions

// WithID sets the message ID
func WithID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ID = id
	}
}

// WithRoomID sets the room ID for the message
func WithRoomID(roomID string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.RoomID = roomID
	}
}

// WithSender sets the sender identity
func WithSender(id, name string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.SenderID = id
		o.SenderName = name
	}
}

// WithText sets the message text
func WithText(text string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Text = text
	}
}

// WithImageURL sets the image URL and clears the default text so the
// fixture is an image-only message
func WithImageURL(url string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ImageURL = url
		o.Text = ""
	}
}

// WithReplyTo sets the reply reference
func WithReplyTo(ref *domain.ReplyRef) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ReplyTo = ref
	}
}

// WithCreatedAt sets the message creation time
func WithCreatedAt(t time.Time) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.CreatedAt = t
	}
}

// WithSystem marks the message as a system message
func WithSystem() func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.IsSystem = true
	}
}

// NewTestMessages creates count messages in the same room, newest
// first, one second apart
func NewTestMessages(roomID string, count int) []domain.Message {
	base := time.Now()
	messages := make([]domain.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = NewTestMessage(
			WithRoomID(roomID),
			WithCreatedAt(base.Add(-time.Duration(i)*time.Second)),
		)
	}
	return messages
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
