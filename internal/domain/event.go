package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrMessageNotFound  = errors.New("message not found")
	ErrEmptySend        = errors.New("send requires text or at least one image")
	ErrNoIdentity       = errors.New("sender identity not resolved")
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// EventKind discriminates realtime row events.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// Event is one realtime notification for a message row. Delivery is
// at-least-once and may race the sender's own optimistic flow, so
// consumers must deduplicate by message id.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message Message   `json:"message"`
}

// Subscription is a live realtime event stream for one room.
type Subscription interface {
	// Events is closed when the subscription terminates.
	Events() <-chan Event
	Close() error
}

// EventSource opens realtime subscriptions against the remote store.
type EventSource interface {
	Subscribe(ctx context.Context, roomID string, isGroup bool) (Subscription, error)
}
