// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the bizyou-chat engine.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"bizyou-chat/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
)

// MockMessageStore implements domain.MessageStore for testing
type MockMessageStore struct {
	mu sync.Mutex

	// Function overrides - set these to customize behavior
	FetchPageFunc     func(ctx context.Context, q domain.PageQuery) (domain.Page, error)
	InsertMessageFunc func(ctx context.Context, ins domain.MessageInsert) (domain.Message, error)
	UploadImageFunc   func(ctx context.Context, r io.Reader, path string) (string, error)

	// Call recording for simple assertions
	FetchCalls   []domain.PageQuery
	InsertCalls  []domain.MessageInsert
	UploadPaths  []string
	insertedSeq  int
}

// NewMockMessageStore creates a new MockMessageStore
func NewMockMessageStore() *MockMessageStore {
	return &MockMessageStore{}
}

func (m *MockMessageStore) FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error) {
	m.mu.Lock()
	m.FetchCalls = append(m.FetchCalls, q)
	m.mu.Unlock()

	if m.FetchPageFunc != nil {
		return m.FetchPageFunc(ctx, q)
	}
	return domain.Page{Messages: []domain.Message{}}, nil
}

func (m *MockMessageStore) InsertMessage(ctx context.Context, ins domain.MessageInsert) (domain.Message, error) {
	m.mu.Lock()
	m.InsertCalls = append(m.InsertCalls, ins)
	m.mu.Unlock()

	if m.InsertMessageFunc != nil {
		return m.InsertMessageFunc(ctx, ins)
	}

	// Default: echo the insert back with a server-assigned identity
	m.mu.Lock()
	m.insertedSeq++
	seq := m.insertedSeq
	m.mu.Unlock()

	return domain.Message{
		ID:          fmt.Sprintf("srv-%d", seq),
		RoomID:      ins.RoomID,
		SenderID:    ins.SenderID,
		SenderName:  ins.SenderName,
		SenderImage: ins.SenderImage,
		Text:        ins.Text,
		ImageURL:    ins.ImageURL,
		ReplyTo:     ins.ReplyTo,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *MockMessageStore) UploadImage(ctx context.Context, r io.Reader, path string) (string, error) {
	m.mu.Lock()
	m.UploadPaths = append(m.UploadPaths, path)
	m.mu.Unlock()

	if m.UploadImageFunc != nil {
		return m.UploadImageFunc(ctx, r, path)
	}
	return "https://store.example.com/storage/" + path, nil
}

// Inserted returns a copy of the recorded insert calls
func (m *MockMessageStore) Inserted() []domain.MessageInsert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MessageInsert, len(m.InsertCalls))
	copy(out, m.InsertCalls)
	return out
}

// MockSubscription implements domain.Subscription for testing
type MockSubscription struct {
	Ch        chan domain.Event
	CloseFunc func() error

	mu     sync.Mutex
	closed bool
}

// NewMockSubscription creates a subscription with a buffered event channel
func NewMockSubscription() *MockSubscription {
	return &MockSubscription{Ch: make(chan domain.Event, 16)}
}

func (m *MockSubscription) Events() <-chan domain.Event { return m.Ch }

func (m *MockSubscription) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.Ch)
	}
	return nil
}

// Closed reports whether Close was called
func (m *MockSubscription) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
