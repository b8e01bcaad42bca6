package domain

import (
	"context"
	"io"
	"strings"
	"time"
)

// SystemPrefix marks server-originated system messages. It is stripped
// during normalization and never applied on send.
const SystemPrefix = "[[sys]]"

// Sender is a snapshot of the sending user's identity at send time.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// ReplyRef is a weak reference to another message. The referenced
// message may no longer be loaded; it is never resolved transitively.
type ReplyRef struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
}

// Message represents a single chat entry.
//
// A message with Pending=true is provisional: its ID was generated
// locally and is replaced by the server-assigned identity during
// reconciliation. A provisional id and its authoritative id denote the
// same logical message and never coexist in a cache.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderImage string    `json:"sender_image,omitempty"`
	Text        string    `json:"text,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ReplyTo     *ReplyRef `json:"reply_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsSystem    bool      `json:"is_system,omitempty"`
	Mine        bool      `json:"-"`
	Pending     bool      `json:"-"`
}

// HasImage reports whether the message carries an image reference.
func (m *Message) HasImage() bool { return m.ImageURL != "" }

// Date returns the message's local calendar date, the display
// projection used for date separators and grouping.
func (m *Message) Date() string {
	return m.CreatedAt.Local().Format("2006-01-02")
}

// Normalize strips the system sentinel and computes the derived
// IsSystem and Mine flags for the given requester. System messages are
// never treated as the requester's own.
func (m *Message) Normalize(requesterID string) {
	if strings.HasPrefix(m.Text, SystemPrefix) {
		m.Text = strings.TrimPrefix(m.Text, SystemPrefix)
		m.IsSystem = true
	}
	m.Mine = !m.IsSystem && m.SenderID == requesterID
}

// Page is one batch of messages returned by a fetch, ordered strictly
// by CreatedAt descending. NextCursor is empty when the page is
// exhausted (fewer rows than requested).
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// PageQuery identifies one page fetch.
type PageQuery struct {
	RoomID      string
	RequesterID string
	Limit       int
	Cursor      string
	IsGroup     bool
}

// MessageInsert is the write-side shape of a message row. The sender
// name and image are the identity snapshot taken at send time.
type MessageInsert struct {
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	SenderImage string    `json:"sender_image,omitempty"`
	RoomID      string    `json:"room_id"`
	IsGroup     bool      `json:"is_group"`
	Text        string    `json:"text,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ReplyTo     *ReplyRef `json:"reply_to,omitempty"`
}

// MessageStore is the remote collaborator holding the append-only
// message table and the image storage bucket.
type MessageStore interface {
	FetchPage(ctx context.Context, q PageQuery) (Page, error)
	InsertMessage(ctx context.Context, ins MessageInsert) (Message, error)
	UploadImage(ctx context.Context, r io.Reader, path string) (string, error)
}
