package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bizyou-chat/internal/domain"
)

// MessageRepository implements the message-row store over PostgreSQL.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const directPageQuery = `
	SELECT id, sender_id, sender_name, sender_image, text, image_url, reply_to, created_at
	FROM messages
	WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
	  AND ($3::timestamptz IS NULL OR created_at < $3)
	ORDER BY created_at DESC
	LIMIT $4
`

const groupPageQuery = `
	SELECT id, sender_id, sender_name, sender_image, text, image_url, reply_to, created_at
	FROM messages
	WHERE room_id = $1
	  AND ($2::timestamptz IS NULL OR created_at < $2)
	ORDER BY created_at DESC
	LIMIT $3
`

// FetchPage retrieves one newest-first page of messages. For direct
// rooms the predicate covers both directions between requester and
// partner; for group rooms it matches the room tag. NextCursor is the
// oldest row's timestamp when the page is full, empty when exhausted.
func (r *MessageRepository) FetchPage(ctx context.Context, q domain.PageQuery) (domain.Page, error) {
	if q.Limit <= 0 {
		return domain.Page{}, domain.ErrInvalidInput
	}

	var cursor sql.NullString
	if q.Cursor != "" {
		if _, err := time.Parse(time.RFC3339Nano, q.Cursor); err != nil {
			return domain.Page{}, fmt.Errorf("invalid cursor: %w", domain.ErrInvalidInput)
		}
		cursor = sql.NullString{String: q.Cursor, Valid: true}
	}

	var rows *sql.Rows
	var err error
	if q.IsGroup {
		rows, err = r.db.QueryContext(ctx, groupPageQuery, q.RoomID, cursor, q.Limit)
	} else {
		rows, err = r.db.QueryContext(ctx, directPageQuery, q.RequesterID, q.RoomID, cursor, q.Limit)
	}
	if err != nil {
		return domain.Page{}, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, q.Limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return domain.Page{}, err
		}
		msg.RoomID = q.RoomID
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, fmt.Errorf("error iterating messages: %w", err)
	}

	page := domain.Page{Messages: messages}
	if len(messages) == q.Limit {
		page.NextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

const insertQuery = `
	INSERT INTO messages (sender_id, sender_name, sender_image, receiver_id, room_id, text, image_url, reply_to)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at
`

// Insert persists one message row and returns the authoritative record
// with the server-assigned id and timestamp.
func (r *MessageRepository) Insert(ctx context.Context, ins domain.MessageInsert) (domain.Message, error) {
	if ins.SenderID == "" || ins.RoomID == "" {
		return domain.Message{}, domain.ErrInvalidInput
	}
	if ins.Text == "" && ins.ImageURL == "" {
		return domain.Message{}, domain.ErrInvalidInput
	}

	var receiverID, roomID sql.NullString
	if ins.IsGroup {
		roomID = sql.NullString{String: ins.RoomID, Valid: true}
	} else {
		receiverID = sql.NullString{String: ins.RoomID, Valid: true}
	}

	var replyJSON sql.NullString
	if ins.ReplyTo != nil {
		data, err := json.Marshal(ins.ReplyTo)
		if err != nil {
			return domain.Message{}, fmt.Errorf("failed to marshal reply reference: %w", err)
		}
		replyJSON = sql.NullString{String: string(data), Valid: true}
	}

	msg := domain.Message{
		RoomID:      ins.RoomID,
		SenderID:    ins.SenderID,
		SenderName:  ins.SenderName,
		SenderImage: ins.SenderImage,
		Text:        ins.Text,
		ImageURL:    ins.ImageURL,
		ReplyTo:     ins.ReplyTo,
	}

	err := r.db.QueryRowContext(ctx, insertQuery,
		ins.SenderID,
		ins.SenderName,
		ins.SenderImage,
		receiverID,
		roomID,
		ins.Text,
		ins.ImageURL,
		replyJSON,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var msg domain.Message
	var senderImage, imageURL, replyJSON sql.NullString

	err := rows.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.SenderName,
		&senderImage,
		&msg.Text,
		&imageURL,
		&replyJSON,
		&msg.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.SenderImage = senderImage.String
	msg.ImageURL = imageURL.String
	if replyJSON.Valid && replyJSON.String != "" {
		var ref domain.ReplyRef
		if err := json.Unmarshal([]byte(replyJSON.String), &ref); err != nil {
			return domain.Message{}, fmt.Errorf("failed to decode reply reference: %w", err)
		}
		msg.ReplyTo = &ref
	}
	return msg, nil
}
