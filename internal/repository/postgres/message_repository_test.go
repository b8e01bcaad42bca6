package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"bizyou-chat/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageColumns() []string {
	return []string{"id", "sender_id", "sender_name", "sender_image", "text", "image_url", "reply_to", "created_at"}
}

func TestMessageRepository_FetchPage_Direct(t *testing.T) {
	t.Run("first_page_without_cursor", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)
		createdAt := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta(directPageQuery)).
			WithArgs("user-1", "user-2", nil, 2).
			WillReturnRows(sqlmock.NewRows(messageColumns()).
				AddRow("m2", "user-2", "Bob", nil, "hi back", nil, nil, createdAt).
				AddRow("m1", "user-1", "Alice", nil, "hi", nil, nil, createdAt.Add(-time.Second)))

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "user-2",
			RequesterID: "user-1",
			Limit:       2,
		})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)

		// Rows are tagged with the requester's room key, both directions.
		assert.Equal(t, "user-2", page.Messages[0].RoomID)
		assert.Equal(t, "user-2", page.Messages[1].RoomID)
		assert.Equal(t, "m2", page.Messages[0].ID)

		// Full page: cursor points at the oldest row.
		assert.Equal(t, createdAt.Add(-time.Second).Format(time.RFC3339Nano), page.NextCursor)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short_page_has_no_cursor", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(directPageQuery)).
			WithArgs("user-1", "user-2", nil, 50).
			WillReturnRows(sqlmock.NewRows(messageColumns()).
				AddRow("m1", "user-2", "Bob", nil, "hi", nil, nil, time.Now()))

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "user-2",
			RequesterID: "user-1",
			Limit:       50,
		})
		require.NoError(t, err)
		assert.Len(t, page.Messages, 1)
		assert.Empty(t, page.NextCursor)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cursor_forwarded", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)
		cursor := time.Now().Format(time.RFC3339Nano)

		mock.ExpectQuery(regexp.QuoteMeta(directPageQuery)).
			WithArgs("user-1", "user-2", cursor, 50).
			WillReturnRows(sqlmock.NewRows(messageColumns()))

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "user-2",
			RequesterID: "user-1",
			Limit:       50,
			Cursor:      cursor,
		})
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageRepository_FetchPage_Group(t *testing.T) {
	t.Run("queries_by_room_tag", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)
		createdAt := time.Now()
		reply := `{"id":"m-0","text":"orig","sender_name":"Bob"}`

		mock.ExpectQuery(regexp.QuoteMeta(groupPageQuery)).
			WithArgs("room-7", nil, 50).
			WillReturnRows(sqlmock.NewRows(messageColumns()).
				AddRow("m2", "user-2", "Bob", "https://cdn/bob.jpg", "", "https://cdn/img.jpg", nil, createdAt).
				AddRow("m1", "user-1", "Alice", nil, "hello", nil, reply, createdAt.Add(-time.Second)))

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "room-7",
			RequesterID: "user-1",
			Limit:       50,
			IsGroup:     true,
		})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)

		assert.Equal(t, "https://cdn/img.jpg", page.Messages[0].ImageURL)
		assert.Equal(t, "https://cdn/bob.jpg", page.Messages[0].SenderImage)
		require.NotNil(t, page.Messages[1].ReplyTo)
		assert.Equal(t, "m-0", page.Messages[1].ReplyTo.ID)
		assert.Equal(t, "Bob", page.Messages[1].ReplyTo.SenderName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageRepository_FetchPage_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMessageRepository(db)

	t.Run("rejects_zero_limit", func(t *testing.T) {
		_, err := repo.FetchPage(context.Background(), domain.PageQuery{RoomID: "r", RequesterID: "u"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects_malformed_cursor", func(t *testing.T) {
		_, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "r", RequesterID: "u", Limit: 50, Cursor: "not-a-timestamp",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMessageRepository_FetchPage_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMessageRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(groupPageQuery)).
		WillReturnError(errors.New("database error"))

	_, err = repo.FetchPage(context.Background(), domain.PageQuery{
		RoomID: "room-7", RequesterID: "user-1", Limit: 50, IsGroup: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query messages")
}

func TestMessageRepository_Insert(t *testing.T) {
	t.Run("direct_message_sets_receiver", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)
		createdAt := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta(insertQuery)).
			WithArgs("user-1", "Alice", "", "user-2", nil, "hello", "", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("m-1", createdAt))

		msg, err := repo.Insert(context.Background(), domain.MessageInsert{
			SenderID:   "user-1",
			SenderName: "Alice",
			RoomID:     "user-2",
			Text:       "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, createdAt, msg.CreatedAt)
		assert.Equal(t, "user-2", msg.RoomID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("group_message_sets_room", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(insertQuery)).
			WithArgs("user-1", "Alice", "", nil, "room-7", "hello all", "", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("m-2", time.Now()))

		msg, err := repo.Insert(context.Background(), domain.MessageInsert{
			SenderID:   "user-1",
			SenderName: "Alice",
			RoomID:     "room-7",
			IsGroup:    true,
			Text:       "hello all",
		})
		require.NoError(t, err)
		assert.Equal(t, "m-2", msg.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reply_reference_stored_as_json", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(insertQuery)).
			WithArgs("user-1", "Alice", "", "user-2", nil, "agreed", "",
				`{"id":"m-0","text":"orig","sender_name":"Bob"}`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("m-3", time.Now()))

		msg, err := repo.Insert(context.Background(), domain.MessageInsert{
			SenderID:   "user-1",
			SenderName: "Alice",
			RoomID:     "user-2",
			Text:       "agreed",
			ReplyTo:    &domain.ReplyRef{ID: "m-0", Text: "orig", SenderName: "Bob"},
		})
		require.NoError(t, err)
		require.NotNil(t, msg.ReplyTo)
		assert.Equal(t, "m-0", msg.ReplyTo.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects_empty_content", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		_, err = repo.Insert(context.Background(), domain.MessageInsert{
			SenderID: "user-1",
			RoomID:   "user-2",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects_missing_sender", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		_, err = repo.Insert(context.Background(), domain.MessageInsert{
			RoomID: "user-2",
			Text:   "hello",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("database_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(insertQuery)).
			WillReturnError(errors.New("database error"))

		_, err = repo.Insert(context.Background(), domain.MessageInsert{
			SenderID: "user-1",
			RoomID:   "user-2",
			Text:     "hello",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert message")
	})
}
