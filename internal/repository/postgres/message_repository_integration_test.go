//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/repository/postgres"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a database connection
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	// Wait for PostgreSQL to be fully ready
	time.Sleep(2 * time.Second)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to connect to PostgreSQL")

	err = runMigrations(db)
	require.NoError(t, err, "failed to run migrations")

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// runMigrations creates the database schema for testing
func runMigrations(db *sql.DB) error {
	schema := `
		CREATE EXTENSION IF NOT EXISTS "pgcrypto";

		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			sender_id VARCHAR(64) NOT NULL,
			sender_name VARCHAR(128) NOT NULL DEFAULT '',
			sender_image TEXT,
			receiver_id VARCHAR(64),
			room_id VARCHAR(64),
			text TEXT NOT NULL DEFAULT '',
			image_url TEXT,
			reply_to JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := db.Exec(schema)
	return err
}

func insertTestMessage(t *testing.T, repo *postgres.MessageRepository, ins domain.MessageInsert) domain.Message {
	t.Helper()
	msg, err := repo.Insert(context.Background(), ins)
	require.NoError(t, err)
	// Distinct timestamps keep the cursor ordering unambiguous
	time.Sleep(5 * time.Millisecond)
	return msg
}

// TestMessageRepository_Integration exercises the repository against a
// real PostgreSQL database
func TestMessageRepository_Integration(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	repo := postgres.NewMessageRepository(db)

	t.Run("Insert_and_FetchPage_Group", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			insertTestMessage(t, repo, domain.MessageInsert{
				SenderID:   "user-1",
				SenderName: "Alice",
				RoomID:     "room-group",
				IsGroup:    true,
				Text:       fmt.Sprintf("group message %d", i),
			})
		}

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "room-group",
			RequesterID: "user-2",
			Limit:       10,
		})
		// Group messages are invisible to the direct predicate
		require.NoError(t, err)
		assert.Empty(t, page.Messages)

		page, err = repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID:      "room-group",
			RequesterID: "user-2",
			Limit:       10,
			IsGroup:     true,
		})
		require.NoError(t, err)
		require.Len(t, page.Messages, 5)
		assert.Equal(t, "group message 4", page.Messages[0].Text, "newest first")
		assert.Empty(t, page.NextCursor, "short page is exhausted")
	})

	t.Run("FetchPage_Direct_BothDirections", func(t *testing.T) {
		insertTestMessage(t, repo, domain.MessageInsert{
			SenderID: "user-1", SenderName: "Alice", RoomID: "user-2", Text: "hi bob",
		})
		insertTestMessage(t, repo, domain.MessageInsert{
			SenderID: "user-2", SenderName: "Bob", RoomID: "user-1", Text: "hi alice",
		})

		// Both parties see both rows under their own room key.
		for _, q := range []domain.PageQuery{
			{RoomID: "user-2", RequesterID: "user-1", Limit: 10},
			{RoomID: "user-1", RequesterID: "user-2", Limit: 10},
		} {
			page, err := repo.FetchPage(context.Background(), q)
			require.NoError(t, err)
			require.Len(t, page.Messages, 2)
			assert.Equal(t, "hi alice", page.Messages[0].Text)
			assert.Equal(t, q.RoomID, page.Messages[0].RoomID)
		}
	})

	t.Run("FetchPage_CursorPagination", func(t *testing.T) {
		for i := 0; i < 7; i++ {
			insertTestMessage(t, repo, domain.MessageInsert{
				SenderID:   "user-1",
				SenderName: "Alice",
				RoomID:     "room-pages",
				IsGroup:    true,
				Text:       fmt.Sprintf("page message %d", i),
			})
		}

		first, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "room-pages", RequesterID: "user-1", Limit: 3, IsGroup: true,
		})
		require.NoError(t, err)
		require.Len(t, first.Messages, 3)
		require.NotEmpty(t, first.NextCursor)
		assert.Equal(t, "page message 6", first.Messages[0].Text)

		second, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "room-pages", RequesterID: "user-1", Limit: 3, IsGroup: true,
			Cursor: first.NextCursor,
		})
		require.NoError(t, err)
		require.Len(t, second.Messages, 3)
		assert.Equal(t, "page message 3", second.Messages[0].Text)

		third, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "room-pages", RequesterID: "user-1", Limit: 3, IsGroup: true,
			Cursor: second.NextCursor,
		})
		require.NoError(t, err)
		require.Len(t, third.Messages, 1)
		assert.Empty(t, third.NextCursor)
		assert.Equal(t, "page message 0", third.Messages[0].Text)

		// No overlap between pages
		seen := map[string]bool{}
		for _, p := range [][]domain.Message{first.Messages, second.Messages, third.Messages} {
			for _, m := range p {
				assert.False(t, seen[m.ID], "message %s returned twice", m.ID)
				seen[m.ID] = true
			}
		}
	})

	t.Run("Insert_ReplyReference_Roundtrip", func(t *testing.T) {
		orig := insertTestMessage(t, repo, domain.MessageInsert{
			SenderID: "user-1", SenderName: "Alice", RoomID: "room-reply", IsGroup: true,
			Text: "original",
		})

		insertTestMessage(t, repo, domain.MessageInsert{
			SenderID: "user-2", SenderName: "Bob", RoomID: "room-reply", IsGroup: true,
			Text:    "replying",
			ReplyTo: &domain.ReplyRef{ID: orig.ID, Text: "original", SenderName: "Alice"},
		})

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "room-reply", RequesterID: "user-1", Limit: 10, IsGroup: true,
		})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		require.NotNil(t, page.Messages[0].ReplyTo)
		assert.Equal(t, orig.ID, page.Messages[0].ReplyTo.ID)
		assert.Equal(t, "Alice", page.Messages[0].ReplyTo.SenderName)
	})

	t.Run("Insert_ImageMessage", func(t *testing.T) {
		msg := insertTestMessage(t, repo, domain.MessageInsert{
			SenderID: "user-1", SenderName: "Alice", RoomID: "room-img", IsGroup: true,
			ImageURL: "https://store.example.com/storage/user-1/batches/b-1/169-abcd.jpg",
		})
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())

		page, err := repo.FetchPage(context.Background(), domain.PageQuery{
			RoomID: "room-img", RequesterID: "user-1", Limit: 10, IsGroup: true,
		})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, msg.ImageURL, page.Messages[0].ImageURL)
		assert.Empty(t, page.Messages[0].Text)
	})
}
