package timeline

import (
	"context"
	"fmt"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/observability"
)

const defaultPageSize = 50

// Fetcher converts page requests for one room into normalized,
// newest-first message batches. It is a pure read wrapper: the only
// side effect is the store round trip itself.
type Fetcher struct {
	store       domain.MessageStore
	roomID      string
	requesterID string
	isGroup     bool
	pageSize    int
}

// NewFetcher creates a page fetcher for one room. A pageSize outside
// (0, 100] is clamped to the default.
func NewFetcher(store domain.MessageStore, roomID, requesterID string, isGroup bool, pageSize int) *Fetcher {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	return &Fetcher{
		store:       store,
		roomID:      roomID,
		requesterID: requesterID,
		isGroup:     isGroup,
		pageSize:    pageSize,
	}
}

// FetchPage fetches one page of messages older than cursor (or the
// newest page when cursor is empty) and normalizes each row: the
// system sentinel is stripped and the Mine flag computed against the
// requester identity.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (domain.Page, error) {
	page, err := f.store.FetchPage(ctx, domain.PageQuery{
		RoomID:      f.roomID,
		RequesterID: f.requesterID,
		Limit:       f.pageSize,
		Cursor:      cursor,
		IsGroup:     f.isGroup,
	})
	if err != nil {
		observability.PagesFetched.WithLabelValues("error").Inc()
		return domain.Page{}, fmt.Errorf("failed to fetch page: %w", err)
	}

	for i := range page.Messages {
		page.Messages[i].Normalize(f.requesterID)
	}

	observability.PagesFetched.WithLabelValues("ok").Inc()
	return page, nil
}
