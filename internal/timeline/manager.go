package timeline

import (
	"context"
	"log/slog"

	"bizyou-chat/internal/domain"
)

// Manager binds a Cache to a realtime subscription for the lifetime of
// an open room. Closing the manager tears down the subscription; a
// page fetch still in flight is allowed to finish and its result is
// discarded by the closed cache.
type Manager struct {
	cache *Cache
	sub   domain.Subscription
	done  chan struct{}
}

// Open subscribes to the room's realtime events and starts feeding
// them into the cache.
func Open(ctx context.Context, cache *Cache, src domain.EventSource) (*Manager, error) {
	sub, err := src.Subscribe(ctx, cache.fetcher.roomID, cache.fetcher.isGroup)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cache: cache,
		sub:   sub,
		done:  make(chan struct{}),
	}

	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					slog.Debug("realtime stream ended",
						slog.String("room_id", cache.fetcher.roomID))
					return
				}
				cache.ApplyEvent(ev)
			}
		}
	}()

	return m, nil
}

// Cache returns the managed cache.
func (m *Manager) Cache() *Cache { return m.cache }

// Close tears down the subscription and closes the cache.
func (m *Manager) Close() error {
	err := m.sub.Close()
	<-m.done
	m.cache.Close()
	return err
}
