package timeline

import (
	"context"
	"log/slog"
	"sync"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/observability"
)

// Observer receives the flattened newest-first view after every cache
// mutation.
type Observer func(messages []domain.Message)

// Cache holds the fetched pages for one room and merges realtime
// events and optimistic writes into them.
//
// Pages are append-only relative to each other: each fetched page is
// strictly older than the previous page's oldest entry, so the
// flattened view is newest-first. Provisional entries injected by the
// send pipeline are the one tolerated exception until reconciliation
// assigns their server timestamp.
//
// All mutations replace state under a single lock and publish a fresh
// snapshot, so an observer never sees a partially updated page list.
type Cache struct {
	fetcher *Fetcher

	mu        sync.Mutex
	pages     []domain.Page
	ids       map[string]struct{}
	pending   map[string]struct{}
	cursor    string
	started   bool
	exhausted bool
	fetching  bool
	closed    bool

	observers map[int]Observer
	nextObsID int
}

// NewCache creates an empty cache backed by the given fetcher.
func NewCache(fetcher *Fetcher) *Cache {
	return &Cache{
		fetcher:   fetcher,
		ids:       make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		observers: make(map[int]Observer),
	}
}

// FetchNextPage loads the next older page into the cache. It is a
// no-op while a fetch is already in flight, after the room is
// exhausted, or after Close. The first call loads the newest page.
func (c *Cache) FetchNextPage(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.fetching || c.exhausted {
		c.mu.Unlock()
		return nil
	}
	c.fetching = true
	cursor := c.cursor
	c.mu.Unlock()

	page, err := c.fetcher.FetchPage(ctx, cursor)

	c.mu.Lock()
	c.fetching = false
	if c.closed {
		// The room was closed while the fetch was in flight; the
		// result is orphaned.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	// Drop rows already present (a realtime event or a reconciled
	// optimistic write may have landed first).
	kept := page.Messages[:0]
	for _, m := range page.Messages {
		if _, ok := c.ids[m.ID]; ok {
			continue
		}
		c.ids[m.ID] = struct{}{}
		kept = append(kept, m)
	}
	page.Messages = kept

	c.pages = append(c.pages, page)
	c.cursor = page.NextCursor
	c.started = true
	if page.NextCursor == "" {
		c.exhausted = true
	}
	c.publishLocked()
	return nil
}

// ApplyEvent merges a realtime row event into the cache. Inserts for
// already-known ids are discarded; that covers both duplicate delivery
// and the echo of a message this client already reconciled.
func (c *Cache) ApplyEvent(ev domain.Event) {
	msg := ev.Message
	msg.Normalize(c.fetcher.requesterID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	observability.RealtimeEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.EventInsert:
		if _, ok := c.ids[msg.ID]; ok {
			observability.RealtimeDuplicates.Inc()
			c.mu.Unlock()
			return
		}
		c.prependLocked(msg)
	case domain.EventUpdate:
		if !c.replaceLocked(msg.ID, msg) {
			c.mu.Unlock()
			return
		}
	default:
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

// PrependProvisional injects an unflushed outgoing message at the head
// of the newest page, ahead of the network round trip.
func (c *Cache) PrependProvisional(msg domain.Message) {
	msg.Pending = true

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending[msg.ID] = struct{}{}
	c.prependLocked(msg)
	c.publishLocked()
}

// Reconcile replaces the provisional entry identified by localID with
// the authoritative persisted message, preserving its position. If the
// realtime echo of the same row arrived first, the provisional entry
// is removed instead so the id stays unique.
func (c *Cache) Reconcile(localID string, authoritative domain.Message) {
	authoritative.Pending = false
	authoritative.Normalize(c.fetcher.requesterID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, localID)

	if _, ok := c.ids[authoritative.ID]; ok && authoritative.ID != localID {
		c.removeLocked(localID)
		c.publishLocked()
		return
	}

	if !c.replaceLocked(localID, authoritative) {
		c.mu.Unlock()
		return
	}
	delete(c.ids, localID)
	c.ids[authoritative.ID] = struct{}{}
	c.publishLocked()
}

// Rollback removes a provisional entry after a failed send.
func (c *Cache) Rollback(localID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, localID)
	if !c.removeLocked(localID) {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

// Messages returns a copy of the flattened newest-first view.
func (c *Cache) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flattenLocked()
}

// PendingCount returns the number of unreconciled provisional entries.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Exhausted reports whether all older pages have been loaded.
func (c *Cache) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Subscribe registers an observer and returns its handle.
func (c *Cache) Subscribe(fn Observer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	return id
}

// Unsubscribe removes a previously registered observer.
func (c *Cache) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, id)
}

// Close detaches all observers and discards any writes that arrive
// afterwards, including results of fetches still in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.observers = make(map[int]Observer)
	slog.Debug("timeline cache closed", slog.String("room_id", c.fetcher.roomID))
}

func (c *Cache) prependLocked(msg domain.Message) {
	c.ids[msg.ID] = struct{}{}
	if len(c.pages) == 0 {
		c.pages = []domain.Page{{}}
	}
	head := c.pages[0].Messages
	c.pages[0].Messages = append([]domain.Message{msg}, head...)
}

func (c *Cache) replaceLocked(id string, msg domain.Message) bool {
	for pi := range c.pages {
		for mi := range c.pages[pi].Messages {
			if c.pages[pi].Messages[mi].ID == id {
				c.pages[pi].Messages[mi] = msg
				return true
			}
		}
	}
	return false
}

func (c *Cache) removeLocked(id string) bool {
	for pi := range c.pages {
		msgs := c.pages[pi].Messages
		for mi := range msgs {
			if msgs[mi].ID == id {
				c.pages[pi].Messages = append(msgs[:mi:mi], msgs[mi+1:]...)
				delete(c.ids, id)
				return true
			}
		}
	}
	return false
}

func (c *Cache) flattenLocked() []domain.Message {
	n := 0
	for _, p := range c.pages {
		n += len(p.Messages)
	}
	out := make([]domain.Message, 0, n)
	for _, p := range c.pages {
		out = append(out, p.Messages...)
	}
	return out
}

// publishLocked snapshots the view, releases the lock and notifies
// observers. Callers must hold the lock and must not touch state after
// calling.
func (c *Cache) publishLocked() {
	snapshot := c.flattenLocked()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}
