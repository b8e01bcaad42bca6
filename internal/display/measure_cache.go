package display

import (
	"container/list"
	"sync"
)

// MeasureCache is a bounded LRU cache for image aspect-ratio
// measurements, keyed by image URL. The rendering layer owns an
// instance and passes it down; nothing in this package holds global
// state.
type MeasureCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type measureEntry struct {
	url   string
	ratio float64
}

// NewMeasureCache creates a cache bounded to capacity entries.
func NewMeasureCache(capacity int) *MeasureCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &MeasureCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached aspect ratio for url and marks it recently
// used.
func (c *MeasureCache) Get(url string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[url]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*measureEntry).ratio, true
}

// Put stores the aspect ratio for url, evicting the least recently
// used entry when full.
func (c *MeasureCache) Put(url string, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[url]; ok {
		el.Value.(*measureEntry).ratio = ratio
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&measureEntry{url: url, ratio: ratio})
	c.entries[url] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*measureEntry).url)
	}
}

// Len returns the number of cached measurements.
func (c *MeasureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
