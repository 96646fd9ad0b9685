package geo

import (
	"sync"

	"github.com/couchcryptid/ocean-color-archive/internal/observability"
)

// Cache is a thread-safe LRU of compiled projections keyed by proj4 string.
type Cache struct {
	maxEntries int
	metrics    *observability.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

type entry struct {
	key   string
	value *Projection
	prev  *entry
	next  *entry
}

// NewCache creates a cache holding at most maxEntries projections. metrics may be nil.
func NewCache(maxEntries int, metrics *observability.Metrics) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		maxEntries: maxEntries,
		metrics:    metrics,
		entries:    make(map[string]*entry),
	}
}

// Get returns the compiled projection for def, compiling it on a miss.
// Failed compilations are not cached.
func (c *Cache) Get(def string) (*Projection, error) {
	if p, ok := c.get(def); ok {
		c.observe("hit")
		return p, nil
	}
	c.observe("miss")
	p, err := NewProjection(def)
	if err != nil {
		return nil, err
	}
	c.put(def, p)
	return p, nil
}

// Len returns the number of cached projections.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) observe(result string) {
	if c.metrics != nil {
		c.metrics.ProjectionCache.WithLabelValues(result).Inc()
	}
}

func (c *Cache) get(key string) (*Projection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *Cache) put(key string, value *Projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *Cache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *Cache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
