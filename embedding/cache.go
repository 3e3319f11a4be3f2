package embedding

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// CacheOptions bound a Cache.
type CacheOptions struct {
	// MaxEntries caps the number of cached vectors (least recently used are evicted).
	MaxEntries int
	// TTL expires entries; zero keeps them until evicted.
	TTL time.Duration
	// Now is the clock, injectable for tests.
	Now func() time.Time
}

type cacheEntry struct {
	key     string
	vec     []float64
	expires time.Time
}

// Cache memoises an Embedder keyed by trimmed text, so repeated identical
// utterances never reach the backend twice while cached.
type Cache struct {
	next Embedder
	opts CacheOptions

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	hits    int
	misses  int
}

// NewCache wraps next with a bounded memoisation cache.
func NewCache(next Embedder, optFns ...func(o *CacheOptions)) *Cache {
	opts := CacheOptions{MaxEntries: 1024, TTL: 30 * time.Minute, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{next: next, opts: opts, order: list.New(), entries: make(map[string]*list.Element)}
}

// Embed implements Embedder.
func (c *Cache) Embed(ctx context.Context, text string) ([]float64, error) {
	key := strings.TrimSpace(text)
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	c.put(key, v)
	return append([]float64(nil), v...), nil
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if !ent.expires.IsZero() && !c.opts.Now().Before(ent.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return append([]float64(nil), ent.vec...), true
}

func (c *Cache) put(key string, v []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent := &cacheEntry{key: key, vec: append([]float64(nil), v...)}
	if c.opts.TTL > 0 {
		ent.expires = c.opts.Now().Add(c.opts.TTL)
	}
	if el, ok := c.entries[key]; ok {
		el.Value = ent
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(ent)
	for c.opts.MaxEntries > 0 && c.order.Len() > c.opts.MaxEntries {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).key)
	}
}
