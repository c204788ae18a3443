// Package cache keeps recent audit results so a repeated request with
// max_age set can skip the crawl.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/cssprobe/models"
)

// retention bounds how long any result is kept, whatever max_age asks for.
const retention = time.Hour

type entry struct {
	result   *models.SelectorResult
	storedAt time.Time
}

// Cache maps an audit request to the selector result it produced. It is
// safe for concurrent use. Results are cloned on the way in and out, so
// callers may modify what they get back.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	done       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache holding at most maxEntries results and starts a
// goroutine that drops entries older than an hour. Call Stop to end it.
func New(maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c := &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Key generates a cache key from everything that influences an audit result.
// Slices are length-prefixed so that {"a,b"} and {"a","b"} hash differently.
func Key(req *models.AuditRequest) string {
	h := sha256.New()
	writeList := func(name string, items []string) {
		fmt.Fprintf(h, "%s:%d|", name, len(items))
		for _, it := range items {
			fmt.Fprintf(h, "%d:%s|", len(it), it)
		}
	}
	writeList("crawl", req.Pages.Crawl)
	writeList("include", req.Pages.Include)
	writeList("exclude", req.Pages.Exclude)
	writeList("selectors", req.Selectors)
	writeList("whitelist", req.Whitelist)
	fmt.Fprintf(h, "cookie:%s", req.Cookie)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored result for req if it is younger than req.MaxAge
// milliseconds. A MaxAge of 0 never hits.
func (c *Cache) Lookup(req *models.AuditRequest) (*models.SelectorResult, bool) {
	if req.MaxAge <= 0 {
		return nil, false
	}
	key := Key(req)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok || time.Since(e.storedAt) > time.Duration(req.MaxAge)*time.Millisecond {
		return nil, false
	}
	return e.result.Clone(), true
}

// Store records the result of req. At capacity the oldest entry is evicted.
func (c *Cache) Store(req *models.AuditRequest, result *models.SelectorResult) {
	key := Key(req)
	e := entry{result: result.Clone(), storedAt: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = e
}

// Len reports the number of stored results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
		}
	}
	delete(c.entries, oldestKey)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.dropOlderThan(time.Now().Add(-retention))
		}
	}
}

func (c *Cache) dropOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
