package providers

import (
	"sync"
	"time"

	"github.com/wallethub-hq/intentrunner/pkg/models"
)

type cachedQuote struct {
	quote     *models.Quote
	fetchedAt time.Time
}

// QuoteCache holds recently fetched quotes keyed by intent ID. Entries
// older than maxAge are treated as absent; callers re-fetch rather than
// act on a stale quote.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]cachedQuote
	maxAge  time.Duration
	now     func() time.Time
}

// NewQuoteCache creates a cache whose entries expire after maxAge.
func NewQuoteCache(maxAge time.Duration) *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]cachedQuote),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Get returns the cached quote for intentID if present and fresh.
func (c *QuoteCache) Get(intentID string) (*models.Quote, bool) {
	c.mu.RLock()
	entry, ok := c.entries[intentID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) > c.maxAge {
		c.mu.Lock()
		// Re-check under the write lock before evicting.
		if cur, ok := c.entries[intentID]; ok && c.now().Sub(cur.fetchedAt) > c.maxAge {
			delete(c.entries, intentID)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.quote, true
}

// Put stores quote for intentID, stamping it with the current time when
// the quote itself carries no fetch time.
func (c *QuoteCache) Put(intentID string, quote *models.Quote) {
	fetched := quote.FetchedAt
	if fetched.IsZero() {
		fetched = c.now()
	}
	c.mu.Lock()
	c.entries[intentID] = cachedQuote{quote: quote, fetchedAt: fetched}
	c.mu.Unlock()
}

// Invalidate drops the cached quote for intentID, if any.
func (c *QuoteCache) Invalidate(intentID string) {
	c.mu.Lock()
	delete(c.entries, intentID)
	c.mu.Unlock()
}

// SetClock overrides the time source. Tests only.
func (c *QuoteCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
