package freebusy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/nextmove/internal/domain"
)

const (
	pastTTL   = time.Hour
	todayTTL  = 5 * time.Minute
	futureTTL = 10 * time.Minute
)

// TTLFor picks a cache lifetime by how far date is from today: past days
// rarely change, today changes often.
func TTLFor(date, today time.Time) time.Duration {
	switch d := domain.DaysBetween(today, date); {
	case d < 0:
		return pastTTL
	case d == 0:
		return todayTTL
	default:
		return futureTTL
	}
}

// Cache stores aggregated results per user and date.
type Cache interface {
	Get(ctx context.Context, userID string, date time.Time) (*Result, bool, error)
	Set(ctx context.Context, userID string, date time.Time, r *Result, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string, date time.Time) error
	InvalidateUser(ctx context.Context, userID string) error
}

func cacheKey(userID string, date time.Time) string {
	return userID + ":" + date.Format(domain.DateLayout)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type memoryEntry struct {
	result    Result
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. It is the default when no Redis
// address is configured.
type MemoryCache struct {
	clock Clock

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty MemoryCache using the system clock.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(realClock{})
}

// NewMemoryCacheWithClock creates a MemoryCache with a custom clock (for testing).
func NewMemoryCacheWithClock(clock Clock) *MemoryCache {
	return &MemoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, userID string, date time.Time) (*Result, bool, error) {
	key := cacheKey(userID, date)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check so a concurrent Set is not thrown away.
		if cur, ok := c.entries[key]; ok && !c.clock.Now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	r := copyResult(e.result)
	return &r, true, nil
}

func (c *MemoryCache) Set(_ context.Context, userID string, date time.Time, r *Result, ttl time.Duration) error {
	if r == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(userID, date)] = memoryEntry{result: copyResult(*r), expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(userID, date))
	return nil
}

func (c *MemoryCache) InvalidateUser(_ context.Context, userID string) error {
	prefix := userID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func copyResult(r Result) Result {
	if r.Busy != nil {
		busy := make([]Interval, len(r.Busy))
		copy(busy, r.Busy)
		r.Busy = busy
	}
	return r
}
