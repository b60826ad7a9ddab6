package license

import (
	"sync"
	"time"

	"seatlock/pkg/contracts/domain"
)

// cacheEntry memoizes one resolved status together with the modification
// timestamps of the two backing stores at the moment it was cached.
type cacheEntry struct {
	status        domain.LicenseStatus
	cachedAt      time.Time
	artifactMTime time.Time
	bindingMTime  time.Time
}

// statusCache holds the last resolution for a short TTL. An entry is only
// served while both store mtimes still match what was recorded, so a write to
// either store invalidates it even inside the TTL window.
type statusCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	entry *cacheEntry

	hits   int64
	misses int64
}

func newStatusCache(ttl time.Duration) *statusCache {
	return &statusCache{ttl: ttl}
}

// Get returns the cached status when it is still fresh for the given store
// mtimes. A copy is returned; callers never share the cached struct.
func (c *statusCache) Get(now, artifactMTime, bindingMTime time.Time) (*domain.LicenseStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry
	switch {
	case e == nil,
		now.Sub(e.cachedAt) > c.ttl,
		!e.artifactMTime.Equal(artifactMTime),
		!e.bindingMTime.Equal(bindingMTime):
		c.misses++
		return nil, false
	}

	c.hits++
	status := e.status
	return &status, true
}

// Set records a freshly resolved status.
func (c *statusCache) Set(status domain.LicenseStatus, now, artifactMTime, bindingMTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = &cacheEntry{
		status:        status,
		cachedAt:      now,
		artifactMTime: artifactMTime,
		bindingMTime:  bindingMTime,
	}
}

// Clear drops the entry. Called synchronously on every artifact or binding
// write so stale passes are never observable.
func (c *statusCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Stats reports hit and miss counts.
func (c *statusCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
