package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatlock/pkg/contracts/domain"
)

func TestStatusCacheServesWithinTTL(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	artifactMTime := now.Add(-time.Hour)
	bindingMTime := now.Add(-time.Hour)

	cache.Set(domain.LicenseStatus{State: domain.StateActive}, now, artifactMTime, bindingMTime)

	got, ok := cache.Get(now.Add(10*time.Second), artifactMTime, bindingMTime)
	require.True(t, ok)
	assert.Equal(t, domain.StateActive, got.State)
}

func TestStatusCacheExpiresAfterTTL(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	mtime := now.Add(-time.Hour)

	cache.Set(domain.LicenseStatus{State: domain.StateActive}, now, mtime, mtime)

	_, ok := cache.Get(now.Add(31*time.Second), mtime, mtime)
	assert.False(t, ok)
}

func TestStatusCacheInvalidatedByStoreWrites(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	mtime := now.Add(-time.Hour)

	cache.Set(domain.LicenseStatus{State: domain.StateActive}, now, mtime, mtime)

	// Artifact store touched inside the TTL window: entry must not serve.
	_, ok := cache.Get(now.Add(time.Second), mtime.Add(time.Second), mtime)
	assert.False(t, ok)

	// Same for the binding store.
	_, ok = cache.Get(now.Add(time.Second), mtime, mtime.Add(time.Second))
	assert.False(t, ok)
}

func TestStatusCacheClear(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	mtime := now.Add(-time.Hour)

	cache.Set(domain.LicenseStatus{State: domain.StateActive}, now, mtime, mtime)
	cache.Clear()

	_, ok := cache.Get(now, mtime, mtime)
	assert.False(t, ok)
}

func TestStatusCacheReturnsCopies(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	mtime := now.Add(-time.Hour)

	cache.Set(domain.LicenseStatus{State: domain.StateActive, Tier: TierPro}, now, mtime, mtime)

	first, ok := cache.Get(now, mtime, mtime)
	require.True(t, ok)
	first.Tier = "mutated"

	second, ok := cache.Get(now, mtime, mtime)
	require.True(t, ok)
	assert.Equal(t, TierPro, second.Tier)
}

func TestStatusCacheStats(t *testing.T) {
	cache := newStatusCache(30 * time.Second)
	now := time.Now()
	mtime := now.Add(-time.Hour)

	_, _ = cache.Get(now, mtime, mtime)
	cache.Set(domain.LicenseStatus{State: domain.StateActive}, now, mtime, mtime)
	_, _ = cache.Get(now, mtime, mtime)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
