package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binding.json")
	cache := NewBindingCache(path)

	now := time.Now().UTC().Truncate(time.Second)
	saved := &CachedBinding{
		LicenseKey:        testKey,
		DeviceFingerprint: fpA,
		ActivatedAt:       now.Add(-24 * time.Hour),
		LastConfirmedAt:   now,
	}
	require.NoError(t, cache.Save(saved))

	loaded, err := cache.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.LicenseKey, loaded.LicenseKey)
	assert.Equal(t, saved.DeviceFingerprint, loaded.DeviceFingerprint)
	assert.True(t, saved.LastConfirmedAt.Equal(loaded.LastConfirmedAt))
}

func TestBindingCacheMissingFile(t *testing.T) {
	cache := NewBindingCache(filepath.Join(t.TempDir(), "nope.json"))

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBindingCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binding.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid"), 0o600))

	loaded, err := NewBindingCache(path).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBindingCacheEmptyFieldsTreatedAsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binding.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"license_key":""}`), 0o600))

	loaded, err := NewBindingCache(path).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBindingCacheMatches(t *testing.T) {
	b := &CachedBinding{LicenseKey: testKey, DeviceFingerprint: fpA}

	assert.True(t, b.Matches(testKey, fpA))
	assert.False(t, b.Matches(testKey, fpB))
	assert.False(t, b.Matches("SLK-2026-OTHER-0002", fpA))

	var nilBinding *CachedBinding
	assert.False(t, nilBinding.Matches(testKey, fpA))
}

func TestBindingCacheClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binding.json")
	cache := NewBindingCache(path)

	require.NoError(t, cache.Save(&CachedBinding{LicenseKey: testKey, DeviceFingerprint: fpA}))
	require.NoError(t, cache.Clear())

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing again is not an error.
	assert.NoError(t, cache.Clear())
}
