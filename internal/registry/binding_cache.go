package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CachedBinding is the locally persisted belief about this installation's
// device binding. It is a fast path only; the authority stays the source of
// truth and the entry is rewritten after every remote confirmation.
type CachedBinding struct {
	LicenseKey        string    `json:"license_key"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	ActivatedAt       time.Time `json:"activated_at"`
	LastConfirmedAt   time.Time `json:"last_confirmed_at"`
}

// BindingCache persists a single CachedBinding as JSON on disk.
type BindingCache struct {
	path string
}

// NewBindingCache creates a cache backed by the given file path.
func NewBindingCache(path string) *BindingCache {
	return &BindingCache{path: path}
}

// Load returns the cached binding, or (nil, nil) when no usable cache exists.
// A corrupt file is treated the same as a missing one.
func (b *BindingCache) Load() (*CachedBinding, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read binding cache: %w", err)
	}

	var binding CachedBinding
	if err := json.Unmarshal(data, &binding); err != nil {
		return nil, nil
	}
	if binding.LicenseKey == "" || binding.DeviceFingerprint == "" {
		return nil, nil
	}
	return &binding, nil
}

// Save writes the binding atomically (temp file then rename).
func (b *BindingCache) Save(binding *CachedBinding) error {
	data, err := json.MarshalIndent(binding, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal binding cache: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create binding cache directory: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write binding cache: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace binding cache: %w", err)
	}
	return nil
}

// Matches reports whether the cached entry covers the given key and
// fingerprint.
func (b *CachedBinding) Matches(key, fingerprint string) bool {
	return b != nil && b.LicenseKey == key && b.DeviceFingerprint == fingerprint
}

// ModTime returns the cache file's modification time, or the zero time when
// the file does not exist. Callers use it to detect writes between reads.
func (b *BindingCache) ModTime() time.Time {
	info, err := os.Stat(b.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Clear removes the cache file; missing files are not an error.
func (b *BindingCache) Clear() error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove binding cache: %w", err)
	}
	return nil
}
