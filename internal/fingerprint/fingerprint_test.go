package fingerprint

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsStable(t *testing.T) {
	m := NewManager()

	fp1, err := m.Generate()
	require.NoError(t, err)
	require.NotNil(t, fp1)

	fp2, err := m.Generate()
	require.NoError(t, err)

	assert.Equal(t, fp1.Value, fp2.Value, "fingerprint must be stable across calls")
	assert.Len(t, fp1.Value, 64, "sha256 hex")
}

func TestGenerateUsesCache(t *testing.T) {
	m := NewManager()

	fp1, err := m.Generate()
	require.NoError(t, err)

	fp2, err := m.Generate()
	require.NoError(t, err)

	// Cached copy carries the original generation time
	assert.Equal(t, fp1.GeneratedAt, fp2.GeneratedAt)

	m.ClearCache()
	fp3, err := m.Generate()
	require.NoError(t, err)
	assert.Equal(t, fp1.Value, fp3.Value)
}

func TestCacheExpiry(t *testing.T) {
	m := NewManager()
	m.cacheDuration = 1 * time.Millisecond

	_, err := m.Generate()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	fp, err := m.Generate()
	require.NoError(t, err)
	assert.NotNil(t, fp)
}

func TestPrefix(t *testing.T) {
	fp := &Fingerprint{Value: "0123456789abcdef0123456789abcdef"}
	assert.Equal(t, "0123456789ab", fp.Prefix())

	short := &Fingerprint{Value: "abc"}
	assert.Equal(t, "abc", short.Prefix())
}

func TestIsVirtualInterface(t *testing.T) {
	tests := []struct {
		name    string
		virtual bool
	}{
		{"eth0", false},
		{"enp3s0", false},
		{"wlan0", false},
		{"veth1a2b3c", true},
		{"docker0", true},
		{"br-9f8e7d", true},
		{"vboxnet0", true},
		{"tun0", true},
		{"utun3", true},
		{"wg0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.virtual, isVirtualInterface(tt.name))
		})
	}
}

func TestHostIdentityNormalized(t *testing.T) {
	m := NewManager()
	hostname, username := m.HostIdentity()

	assert.NotEmpty(t, hostname)
	assert.NotEmpty(t, username)
	assert.Equal(t, strings.ToLower(hostname), hostname, "hostname must be lowercased")
	assert.NotContains(t, username, "\\")
}

func TestGoMajorVersion(t *testing.T) {
	v := goMajorVersion()
	assert.Contains(t, v, "go")
	// Patch component must be stripped: "go1.24", not "go1.24.3"
	dots := 0
	for _, c := range v {
		if c == '.' {
			dots++
		}
	}
	assert.LessOrEqual(t, dots, 1)
}

func TestMatches(t *testing.T) {
	m := NewManager()
	fp, err := m.Generate()
	require.NoError(t, err)

	ok, err := m.Matches(fp.Value)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Matches("different-fingerprint")
	require.NoError(t, err)
	assert.False(t, ok)
}
