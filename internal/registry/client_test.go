package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatlock/internal/authority"
	licenseErrors "seatlock/internal/errors"
	"seatlock/pkg/contracts/domain"
)

const (
	testAPIKey = "registry-test-key"
	testKey    = "SLK-2026-ACME-0001"
)

var (
	fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthorityServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := authority.NewMemoryStore()
	srv := authority.NewServer(store, testAPIKey, "admin-"+testAPIKey, discardLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(baseURL string) *Client {
	info := domain.ClientInfo{AppVersion: "1.0.0-test", Hostname: "test-host"}
	return NewClient(baseURL, testAPIKey, 5*time.Second, info, discardLogger())
}

func TestActivateThenValidate(t *testing.T) {
	ts := newAuthorityServer(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	resp, err := client.Activate(ctx, testKey, fpA)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.BindingActive, resp.Status)

	resp, err = client.Validate(ctx, testKey, fpA)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.DeviceMatch)
}

func TestValidateSelfHealsWhenNotActivated(t *testing.T) {
	ts := newAuthorityServer(t)
	client := newClient(ts.URL)

	// No prior activation: validate should transparently activate.
	resp, err := client.Validate(context.Background(), testKey, fpA)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.BindingActive, resp.Status)
}

func TestValidateDoesNotStealAnotherDevicesBinding(t *testing.T) {
	ts := newAuthorityServer(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	_, err := client.Activate(ctx, testKey, fpA)
	require.NoError(t, err)

	// Device B self-heals into an activation attempt, which the authority
	// rejects because the key is bound elsewhere.
	resp, err := client.Validate(ctx, testKey, fpB)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.AuthorityErrAlreadyActivated, resp.Error)
}

func TestDeactivateReleasesBinding(t *testing.T) {
	ts := newAuthorityServer(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	_, err := client.Activate(ctx, testKey, fpA)
	require.NoError(t, err)

	require.NoError(t, client.Deactivate(ctx, testKey, fpA))

	// Key is free again: device B can now activate.
	resp, err := client.Activate(ctx, testKey, fpB)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestHeartbeat(t *testing.T) {
	ts := newAuthorityServer(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	_, err := client.Activate(ctx, testKey, fpA)
	require.NoError(t, err)

	err = client.Heartbeat(ctx, testKey, fpA, map[string]string{"os": "linux"})
	assert.NoError(t, err)
}

func TestTransportErrors(t *testing.T) {
	t.Run("unreachable authority", func(t *testing.T) {
		client := newClient("http://127.0.0.1:1")
		_, err := client.Validate(context.Background(), testKey, fpA)
		require.Error(t, err)
		assert.True(t, licenseErrors.IsTransportError(err))
	})

	t.Run("server error status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		client := newClient(ts.URL)
		_, err := client.Validate(context.Background(), testKey, fpA)
		require.Error(t, err)
		assert.True(t, licenseErrors.IsTransportError(err))
	})

	t.Run("garbage response body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer ts.Close()

		client := newClient(ts.URL)
		_, err := client.Validate(context.Background(), testKey, fpA)
		require.Error(t, err)
		assert.True(t, licenseErrors.IsTransportError(err))
	})
}

func TestWrongAPIKeyIsNotTransportError(t *testing.T) {
	ts := newAuthorityServer(t)
	info := domain.ClientInfo{AppVersion: "1.0.0-test"}
	client := NewClient(ts.URL, "wrong-key", 5*time.Second, info, discardLogger())

	_, err := client.Activate(context.Background(), testKey, fpA)
	require.Error(t, err)
	assert.False(t, licenseErrors.IsTransportError(err))
	assert.Contains(t, err.Error(), "rejected credentials")
}
