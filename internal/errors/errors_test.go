package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantStatus int
		wantCode   string
	}{
		{
			name:       "predefined invalid request",
			err:        ErrInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "predefined license not found",
			err:        ErrLicenseNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "LICENSE_NOT_FOUND",
		},
		{
			name:       "custom error with details",
			err:        NewWithDetails(http.StatusConflict, "CONFLICT", "binding conflict", "device mismatch"),
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.wantCode, tt.err.ErrorCode)
			assert.Equal(t, tt.err.Message, tt.err.Error())
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrRateLimitExceeded)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestTamperError(t *testing.T) {
	trusted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := trusted.Add(-5 * time.Hour)

	clockErr := &TamperError{
		Kind:        TamperClockDivergence,
		TrustedTime: trusted,
		LocalTime:   local,
		Delta:       5 * time.Hour,
	}
	assert.Equal(t, CodeTimeManipulation, clockErr.Code())
	assert.Contains(t, clockErr.Error(), "diverges")

	jumpErr := &TamperError{
		Kind:  TamperTimeJump,
		Delta: -2 * time.Hour,
	}
	assert.Equal(t, CodeTimeJump, jumpErr.Code())
	assert.Contains(t, jumpErr.Error(), "time jump")
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Op: "activate", URL: "https://authority.example.com/validate", Err: inner}

	require.ErrorIs(t, err, inner)
	assert.True(t, IsTransportError(fmt.Errorf("resolve failed: %w", err)))
	assert.False(t, IsTransportError(inner))
}

func TestIsAuthenticationError(t *testing.T) {
	authErr := &AuthenticationError{Component: "signature"}
	wrapped := fmt.Errorf("decode: %w", authErr)

	assert.True(t, IsAuthenticationError(wrapped))
	assert.False(t, IsAuthenticationError(errors.New("other")))
	assert.Contains(t, authErr.Error(), "possible tampering")
}

func TestExpirationError(t *testing.T) {
	expired := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	err := &ExpirationError{ExpiredAt: expired, Now: expired.Add(48 * time.Hour)}
	assert.Contains(t, err.Error(), "2026-01-15")
}
