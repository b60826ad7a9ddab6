package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/license"
	"seatlock/internal/services"
	"seatlock/pkg/contracts/domain"
)

type stubLicenseService struct {
	status      *services.LicenseStatusResponse
	activateErr error
	features    map[string]bool
	limit       domain.EmployeeLimitResult
	integrity   *license.IntegrityReport

	activatedKey string
	deactivated  bool
}

func (s *stubLicenseService) GetStatus(ctx context.Context) (*services.LicenseStatusResponse, error) {
	return s.status, nil
}

func (s *stubLicenseService) Activate(ctx context.Context, licenseKey, artifact string) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	s.activatedKey = licenseKey
	return nil
}

func (s *stubLicenseService) Deactivate(ctx context.Context) error {
	s.deactivated = true
	return nil
}

func (s *stubLicenseService) FeatureEnabled(ctx context.Context, name string) bool {
	return s.features[name]
}

func (s *stubLicenseService) EmployeeLimit(ctx context.Context, activeCount int) domain.EmployeeLimitResult {
	return s.limit
}

func (s *stubLicenseService) Integrity(ctx context.Context) *license.IntegrityReport {
	return s.integrity
}

func newHandlerServer(t *testing.T, stub *stubLicenseService) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewLicenseHandler(stub, logger).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleStatus(t *testing.T) {
	stub := &stubLicenseService{
		status: &services.LicenseStatusResponse{
			LicenseStatus: domain.LicenseStatus{
				State:         domain.StateActive,
				Tier:          "pro",
				DaysRemaining: 120,
			},
			Timestamp: time.Now().UTC(),
		},
	}
	srv := newHandlerServer(t, stub)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got services.LicenseStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, domain.StateActive, got.State)
	assert.Equal(t, 120, got.DaysRemaining)
}

func TestHandleActivate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"license_key":"SLK-2026-ACME-0001","artifact":"v2:aa:bb|cc|dd"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing key",
			body:       `{"artifact":"v2:aa:bb|cc|dd"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing artifact",
			body:       `{"license_key":"SLK-2026-ACME-0001"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "conflict",
			body:       `{"license_key":"SLK-2026-ACME-0001","artifact":"v2:aa:bb|cc|dd"}`,
			serviceErr: &licenseErrors.ActivationConflictError{LicenseKey: "SLK-****0001"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "tampered artifact",
			body:       `{"license_key":"SLK-2026-ACME-0001","artifact":"v2:aa:bb|cc|dd"}`,
			serviceErr: &licenseErrors.AuthenticationError{Component: "signature"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "authority unreachable",
			body:       `{"license_key":"SLK-2026-ACME-0001","artifact":"v2:aa:bb|cc|dd"}`,
			serviceErr: &licenseErrors.TransportError{Op: "/validate", Err: fmt.Errorf("refused")},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubLicenseService{activateErr: tt.serviceErr}
			srv := newHandlerServer(t, stub)

			resp, err := http.Post(srv.URL+"/activate", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandleDeactivate(t *testing.T) {
	stub := &stubLicenseService{}
	srv := newHandlerServer(t, stub)

	resp, err := http.Post(srv.URL+"/deactivate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, stub.deactivated)
}

func TestHandleFeature(t *testing.T) {
	stub := &stubLicenseService{features: map[string]bool{"payroll": true}}
	srv := newHandlerServer(t, stub)

	for name, want := range map[string]bool{"payroll": true, "sso": false} {
		resp, err := http.Get(srv.URL + "/features/" + name)
		require.NoError(t, err)

		var got FeatureResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		resp.Body.Close()
		assert.Equal(t, want, got.Enabled, "feature %s", name)
	}
}

func TestHandleEmployeeLimit(t *testing.T) {
	stub := &stubLicenseService{
		limit: domain.EmployeeLimitResult{Limit: 50, Active: 45, Remaining: 5},
	}
	srv := newHandlerServer(t, stub)

	resp, err := http.Get(srv.URL + "/employee-limit?active=45")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got EmployeeLimitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.Exceeded)
	assert.True(t, got.AddAllowed)
}

func TestHandleEmployeeLimitBadQuery(t *testing.T) {
	srv := newHandlerServer(t, &stubLicenseService{})

	for _, query := range []string{"", "?active=abc", "?active=-1"} {
		resp, err := http.Get(srv.URL + "/employee-limit" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", query)
	}
}

func TestHandleIntegrity(t *testing.T) {
	stub := &stubLicenseService{
		integrity: &license.IntegrityReport{ArtifactPresent: true, ArtifactDecodes: true},
	}
	srv := newHandlerServer(t, stub)

	resp, err := http.Get(srv.URL + "/integrity")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got license.IntegrityReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.ArtifactPresent)
}
