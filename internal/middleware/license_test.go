package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/license"
	"seatlock/internal/services"
	"seatlock/internal/shared/testutil"
	"seatlock/pkg/contracts/domain"
)

type gateStubService struct {
	state     domain.LicenseState
	errorCode string
}

func (s *gateStubService) GetStatus(ctx context.Context) (*services.LicenseStatusResponse, error) {
	return &services.LicenseStatusResponse{
		LicenseStatus: domain.LicenseStatus{State: s.state, ErrorCode: s.errorCode},
	}, nil
}

func (s *gateStubService) Activate(ctx context.Context, licenseKey, artifact string) error {
	return nil
}

func (s *gateStubService) Deactivate(ctx context.Context) error { return nil }

func (s *gateStubService) FeatureEnabled(ctx context.Context, name string) bool { return false }

func (s *gateStubService) EmployeeLimit(ctx context.Context, activeCount int) domain.EmployeeLimitResult {
	return domain.EmployeeLimitResult{}
}

func (s *gateStubService) Integrity(ctx context.Context) *license.IntegrityReport { return nil }

func gatedServer(t *testing.T, gate *LicenseGate) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("/api/data", ok)
	mux.HandleFunc("/api/license/status", ok)
	mux.HandleFunc("/healthz", ok)

	srv := httptest.NewServer(gate.Handler(mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestLicenseGateAllowsValidStates(t *testing.T) {
	for _, state := range []domain.LicenseState{domain.StateActive, domain.StateExpiringSoon} {
		logger, _ := testutil.NewCaptureLogger()
		gate := NewLicenseGate(&gateStubService{state: state}, logger)
		srv := gatedServer(t, gate)

		resp, err := http.Get(srv.URL + "/api/data")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "state %s", state)
	}
}

func TestLicenseGateBlocksInvalidStates(t *testing.T) {
	for _, state := range []domain.LicenseState{domain.StateInvalid, domain.StateExpired, domain.StateSuspended} {
		logger, captured := testutil.NewCaptureLogger()
		gate := NewLicenseGate(&gateStubService{
			state:     state,
			errorCode: licenseErrors.CodeLicenseExpired,
		}, logger)
		srv := gatedServer(t, gate)

		resp, err := http.Get(srv.URL + "/api/data")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "state %s", state)
		assert.True(t, captured.HasMessage("Request blocked by license gate"))
	}
}

func TestLicenseGateExclusions(t *testing.T) {
	logger, _ := testutil.NewCaptureLogger()
	gate := NewLicenseGate(&gateStubService{state: domain.StateExpired}, logger)
	srv := gatedServer(t, gate)

	// Remediation routes stay reachable with an expired license.
	for _, path := range []string{"/api/license/status", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path %s", path)
	}
}

func TestLicenseGateCustomExclusions(t *testing.T) {
	logger, _ := testutil.NewCaptureLogger()
	gate := NewLicenseGate(&gateStubService{state: domain.StateExpired}, logger,
		WithExcludedPaths("/api/data"),
	)
	srv := gatedServer(t, gate)

	resp, err := http.Get(srv.URL + "/api/data")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
