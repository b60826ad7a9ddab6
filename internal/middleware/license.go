// Package middleware provides chi middleware shared by the seatlock HTTP
// surfaces.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/services"
)

// LicenseGate rejects requests to gated routes while the license is not in a
// valid state. Status, activation and health endpoints stay reachable so an
// operator can always remediate.
type LicenseGate struct {
	service         services.LicenseService
	logger          *slog.Logger
	excludePaths    map[string]bool
	excludePrefixes []string
}

// GateOption configures a LicenseGate.
type GateOption func(*LicenseGate)

// WithExcludedPaths marks exact paths that bypass the gate.
func WithExcludedPaths(paths ...string) GateOption {
	return func(g *LicenseGate) {
		for _, p := range paths {
			g.excludePaths[p] = true
		}
	}
}

// WithExcludedPrefixes marks path prefixes that bypass the gate.
func WithExcludedPrefixes(prefixes ...string) GateOption {
	return func(g *LicenseGate) {
		g.excludePrefixes = append(g.excludePrefixes, prefixes...)
	}
}

// NewLicenseGate creates the gate. License management and health routes are
// always excluded.
func NewLicenseGate(service services.LicenseService, logger *slog.Logger, opts ...GateOption) *LicenseGate {
	g := &LicenseGate{
		service: service,
		logger:  logger.With(slog.String("middleware", "license_gate")),
		excludePaths: map[string]bool{
			"/healthz": true,
			"/metrics": true,
		},
		excludePrefixes: []string{"/api/license"},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler is the chi middleware.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		status, err := g.service.GetStatus(r.Context())
		if err != nil || !status.State.Valid() {
			code := licenseErrors.CodeLicenseInvalid
			message := "a valid license is required"
			if err == nil {
				code = status.ErrorCode
				message = status.Message
			}

			g.logger.WarnContext(r.Context(), "Request blocked by license gate",
				slog.String("path", r.URL.Path),
				slog.String("error_code", code),
			)
			licenseErrors.WriteError(w, licenseErrors.NewWithDetails(
				http.StatusForbidden, code, "license check failed", message))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *LicenseGate) excluded(path string) bool {
	if g.excludePaths[path] {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
