// Package services holds the business-logic layer between the HTTP transport
// and the license manager.
package services

import (
	"context"
	"log/slog"
	"time"

	"seatlock/internal/infrastructure"
	"seatlock/internal/license"
	"seatlock/pkg/contracts/domain"
)

// LicenseService is the surface the transport layer consumes. Consumers never
// see the internal resolution steps, only composed results.
type LicenseService interface {
	GetStatus(ctx context.Context) (*LicenseStatusResponse, error)
	Activate(ctx context.Context, licenseKey, artifact string) error
	Deactivate(ctx context.Context) error
	FeatureEnabled(ctx context.Context, name string) bool
	EmployeeLimit(ctx context.Context, activeCount int) domain.EmployeeLimitResult
	Integrity(ctx context.Context) *license.IntegrityReport
}

// LicenseStatusResponse is the composed status plus request metadata.
type LicenseStatusResponse struct {
	domain.LicenseStatus

	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type licenseService struct {
	manager *license.Manager
	logger  *slog.Logger
}

// NewLicenseService wraps a license manager.
func NewLicenseService(manager *license.Manager, logger *slog.Logger) LicenseService {
	return &licenseService{
		manager: manager,
		logger:  logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) GetStatus(ctx context.Context) (*LicenseStatusResponse, error) {
	status := s.manager.Resolve(ctx)

	s.logger.DebugContext(ctx, "License status resolved",
		slog.String("state", string(status.State)),
		slog.Int("days_remaining", status.DaysRemaining),
	)

	return &LicenseStatusResponse{
		LicenseStatus: *status,
		TraceID:       infrastructure.GetTraceID(ctx),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (s *licenseService) Activate(ctx context.Context, licenseKey, artifact string) error {
	return s.manager.Activate(ctx, licenseKey, artifact)
}

func (s *licenseService) Deactivate(ctx context.Context) error {
	return s.manager.Deactivate(ctx)
}

func (s *licenseService) FeatureEnabled(ctx context.Context, name string) bool {
	return s.manager.IsFeatureEnabled(ctx, name)
}

func (s *licenseService) EmployeeLimit(ctx context.Context, activeCount int) domain.EmployeeLimitResult {
	return s.manager.CheckEmployeeLimit(ctx, activeCount)
}

func (s *licenseService) Integrity(ctx context.Context) *license.IntegrityReport {
	return s.manager.CheckIntegrity(ctx)
}
