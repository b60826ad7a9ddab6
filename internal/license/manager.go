// Package license orchestrates license resolution: decoding the installed
// artifact, establishing trusted time, running tamper checks, confirming the
// device binding and composing the status every consumer reads. The Manager
// owns all mutable licensing state for a process; there are no package-level
// singletons.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"

	"seatlock/internal/codec"
	"seatlock/internal/config"
	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/fingerprint"
	"seatlock/internal/registry"
	"seatlock/internal/tamper"
	"seatlock/internal/timesource"
	"seatlock/pkg/contracts/domain"
)

// AppVersion is reported to the authority in activation client info.
const AppVersion = "1.2.0"

// Manager owns the licensing state of one installation.
type Manager struct {
	codec        *codec.Codec
	store        *ArtifactStore
	oracle       *timesource.Oracle
	detector     *tamper.Detector
	registry     *registry.Client
	bindingCache *registry.BindingCache
	fingerprints *fingerprint.Manager
	heartbeat    *registry.HeartbeatSender
	cache        *statusCache
	group        singleflight.Group
	logger       *slog.Logger

	warningDays int
	now         func() time.Time
}

// Option overrides a Manager collaborator, used by tests and by callers that
// share an already-built component.
type Option func(*Manager)

// WithOracle replaces the trusted time oracle.
func WithOracle(o *timesource.Oracle) Option {
	return func(m *Manager) { m.oracle = o }
}

// WithDetector replaces the tamper detector.
func WithDetector(d *tamper.Detector) Option {
	return func(m *Manager) { m.detector = d }
}

// WithRegistryClient replaces the authority client.
func WithRegistryClient(c *registry.Client) Option {
	return func(m *Manager) { m.registry = c }
}

// WithClock overrides the local clock used for cache TTL accounting.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires a Manager from configuration. The heartbeat sender is
// created but not started; it runs only after a successful activation or
// validation.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	artifactCodec, err := codec.New(cfg.Licensing.Secret, cfg.Licensing.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license codec: %w", err)
	}

	hostname, _ := os.Hostname()
	clientInfo := domain.ClientInfo{
		Hostname:   hostname,
		Platform:   runtime.GOOS,
		AppVersion: AppVersion,
	}

	m := &Manager{
		codec: artifactCodec,
		store: NewArtifactStore(cfg.Paths.LicenseFile, cfg.Paths.LicenseBackup),
		oracle: timesource.NewOracle(
			cfg.Licensing.TimeSources,
			cfg.Licensing.TimeSourceTimeout,
			cfg.Paths.GraceStateFile,
			cfg.Licensing.SigningSecret,
			logger,
			timesource.WithGraceDays(cfg.Licensing.GraceDays),
		),
		detector:     tamper.NewDetector(cfg.Paths.ValidationFile, cfg.Licensing.SigningSecret, logger),
		registry:     registry.NewClient(cfg.Authority.URL, cfg.Authority.APIKey, cfg.Authority.Timeout, clientInfo, logger),
		bindingCache: registry.NewBindingCache(cfg.Paths.BindingFile),
		fingerprints: fingerprint.NewManager(),
		cache:        newStatusCache(cfg.Licensing.CacheTTL),
		logger:       logger.With(slog.String("component", "license_manager")),
		warningDays:  cfg.Licensing.ExpiryWarningDays,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.heartbeat = registry.NewHeartbeatSender(m.registry, cfg.Licensing.HeartbeatInterval, logger)
	return m, nil
}

// Activate installs a license: decodes and verifies the artifact, binds this
// device at the authority, persists both records and starts the heartbeat.
func (m *Manager) Activate(ctx context.Context, licenseKey, artifact string) error {
	payload, err := m.codec.Decode(artifact)
	if err != nil {
		return err
	}

	fp, err := m.fingerprints.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate device fingerprint: %w", err)
	}

	resp, err := m.registry.Activate(ctx, licenseKey, fp.Value)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == domain.AuthorityErrAlreadyActivated {
			return &licenseErrors.ActivationConflictError{
				LicenseKey:      domain.MaskLicenseKey(licenseKey),
				ActivationCount: resp.ActivationCount,
			}
		}
		return fmt.Errorf("activation rejected: %s", resp.Error)
	}

	record := &StoredLicense{LicenseKey: licenseKey, Artifact: artifact}
	// Re-activation must not wipe operator-granted overrides.
	if existing, err := m.store.Load(); err == nil && existing.LicenseKey == licenseKey {
		record.FeatureOverrides = existing.FeatureOverrides
	}
	if err := m.store.Save(record); err != nil {
		return err
	}
	if err := m.bindingCache.Save(&registry.CachedBinding{
		LicenseKey:        licenseKey,
		DeviceFingerprint: fp.Value,
		ActivatedAt:       m.now().UTC(),
		LastConfirmedAt:   m.now().UTC(),
	}); err != nil {
		return err
	}
	m.cache.Clear()
	m.heartbeat.Start(licenseKey, fp.Value)

	m.logger.InfoContext(ctx, "License activated",
		slog.String("license_key", domain.MaskLicenseKey(licenseKey)),
		slog.String("client_id", payload.ClientID),
		slog.String("tier", payload.Tier),
		slog.String("fingerprint", fp.Prefix()),
	)
	return nil
}

// Deactivate releases this device's binding at the authority, stops the
// heartbeat and clears the local binding record. The artifact itself stays on
// disk so the operator can reactivate without re-entering it.
func (m *Manager) Deactivate(ctx context.Context) error {
	stored, err := m.store.Load()
	if err != nil {
		return err
	}

	fp, err := m.fingerprints.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate device fingerprint: %w", err)
	}

	m.heartbeat.Stop()

	if err := m.registry.Deactivate(ctx, stored.LicenseKey, fp.Value); err != nil {
		return err
	}
	if err := m.bindingCache.Clear(); err != nil {
		return err
	}
	m.cache.Clear()

	m.logger.InfoContext(ctx, "License deactivated",
		slog.String("license_key", domain.MaskLicenseKey(stored.LicenseKey)),
	)
	return nil
}

// IsFeatureEnabled reports whether the named feature is usable right now. Any
// state other than ACTIVE or EXPIRING_SOON disables every gated feature.
func (m *Manager) IsFeatureEnabled(ctx context.Context, name string) bool {
	status := m.Resolve(ctx)
	if !status.State.Valid() {
		return false
	}

	stored, err := m.store.Load()
	if err != nil {
		return false
	}
	payload, err := m.codec.Decode(stored.Artifact)
	if err != nil {
		return false
	}
	return featureEnabled(name, payload, stored.FeatureOverrides)
}

// CheckEmployeeLimit compares a live active-staff count against the license
// cap. Licenses in a non-valid state report the check against a zero cap.
func (m *Manager) CheckEmployeeLimit(ctx context.Context, activeCount int) domain.EmployeeLimitResult {
	status := m.Resolve(ctx)
	if !status.State.Valid() {
		return employeeLimit(0, activeCount)
	}
	return employeeLimit(status.MaxEmployees, activeCount)
}

// Stop terminates background work. Safe to call more than once.
func (m *Manager) Stop() {
	m.heartbeat.Stop()
}

// CacheStats exposes resolution cache hit and miss counts.
func (m *Manager) CacheStats() (hits, misses int64) {
	return m.cache.Stats()
}
