package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	licenseErrors "seatlock/internal/errors"
	"seatlock/internal/registry"
	"seatlock/pkg/contracts/domain"
)

// Resolve computes the current license status. Results are served from the
// resolution cache while fresh; concurrent callers share a single in-flight
// resolution. Resolve never returns an error: every fault is folded into the
// status itself.
func (m *Manager) Resolve(ctx context.Context) *domain.LicenseStatus {
	artifactMTime := m.store.ModTime()
	bindingMTime := m.bindingCache.ModTime()

	if status, ok := m.cache.Get(m.now(), artifactMTime, bindingMTime); ok {
		return status
	}

	v, _, _ := m.group.Do("resolve", func() (interface{}, error) {
		status := m.resolve(ctx)
		if !status.State.Valid() {
			m.heartbeat.Stop()
		}
		m.cache.Set(*status, m.now(), m.store.ModTime(), m.bindingCache.ModTime())
		return status, nil
	})

	status := v.(*domain.LicenseStatus)
	out := *status
	return &out
}

// resolve runs the full pipeline once. Each step either passes control to the
// next or terminates with a composed status.
func (m *Manager) resolve(ctx context.Context) *domain.LicenseStatus {
	resolvedAt := m.now().UTC()

	// Step 1: load the artifact, primary store first, backup second.
	stored, err := m.store.Load()
	if err != nil {
		return m.invalid(resolvedAt, licenseErrors.CodeLicenseInvalid, "no license installed")
	}

	// Step 2: decode and authenticate.
	payload, err := m.codec.Decode(stored.Artifact)
	if err != nil {
		m.logger.WarnContext(ctx, "License artifact rejected",
			slog.String("error", err.Error()),
		)
		return m.invalid(resolvedAt, licenseErrors.CodeLicenseInvalid, err.Error())
	}

	// Step 3: trusted time. Suspension bypasses every further check.
	tt := m.oracle.GetTrustedTime(ctx)
	if tt.Suspended {
		return &domain.LicenseStatus{
			State:      domain.StateSuspended,
			ErrorCode:  licenseErrors.CodeLicenseSuspended,
			Message:    "offline grace period exhausted, connectivity required",
			ResolvedAt: resolvedAt,
		}
	}

	status := domain.LicenseStatus{
		Tier:               payload.Tier,
		Features:           append([]string(nil), payload.Features...),
		MaxEmployees:       payload.MaxEmployees,
		TrustedTimeUsed:    tt.Trusted,
		GracePeriodActive:  !tt.Trusted,
		GraceDaysRemaining: tt.GraceDaysRemaining,
		ResolvedAt:         resolvedAt,
	}

	// Step 4: clock divergence, only meaningful against a trusted reading.
	if tt.Trusted {
		if err := m.detector.CheckClockDivergence(ctx, tt.Time); err != nil {
			return m.tamperStatus(ctx, resolvedAt, err)
		}
	}

	// Step 5: expiration against the resolved time.
	now := tt.Time
	if now.After(payload.ExpiresAt) {
		status.State = domain.StateExpired
		status.ErrorCode = licenseErrors.CodeLicenseExpired
		status.Message = (&licenseErrors.ExpirationError{ExpiredAt: payload.ExpiresAt, Now: now}).Error()
		return &status
	}

	// Step 6: device activation.
	if terminal := m.resolveBinding(ctx, stored, &status); terminal != nil {
		return terminal
	}

	// Step 7: time jump between validations.
	if err := m.detector.CheckTimeJump(ctx, now); err != nil {
		return m.tamperStatus(ctx, resolvedAt, err)
	}

	// Steps 8 and 9: days remaining and final state.
	status.DaysRemaining = int(payload.ExpiresAt.Sub(now).Hours() / 24)
	if status.DaysRemaining <= m.warningDays {
		status.State = domain.StateExpiringSoon
	} else {
		status.State = domain.StateActive
	}
	return &status
}

// resolveBinding confirms this device owns the license key. A confirmed local
// binding for this exact fingerprint short-circuits the remote round-trip,
// which is also what keeps validation working while the authority is
// unreachable. Without that confirmation an authority failure is terminal: a
// binding cached for any other fingerprint is a copied data directory, never
// grounds to pass. A non-nil return is a terminal status.
func (m *Manager) resolveBinding(ctx context.Context, stored *StoredLicense, status *domain.LicenseStatus) *domain.LicenseStatus {
	fp, err := m.fingerprints.Generate()
	if err != nil {
		return m.invalid(status.ResolvedAt, licenseErrors.CodeLicenseInvalid, "device fingerprint unavailable")
	}

	cached, _ := m.bindingCache.Load()
	if cached.Matches(stored.LicenseKey, fp.Value) {
		if !m.heartbeat.Running() {
			m.heartbeat.Start(stored.LicenseKey, fp.Value)
		}
		return nil
	}

	resp, err := m.registry.Validate(ctx, stored.LicenseKey, fp.Value)
	if err != nil {
		var transport *licenseErrors.TransportError
		if errors.As(err, &transport) {
			m.logger.WarnContext(ctx, "Authority unreachable with no binding confirmed for this device",
				slog.String("error", err.Error()),
			)
			return m.invalid(status.ResolvedAt, licenseErrors.CodeLicenseInvalid,
				"licensing authority unreachable and no confirmed binding for this device")
		}
		return m.invalid(status.ResolvedAt, licenseErrors.CodeLicenseInvalid,
			fmt.Sprintf("license validation failed: %v", err))
	}

	if !resp.Success {
		if resp.Error == domain.AuthorityErrAlreadyActivated {
			m.logger.WarnContext(ctx, "License bound to another device",
				slog.String("license_key", domain.MaskLicenseKey(stored.LicenseKey)),
			)
			return m.invalid(status.ResolvedAt, licenseErrors.CodeActivatedElsewhere,
				"license already activated on another device")
		}
		return m.invalid(status.ResolvedAt, licenseErrors.CodeLicenseInvalid, resp.Error)
	}

	if err := m.bindingCache.Save(&registry.CachedBinding{
		LicenseKey:        stored.LicenseKey,
		DeviceFingerprint: fp.Value,
		ActivatedAt:       derefOr(resp.ActivationDate, m.now().UTC()),
		LastConfirmedAt:   m.now().UTC(),
	}); err != nil {
		m.logger.WarnContext(ctx, "Failed to persist binding cache",
			slog.String("error", err.Error()),
		)
	}
	m.heartbeat.Start(stored.LicenseKey, fp.Value)
	return nil
}

func (m *Manager) tamperStatus(ctx context.Context, resolvedAt time.Time, err error) *domain.LicenseStatus {
	status := &domain.LicenseStatus{
		State:      domain.StateInvalid,
		ErrorCode:  licenseErrors.CodeTimeManipulation,
		Message:    err.Error(),
		ResolvedAt: resolvedAt,
	}

	var tamperErr *licenseErrors.TamperError
	if errors.As(err, &tamperErr) {
		status.ErrorCode = tamperErr.Code()
		trusted := tamperErr.TrustedTime
		local := tamperErr.LocalTime
		status.TrustedTime = &trusted
		status.LocalTime = &local
	}

	m.logger.ErrorContext(ctx, "Tamper check failed",
		slog.String("error_code", status.ErrorCode),
		slog.String("error", err.Error()),
	)
	return status
}

func (m *Manager) invalid(resolvedAt time.Time, code, message string) *domain.LicenseStatus {
	return &domain.LicenseStatus{
		State:      domain.StateInvalid,
		ErrorCode:  code,
		Message:    message,
		ResolvedAt: resolvedAt,
	}
}

func derefOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}
