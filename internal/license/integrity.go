package license

import (
	"context"
	"time"

	"seatlock/internal/codec"
)

// IntegrityReport is the result of the startup self-check. It only inspects
// state; it never repairs, writes or contacts the authority.
type IntegrityReport struct {
	CheckedAt time.Time `json:"checked_at"`

	ArtifactPresent  bool                `json:"artifact_present"`
	ArtifactDecodes  bool                `json:"artifact_decodes"`
	SecurityLevel    codec.SecurityLevel `json:"security_level,omitempty"`
	ChecksumMatches  bool                `json:"checksum_matches"`
	DecodeError      string              `json:"decode_error,omitempty"`

	BindingCached      bool `json:"binding_cached"`
	GraceWindowOpen    bool `json:"grace_window_open"`
	GraceFailureDays   int  `json:"grace_failure_days"`
	SuspendedOnDisk    bool `json:"suspended_on_disk"`
}

// Healthy reports whether the installation looks usable without running the
// full resolution pipeline.
func (r *IntegrityReport) Healthy() bool {
	return r.ArtifactPresent && r.ArtifactDecodes && !r.SuspendedOnDisk
}

// CheckIntegrity inspects the installed license state and returns a report.
// Intended to run once at startup before the first resolution.
func (m *Manager) CheckIntegrity(ctx context.Context) *IntegrityReport {
	report := &IntegrityReport{CheckedAt: m.now().UTC()}

	stored, err := m.store.Load()
	if err != nil {
		return report
	}
	report.ArtifactPresent = true

	payload, err := m.codec.Decode(stored.Artifact)
	if err != nil {
		report.DecodeError = err.Error()
		return report
	}
	report.ArtifactDecodes = true
	report.SecurityLevel = payload.SecurityLevel
	report.ChecksumMatches = payload.Checksum == "" || payload.Checksum == payload.ComputeChecksum()

	if cached, _ := m.bindingCache.Load(); cached != nil {
		report.BindingCached = cached.LicenseKey == stored.LicenseKey
	}

	grace := m.oracle.State()
	report.GraceWindowOpen = grace.FirstFailureAt != nil
	report.GraceFailureDays = grace.FailureDays
	report.SuspendedOnDisk = grace.Suspended

	return report
}
