// Package tamper detects local clock manipulation by comparing trusted time
// against the local clock and against the trusted time recorded at the
// previous successful validation.
package tamper

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	licenseErrors "seatlock/internal/errors"
)

const (
	// ClockTolerance is the divergence that passes silently.
	ClockTolerance = 15 * time.Minute
	// DeploymentTolerance accommodates legitimate timezone and deployment
	// variance; divergence inside it passes with a logged note.
	DeploymentTolerance = 3 * time.Hour
	// MaxBackwardJump is the largest tolerated backward step between two
	// validations.
	MaxBackwardJump = 1 * time.Hour
	// MaxForwardJump is the largest tolerated forward step between two
	// validations.
	MaxForwardJump = 30 * 24 * time.Hour
)

// checkpoint is the persisted trusted time of the last successful validation.
type checkpoint struct {
	LastValidationAt time.Time `json:"last_validation_at"`
	Signature        string    `json:"signature"`
}

// Detector runs the clock-divergence and time-jump checks. One instance is
// shared per installation; methods are not safe for concurrent use and are
// called from the resolver's single-flight pipeline.
type Detector struct {
	statePath string
	secret    []byte
	logger    *slog.Logger
	now       func() time.Time
}

// NewDetector creates a tamper detector persisting its checkpoint at
// statePath, signed with stateSecret.
func NewDetector(statePath, stateSecret string, logger *slog.Logger) *Detector {
	sum := sha256.Sum256(append([]byte("seatlock-checkpoint:"), []byte(stateSecret)...))
	return &Detector{
		statePath: statePath,
		secret:    sum[:],
		logger:    logger.With(slog.String("component", "tamper_detector")),
		now:       time.Now,
	}
}

// SetClock overrides the local clock, for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// CheckClockDivergence compares trusted time to the local clock. Within
// ClockTolerance it passes silently; within DeploymentTolerance it passes
// with a note; beyond that it returns a TamperError.
func (d *Detector) CheckClockDivergence(ctx context.Context, trusted time.Time) error {
	local := d.now()
	delta := local.Sub(trusted)
	abs := delta
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs <= ClockTolerance:
		return nil
	case abs <= DeploymentTolerance:
		d.logger.InfoContext(ctx, "Local clock diverges from trusted time within deployment tolerance",
			slog.Duration("divergence", delta),
			slog.Time("trusted_time", trusted),
			slog.Time("local_time", local),
		)
		return nil
	default:
		d.logger.WarnContext(ctx, "Local clock divergence exceeds deployment tolerance",
			slog.Duration("divergence", delta),
			slog.Time("trusted_time", trusted),
			slog.Time("local_time", local),
		)
		return &licenseErrors.TamperError{
			Kind:        licenseErrors.TamperClockDivergence,
			TrustedTime: trusted,
			LocalTime:   local,
			Delta:       abs,
		}
	}
}

// CheckTimeJump compares the current trusted time against the checkpoint
// recorded at the last successful validation. A backward jump beyond
// MaxBackwardJump or a forward jump beyond MaxForwardJump blocks the
// validation; otherwise the checkpoint advances. The first validation always
// passes and seeds the checkpoint.
func (d *Detector) CheckTimeJump(ctx context.Context, trusted time.Time) error {
	cp, ok := d.loadCheckpoint()
	if !ok {
		if err := d.saveCheckpoint(trusted); err != nil {
			d.logger.WarnContext(ctx, "Failed to seed validation checkpoint",
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	delta := trusted.Sub(cp.LastValidationAt)

	if delta < -MaxBackwardJump || delta > MaxForwardJump {
		d.logger.WarnContext(ctx, "Suspicious time jump between validations",
			slog.Duration("jump", delta),
			slog.Time("previous_validation", cp.LastValidationAt),
			slog.Time("current_trusted_time", trusted),
		)
		return &licenseErrors.TamperError{
			Kind:        licenseErrors.TamperTimeJump,
			TrustedTime: trusted,
			LocalTime:   cp.LastValidationAt,
			Delta:       delta,
		}
	}

	if err := d.saveCheckpoint(trusted); err != nil {
		d.logger.WarnContext(ctx, "Failed to advance validation checkpoint",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Reset removes the checkpoint, mainly for license replacement flows.
func (d *Detector) Reset() error {
	if _, err := os.Stat(d.statePath); err == nil {
		return os.Remove(d.statePath)
	}
	return nil
}

func (d *Detector) signature(at time.Time) string {
	h := hmac.New(sha256.New, d.secret)
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Detector) loadCheckpoint() (checkpoint, bool) {
	data, err := os.ReadFile(d.statePath)
	if err != nil {
		return checkpoint{}, false
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint{}, false
	}

	if !hmac.Equal([]byte(cp.Signature), []byte(d.signature(cp.LastValidationAt))) {
		// An edited checkpoint gets the same treatment as a missing one: the
		// next validation reseeds it.
		return checkpoint{}, false
	}
	return cp, true
}

func (d *Detector) saveCheckpoint(at time.Time) error {
	cp := checkpoint{
		LastValidationAt: at,
		Signature:        d.signature(at),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(d.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
