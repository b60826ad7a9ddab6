// Package timesource obtains trusted time from independent network endpoints
// and owns the offline grace-period state machine. While any source answers,
// local clock tampering cannot move licensing decisions; when all sources are
// unreachable the package tolerates a bounded number of offline days before
// suspending.
package timesource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultGraceDays is the offline tolerance before suspension.
const DefaultGraceDays = 7

// Result is the outcome of a trusted time query.
type Result struct {
	Time               time.Time `json:"time"`
	Trusted            bool      `json:"trusted"`
	Source             string    `json:"source,omitempty"`
	GraceDaysRemaining int       `json:"grace_days_remaining,omitempty"`
	Suspended          bool      `json:"suspended"`
}

// Oracle races an ordered list of HTTPS endpoints for their Date response
// header, accepting the first that parses. It never reads response bodies;
// the transport-level date indicator is the only thing consulted.
type Oracle struct {
	sources   []string
	timeout   time.Duration
	graceDays int
	store     *graceStore
	client    *http.Client
	logger    *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Oracle) { o.client = client }
}

// WithClock overrides the local clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithGraceDays overrides the suspension threshold.
func WithGraceDays(days int) Option {
	return func(o *Oracle) {
		if days > 0 {
			o.graceDays = days
		}
	}
}

// NewOracle creates a trusted time oracle. statePath is where the grace
// window is persisted; stateSecret keys its tamper signature.
func NewOracle(sources []string, timeout time.Duration, statePath, stateSecret string, logger *slog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		sources:   sources,
		timeout:   timeout,
		graceDays: DefaultGraceDays,
		store:     newGraceStore(statePath, stateSecret),
		client:    &http.Client{},
		logger:    logger.With(slog.String("component", "timesource")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetTrustedTime queries each configured source in order and returns the
// first valid server time. On total failure it consults the grace window:
// within the threshold the local clock is returned untrusted, at or beyond it
// the result is suspended and every downstream decision must fail closed.
func (o *Oracle) GetTrustedTime(ctx context.Context) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, source := range o.sources {
		serverTime, err := o.fetchServerTime(ctx, source)
		if err != nil {
			o.logger.DebugContext(ctx, "Time source failed",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := o.store.Reset(serverTime); err != nil {
			o.logger.WarnContext(ctx, "Failed to reset grace state after successful time fetch",
				slog.String("error", err.Error()),
			)
		}

		o.logger.DebugContext(ctx, "Trusted time obtained",
			slog.String("source", source),
			slog.Time("server_time", serverTime),
		)

		return Result{Time: serverTime, Trusted: true, Source: source}
	}

	return o.offlineResult(ctx)
}

// fetchServerTime issues a HEAD request and parses the Date header.
func (o *Oracle) fetchServerTime(ctx context.Context, source string) (time.Time, error) {
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, source, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time source URL: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return time.Time{}, fmt.Errorf("no Date header from %s", source)
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable Date header %q: %w", dateHeader, err)
	}
	return serverTime, nil
}

// offlineResult applies the grace-period state machine when every source
// failed.
func (o *Oracle) offlineResult(ctx context.Context) Result {
	state := o.store.Load()
	localNow := o.now()

	if state.FirstFailureAt == nil {
		first := localNow
		state.FirstFailureAt = &first
	}

	daysSinceFirstFailure := int(localNow.Sub(*state.FirstFailureAt).Hours() / 24)
	if daysSinceFirstFailure < 0 {
		// Local clock moved behind the recorded failure start; do not let a
		// rollback extend the window.
		daysSinceFirstFailure = 0
	}
	state.FailureDays = daysSinceFirstFailure

	if daysSinceFirstFailure >= o.graceDays {
		state.Suspended = true
		if err := o.store.Save(state); err != nil {
			o.logger.WarnContext(ctx, "Failed to persist suspended grace state",
				slog.String("error", err.Error()),
			)
		}

		o.logger.ErrorContext(ctx, "Offline grace period exhausted, licensing suspended",
			slog.Int("days_offline", daysSinceFirstFailure),
			slog.Int("grace_days", o.graceDays),
		)

		return Result{Time: localNow, Trusted: false, Suspended: true}
	}

	if err := o.store.Save(state); err != nil {
		o.logger.WarnContext(ctx, "Failed to persist grace state",
			slog.String("error", err.Error()),
		)
	}

	remaining := o.graceDays - daysSinceFirstFailure
	o.logger.WarnContext(ctx, "All time sources unreachable, running on grace period",
		slog.Int("days_offline", daysSinceFirstFailure),
		slog.Int("grace_days_remaining", remaining),
	)

	return Result{
		Time:               localNow,
		Trusted:            false,
		GraceDaysRemaining: remaining,
	}
}

// State returns the current persisted grace state.
func (o *Oracle) State() GraceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.Load()
}
