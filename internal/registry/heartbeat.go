package registry

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// HeartbeatSender periodically reports liveness for the active binding. A
// single goroutine runs at a time; Start after a binding is lost is a no-op
// replacement of the previous loop, Stop is idempotent.
type HeartbeatSender struct {
	client   *Client
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatSender creates a sender; it does nothing until Start is called.
func NewHeartbeatSender(client *Client, interval time.Duration, logger *slog.Logger) *HeartbeatSender {
	return &HeartbeatSender{
		client:   client,
		interval: interval,
		logger:   logger.With(slog.String("component", "heartbeat")),
	}
}

// Start launches the periodic loop for the given binding, replacing any loop
// already running. Failures are logged and dropped; they never affect license
// validity.
func (h *HeartbeatSender) Start(key, fingerprint string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go h.run(ctx, done, key, fingerprint)

	h.logger.Info("Heartbeat started",
		slog.Duration("interval", h.interval),
	)
}

// Stop terminates the loop and waits for it to exit.
func (h *HeartbeatSender) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Running reports whether a heartbeat loop is active.
func (h *HeartbeatSender) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *HeartbeatSender) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
}

func (h *HeartbeatSender) run(ctx context.Context, done chan struct{}, key, fingerprint string) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.send(ctx, key, fingerprint)
		}
	}
}

func (h *HeartbeatSender) send(ctx context.Context, key, fingerprint string) {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	status := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"goroutines": strconv.Itoa(runtime.NumGoroutine()),
	}

	if err := h.client.Heartbeat(sendCtx, key, fingerprint, status); err != nil {
		// Best effort only.
		h.logger.WarnContext(ctx, "Heartbeat failed",
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.DebugContext(ctx, "Heartbeat sent")
}
