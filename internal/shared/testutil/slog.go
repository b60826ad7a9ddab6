// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is one captured log entry.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is a slog.Handler that records entries for assertions.
type CaptureHandler struct {
	mu      sync.Mutex
	records []LogRecord
	attrs   []slog.Attr
}

// NewCaptureLogger returns a logger together with the handler capturing its
// output.
func NewCaptureLogger() (*slog.Logger, *CaptureHandler) {
	h := &CaptureHandler{}
	return slog.New(h), h
}

func (h *CaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *CaptureHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, LogRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &sharedHandler{parent: h, attrs: merged}
}

func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	return h
}

// Records returns a copy of everything captured so far.
func (h *CaptureHandler) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogRecord(nil), h.records...)
}

// HasMessage reports whether any captured record carries the message.
func (h *CaptureHandler) HasMessage(message string) bool {
	for _, r := range h.Records() {
		if r.Message == message {
			return true
		}
	}
	return false
}

// sharedHandler funnels derived loggers back into the root capture handler so
// Records sees entries from logger.With(...) children too.
type sharedHandler struct {
	parent *CaptureHandler
	attrs  []slog.Attr
}

func (s *sharedHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (s *sharedHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range s.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.records = append(s.parent.records, LogRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

func (s *sharedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedHandler{parent: s.parent, attrs: append(append([]slog.Attr(nil), s.attrs...), attrs...)}
}

func (s *sharedHandler) WithGroup(name string) slog.Handler { return s }
