// Package authority implements the server-side licensing authority: the
// source of truth for device bindings and the enforcer of the
// single-active-device invariant.
package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"seatlock/pkg/contracts/domain"
)

// Binding relates one license key to one device fingerprint.
type Binding struct {
	ID               string               `json:"id"`
	LicenseKey       string               `json:"license_key"`
	Fingerprint      string               `json:"fingerprint"`
	Status           domain.BindingStatus `json:"status"`
	ActivationCount  int                  `json:"activation_count"`
	FirstActivatedAt time.Time            `json:"first_activated_at"`
	LastSeenAt       time.Time            `json:"last_seen_at"`
	Hostname         string               `json:"hostname,omitempty"`
	Platform         string               `json:"platform,omitempty"`
}

// HeartbeatRecord is one append-only liveness log row. It is audit data and
// never feeds validation decisions.
type HeartbeatRecord struct {
	ID           string            `json:"id"`
	LicenseKey   string            `json:"license_key"`
	Fingerprint  string            `json:"fingerprint"`
	ReceivedAt   time.Time         `json:"received_at"`
	SystemStatus map[string]string `json:"system_status,omitempty"`
}

// Store is the authority's persistence boundary.
type Store interface {
	// Activate enforces the single-active-device invariant: at most one
	// active binding per license key. Concurrent attempts for the same key
	// are serialized by the implementation.
	Activate(ctx context.Context, key, fingerprint string, info *domain.ClientInfo) (*Binding, error)
	// Validate requires an active binding for exactly this (key, fingerprint)
	// pair and refreshes last-seen on success.
	Validate(ctx context.Context, key, fingerprint string) (*Binding, error)
	// Deactivate flips a matching active binding to deactivated; idempotent.
	Deactivate(ctx context.Context, key, fingerprint string) error
	// Heartbeat requires an active binding, refreshes last-seen and appends a
	// heartbeat record.
	Heartbeat(ctx context.Context, key, fingerprint string, status map[string]string) (*HeartbeatRecord, error)
	// Stats returns aggregate counts for the status endpoint.
	Stats(ctx context.Context) (active, total, heartbeats int)
	// Bindings lists all bindings for the admin device listing.
	Bindings(ctx context.Context) []Binding
}

// ConflictError is returned when a key is actively bound to another device.
type ConflictError struct {
	Existing Binding
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("license key is actively bound to device %s", e.Existing.Fingerprint[:12])
}

// NotActivatedError is returned when no binding exists for a key.
type NotActivatedError struct {
	LicenseKey string
}

func (e *NotActivatedError) Error() string {
	return "license key has no activation record"
}

// MismatchError is returned when the key is bound but not to this device.
type MismatchError struct {
	Existing Binding
}

func (e *MismatchError) Error() string {
	return "device fingerprint does not match the active binding"
}

// MemoryStore is the in-memory Store implementation. Per-key mutexes hold the
// read-then-write activation decision closed against concurrent attempts.
type MemoryStore struct {
	mu         sync.RWMutex
	bindings   map[string]*Binding // keyed by licenseKey+"/"+fingerprint
	heartbeats []HeartbeatRecord

	keyLocks sync.Map // licenseKey -> *sync.Mutex
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory binding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bindings: make(map[string]*Binding),
		now:      time.Now,
	}
}

// SetClock overrides the store clock, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func bindingKey(key, fingerprint string) string {
	return key + "/" + fingerprint
}

// lockKey serializes all activation decisions for one license key.
func (s *MemoryStore) lockKey(key string) func() {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Activate implements Store.
func (s *MemoryStore) Activate(ctx context.Context, key, fingerprint string, info *domain.ClientInfo) (*Binding, error) {
	unlock := s.lockKey(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject if any other device holds an active binding for this key.
	for _, b := range s.bindings {
		if b.LicenseKey == key && b.Status == domain.BindingActive && b.Fingerprint != fingerprint {
			existing := *b
			return nil, &ConflictError{Existing: existing}
		}
	}

	now := s.now()
	id := bindingKey(key, fingerprint)
	if b, ok := s.bindings[id]; ok {
		b.ActivationCount++
		b.Status = domain.BindingActive
		b.LastSeenAt = now
		if info != nil {
			b.Hostname = info.Hostname
			b.Platform = info.Platform
		}
		copied := *b
		return &copied, nil
	}

	b := &Binding{
		ID:               uuid.New().String(),
		LicenseKey:       key,
		Fingerprint:      fingerprint,
		Status:           domain.BindingActive,
		ActivationCount:  1,
		FirstActivatedAt: now,
		LastSeenAt:       now,
	}
	if info != nil {
		b.Hostname = info.Hostname
		b.Platform = info.Platform
	}
	s.bindings[id] = b
	copied := *b
	return &copied, nil
}

// Validate implements Store.
func (s *MemoryStore) Validate(ctx context.Context, key, fingerprint string) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bindings[bindingKey(key, fingerprint)]; ok && b.Status == domain.BindingActive {
		b.LastSeenAt = s.now()
		copied := *b
		return &copied, nil
	}

	// Same key under a different fingerprint is a device mismatch.
	for _, b := range s.bindings {
		if b.LicenseKey == key && b.Status == domain.BindingActive {
			existing := *b
			return nil, &MismatchError{Existing: existing}
		}
	}

	return nil, &NotActivatedError{LicenseKey: key}
}

// Deactivate implements Store.
func (s *MemoryStore) Deactivate(ctx context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bindings[bindingKey(key, fingerprint)]; ok {
		b.Status = domain.BindingDeactivated
		b.LastSeenAt = s.now()
	}
	// Missing binding is not an error; deactivation is idempotent.
	return nil
}

// Heartbeat implements Store.
func (s *MemoryStore) Heartbeat(ctx context.Context, key, fingerprint string, status map[string]string) (*HeartbeatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingKey(key, fingerprint)]
	if !ok || b.Status != domain.BindingActive {
		return nil, &NotActivatedError{LicenseKey: key}
	}

	now := s.now()
	b.LastSeenAt = now

	record := HeartbeatRecord{
		ID:           uuid.New().String(),
		LicenseKey:   key,
		Fingerprint:  fingerprint,
		ReceivedAt:   now,
		SystemStatus: status,
	}
	s.heartbeats = append(s.heartbeats, record)
	return &record, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (active, total, heartbeats int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bindings {
		total++
		if b.Status == domain.BindingActive {
			active++
		}
	}
	return active, total, len(s.heartbeats)
}

// Bindings implements Store.
func (s *MemoryStore) Bindings(ctx context.Context) []Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, *b)
	}
	return out
}
