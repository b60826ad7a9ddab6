package timesource

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// GraceState tracks consecutive trusted-time failures across restarts. It is
// mutated only by the Oracle and reset to empty on any successful fetch.
type GraceState struct {
	FirstFailureAt *time.Time `json:"first_failure_at,omitempty"`
	LastSuccessAt  time.Time  `json:"last_success_at"`
	FailureDays    int        `json:"failure_days"`
	Suspended      bool       `json:"suspended"`
	Signature      string     `json:"signature"`
}

// graceStore persists GraceState as an HMAC-signed JSON file so a tampered
// state file is treated the same as a missing one.
type graceStore struct {
	path   string
	secret []byte
}

func newGraceStore(path, secret string) *graceStore {
	sum := sha256.Sum256(append([]byte("seatlock-grace:"), []byte(secret)...))
	return &graceStore{path: path, secret: sum[:]}
}

func (s *graceStore) signature(state GraceState) string {
	first := ""
	if state.FirstFailureAt != nil {
		first = state.FirstFailureAt.UTC().Format(time.RFC3339)
	}
	data := fmt.Sprintf("%s|%s|%d|%t",
		first,
		state.LastSuccessAt.UTC().Format(time.RFC3339),
		state.FailureDays,
		state.Suspended,
	)
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Load reads the persisted grace state. A missing, unreadable or tampered
// file yields an empty state rather than an error.
func (s *graceStore) Load() GraceState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return GraceState{}
	}

	var state GraceState
	if err := json.Unmarshal(data, &state); err != nil {
		return GraceState{}
	}

	if !hmac.Equal([]byte(state.Signature), []byte(s.signature(state))) {
		// Signature mismatch means the file was edited by hand; start fresh.
		return GraceState{}
	}
	return state
}

// Save persists the grace state with a fresh signature.
func (s *graceStore) Save(state GraceState) error {
	state.Signature = s.signature(state)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal grace state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write grace state: %w", err)
	}
	return nil
}

// Reset removes any persisted failure window.
func (s *graceStore) Reset(successAt time.Time) error {
	return s.Save(GraceState{LastSuccessAt: successAt})
}
