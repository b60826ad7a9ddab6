package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SecurityLevel marks how strongly a decoded payload was authenticated.
type SecurityLevel string

const (
	// SecurityLevelAuthenticated means the artifact passed signature and
	// authentication tag verification before decryption.
	SecurityLevelAuthenticated SecurityLevel = "authenticated"
	// SecurityLevelLegacy means the artifact came from the unauthenticated
	// base64 format and carries no cryptographic guarantees.
	SecurityLevelLegacy SecurityLevel = "legacy"
)

// UnlimitedEmployees is the MaxEmployees sentinel for uncapped licenses.
const UnlimitedEmployees = -1

// Payload is the decoded license data. Immutable once issued.
type Payload struct {
	ClientID       string    `json:"client_id"`
	ClientName     string    `json:"client_name,omitempty"`
	Tier           string    `json:"tier"`
	Features       []string  `json:"features"`
	ExpiresAt      time.Time `json:"expires_at"`
	MaxEmployees   int       `json:"max_employees"`
	InstallationID string    `json:"installation_id"`
	IssuedAt       time.Time `json:"issued_at"`
	Checksum       string    `json:"checksum"`

	// SecurityLevel is set by the decoder, never serialized into artifacts.
	SecurityLevel SecurityLevel `json:"-"`
}

// ComputeChecksum derives the integrity checksum over the identifying payload
// fields. Feature order does not affect the result.
func (p *Payload) ComputeChecksum() string {
	features := append([]string(nil), p.Features...)
	sort.Strings(features)

	data := strings.Join([]string{
		p.ClientID,
		p.Tier,
		strings.Join(features, ","),
		p.ExpiresAt.UTC().Format(time.RFC3339),
		fmt.Sprintf("%d", p.MaxEmployees),
		p.InstallationID,
	}, "|")

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:16])
}

// Validate checks that all mandatory fields are present.
func (p *Payload) Validate() error {
	switch {
	case p.ClientID == "":
		return fmt.Errorf("client_id is required")
	case p.Tier == "":
		return fmt.Errorf("tier is required")
	case p.ExpiresAt.IsZero():
		return fmt.Errorf("expires_at is required")
	case p.InstallationID == "":
		return fmt.Errorf("installation_id is required")
	case p.IssuedAt.IsZero():
		return fmt.Errorf("issued_at is required")
	case p.MaxEmployees < UnlimitedEmployees || p.MaxEmployees == 0:
		return fmt.Errorf("max_employees must be positive or -1 for unlimited")
	}
	return nil
}

// HasFeature reports whether the feature appears in the explicit feature list.
func (p *Payload) HasFeature(name string) bool {
	for _, f := range p.Features {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}
