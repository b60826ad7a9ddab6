// Package domain contains the wire-level types shared between the licensing
// authority, the client registry and the HTTP surface. These types are the
// single source of truth for the protocol shapes.
package domain

import (
	"time"
)

// BindingAction selects the operation carried by a POST /validate request.
type BindingAction string

const (
	ActionActivate   BindingAction = "activate"
	ActionValidate   BindingAction = "validate"
	ActionDeactivate BindingAction = "deactivate"
)

// BindingStatus is the lifecycle state of a device binding.
type BindingStatus string

const (
	BindingActive      BindingStatus = "active"
	BindingDeactivated BindingStatus = "deactivated"
)

// ClientInfo describes the installation requesting activation.
type ClientInfo struct {
	Hostname   string `json:"hostname,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// ValidateRequest is the body of POST /validate on the authority.
type ValidateRequest struct {
	Action            BindingAction `json:"action" validate:"required,oneof=activate validate deactivate"`
	LicenseKey        string        `json:"licenseKey" validate:"required,min=8"`
	DeviceFingerprint string        `json:"deviceFingerprint" validate:"required,len=64,hexadecimal"`
	ClientInfo        *ClientInfo   `json:"clientInfo,omitempty"`
}

// ValidateResponse is the success shape of POST /validate.
type ValidateResponse struct {
	Success         bool          `json:"success"`
	Status          BindingStatus `json:"status,omitempty"`
	DeviceMatch     bool          `json:"deviceMatch"`
	ActivationDate  *time.Time    `json:"activationDate,omitempty"`
	ActivationCount int           `json:"activationCount,omitempty"`
	Error           string        `json:"error,omitempty"`
	Details         string        `json:"details,omitempty"`
}

// Authority error identifiers carried in ValidateResponse.Error.
const (
	AuthorityErrAlreadyActivated = "ALREADY_ACTIVATED_ELSEWHERE"
	AuthorityErrDeviceMismatch   = "DEVICE_MISMATCH"
	AuthorityErrNotActivated     = "NOT_ACTIVATED"
)

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	LicenseKey        string            `json:"licenseKey" validate:"required,min=8"`
	DeviceFingerprint string            `json:"deviceFingerprint" validate:"required,len=64,hexadecimal"`
	SystemStatus      map[string]string `json:"systemStatus,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Success    bool      `json:"success"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// AuthorityStatus is the aggregate health shape of GET /status.
type AuthorityStatus struct {
	Status          string    `json:"status"`
	ActiveBindings  int       `json:"activeBindings"`
	TotalBindings   int       `json:"totalBindings"`
	HeartbeatsSeen  int       `json:"heartbeatsSeen"`
	UptimeSeconds   float64   `json:"uptimeSeconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// DeviceListing is one row of GET /devices. Fingerprints and keys are masked
// before leaving the authority.
type DeviceListing struct {
	LicenseKeyMasked  string        `json:"licenseKey"`
	FingerprintPrefix string        `json:"fingerprintPrefix"`
	Status            BindingStatus `json:"status"`
	ActivationCount   int           `json:"activationCount"`
	FirstActivatedAt  time.Time     `json:"firstActivatedAt"`
	LastSeenAt        time.Time     `json:"lastSeenAt"`
	Hostname          string        `json:"hostname,omitempty"`
}

// LicenseState is the composed resolution status exposed to consumers.
type LicenseState string

const (
	StateInvalid      LicenseState = "INVALID"
	StateActive       LicenseState = "ACTIVE"
	StateExpiringSoon LicenseState = "EXPIRING_SOON"
	StateExpired      LicenseState = "EXPIRED"
	StateSuspended    LicenseState = "SUSPENDED"
)

// Valid reports whether gated features may be enabled in this state.
func (s LicenseState) Valid() bool {
	return s == StateActive || s == StateExpiringSoon
}

// LicenseStatus is the composed result every external collaborator consumes.
// None of them need to know the internal resolution steps.
type LicenseStatus struct {
	State              LicenseState `json:"state"`
	ErrorCode          string       `json:"errorCode,omitempty"`
	Message            string       `json:"message,omitempty"`
	Tier               string       `json:"tier,omitempty"`
	Features           []string     `json:"features,omitempty"`
	MaxEmployees       int          `json:"maxEmployees,omitempty"`
	DaysRemaining      int          `json:"daysRemaining"`
	TrustedTimeUsed    bool         `json:"trustedTimeUsed"`
	GracePeriodActive  bool         `json:"gracePeriodActive"`
	GraceDaysRemaining int          `json:"graceDaysRemaining,omitempty"`
	ResolvedAt         time.Time    `json:"resolvedAt"`

	// Diagnostics for clock tamper results
	TrustedTime *time.Time `json:"trustedTime,omitempty"`
	LocalTime   *time.Time `json:"localTime,omitempty"`
}

// EmployeeLimitResult reports seat usage against the license cap.
type EmployeeLimitResult struct {
	Limit     int  `json:"limit"`
	Active    int  `json:"active"`
	Remaining int  `json:"remaining"`
	Exceeded  bool `json:"exceeded"`
	Unlimited bool `json:"unlimited"`
}

// MaskLicenseKey hides all but the first and last four characters of a key.
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
