package errors

import (
	"errors"
	"fmt"
	"time"
)

// Outward-facing licensing error codes. These are the only codes surfaced to
// API consumers; the typed errors below carry the internal detail.
const (
	CodeLicenseInvalid       = "LICENSE_INVALID"
	CodeLicenseExpired       = "LICENSE_EXPIRED"
	CodeLicenseSuspended     = "LICENSE_SUSPENDED"
	CodeActivatedElsewhere   = "ALREADY_ACTIVATED_ELSEWHERE"
	CodeTimeManipulation     = "TIME_MANIPULATION_DETECTED"
	CodeTimeJump             = "TIME_JUMP_DETECTED"
)

// Sentinel errors for license operations
var (
	ErrLicenseExpired      = errors.New("license expired")
	ErrLicenseNotActivated = errors.New("license not activated")
	ErrLicenseSuspended    = errors.New("license suspended, connectivity required")
	ErrDeviceMismatch      = errors.New("device fingerprint does not match active binding")
	ErrNoLicense           = errors.New("no license artifact found")
)

// FormatError indicates a malformed license artifact. It is returned for
// structural problems only; authentication failures use AuthenticationError.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid license format: %s", e.Reason)
}

// NewFormatError creates a FormatError with the given reason
func NewFormatError(reason string) *FormatError {
	return &FormatError{Reason: reason}
}

// AuthenticationError indicates a signature or authentication tag mismatch,
// which is treated as possible tampering.
type AuthenticationError struct {
	Component string // "signature" or "auth_tag"
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("license %s verification failed: possible tampering", e.Component)
}

// ExpirationError indicates the license expired, carrying both instants for
// operator diagnostics.
type ExpirationError struct {
	ExpiredAt time.Time
	Now       time.Time
}

func (e *ExpirationError) Error() string {
	return fmt.Sprintf("license expired on %s", e.ExpiredAt.Format("2006-01-02"))
}

// ActivationConflictError indicates the license key is actively bound to a
// different device.
type ActivationConflictError struct {
	LicenseKey       string // masked
	ActiveSince      time.Time
	ConflictingHost  string
	ActivationCount  int
}

func (e *ActivationConflictError) Error() string {
	return "license already activated on another device"
}

// TamperKind distinguishes the two tamper detection variants.
type TamperKind string

const (
	TamperClockDivergence TamperKind = "clock_divergence"
	TamperTimeJump        TamperKind = "time_jump"
)

// TamperError indicates suspected local clock manipulation. Kind selects
// between clock divergence and a suspicious jump between validations.
type TamperError struct {
	Kind        TamperKind
	TrustedTime time.Time
	LocalTime   time.Time
	Delta       time.Duration
}

func (e *TamperError) Error() string {
	switch e.Kind {
	case TamperTimeJump:
		return fmt.Sprintf("suspicious time jump of %s between validations", e.Delta)
	default:
		return fmt.Sprintf("local clock diverges from trusted time by %s", e.Delta)
	}
}

// Code returns the outward error code for the tamper variant.
func (e *TamperError) Code() string {
	if e.Kind == TamperTimeJump {
		return CodeTimeJump
	}
	return CodeTimeManipulation
}

// TransportError indicates the remote licensing authority was unreachable.
// Validation degrades to the offline grace path instead of hard-failing.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("licensing authority unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is an AuthenticationError anywhere
// in its chain.
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsTransportError reports whether err is a TransportError anywhere in its
// chain.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
