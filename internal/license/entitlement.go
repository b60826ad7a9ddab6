package license

import (
	"strings"

	"seatlock/internal/codec"
	"seatlock/pkg/contracts/domain"
)

// Tier names in ascending order of capability.
const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

var tierRank = map[string]int{
	TierBasic:      1,
	TierPro:        2,
	TierEnterprise: 3,
}

// featureMinimumTier declares the lowest tier that includes each known
// feature. Features absent from this table are granted only by explicit
// listing or override.
var featureMinimumTier = map[string]string{
	"attendance":       TierBasic,
	"scheduling":       TierBasic,
	"payroll":          TierPro,
	"exports":          TierPro,
	"advanced_reports": TierPro,
	"api_access":       TierEnterprise,
	"sso":              TierEnterprise,
	"audit_log":        TierEnterprise,
}

// comingSoonFeatures are announced but not yet released; they resolve to
// disabled regardless of entitlement.
var comingSoonFeatures = map[string]bool{
	"forecasting":  true,
	"mobile_kiosk": true,
}

// TierAtLeast reports whether tier meets or exceeds minimum. Unknown tiers
// never satisfy anything.
func TierAtLeast(tier, minimum string) bool {
	have, ok := tierRank[strings.ToLower(tier)]
	if !ok {
		return false
	}
	want, ok := tierRank[strings.ToLower(minimum)]
	if !ok {
		return false
	}
	return have >= want
}

// featureEnabled resolves one feature name by first match: the payload's
// explicit feature list, then the tier hierarchy against the feature's
// minimum tier, then operator overrides from the persisted store.
func featureEnabled(name string, payload *codec.Payload, overrides []string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || comingSoonFeatures[name] {
		return false
	}

	if payload.HasFeature(name) {
		return true
	}

	if minimum, ok := featureMinimumTier[name]; ok && TierAtLeast(payload.Tier, minimum) {
		return true
	}

	for _, override := range overrides {
		if strings.EqualFold(strings.TrimSpace(override), name) {
			return true
		}
	}
	return false
}

// employeeLimit evaluates a live head count against the license cap. A cap of
// UnlimitedEmployees is never exceeded.
func employeeLimit(limit, activeCount int) domain.EmployeeLimitResult {
	result := domain.EmployeeLimitResult{
		Limit:  limit,
		Active: activeCount,
	}

	if limit == codec.UnlimitedEmployees {
		result.Unlimited = true
		result.Remaining = codec.UnlimitedEmployees
		return result
	}

	remaining := limit - activeCount
	if remaining < 0 {
		remaining = 0
	}
	result.Remaining = remaining
	result.Exceeded = activeCount > limit
	return result
}
