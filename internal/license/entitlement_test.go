package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"seatlock/internal/codec"
)

func testPayload(tier string, features ...string) *codec.Payload {
	return &codec.Payload{
		ClientID:       "client-001",
		Tier:           tier,
		Features:       features,
		ExpiresAt:      time.Now().Add(365 * 24 * time.Hour),
		MaxEmployees:   50,
		InstallationID: "install-001",
		IssuedAt:       time.Now(),
	}
}

func TestTierAtLeast(t *testing.T) {
	tests := []struct {
		tier    string
		minimum string
		want    bool
	}{
		{TierBasic, TierBasic, true},
		{TierBasic, TierPro, false},
		{TierPro, TierBasic, true},
		{TierPro, TierEnterprise, false},
		{TierEnterprise, TierPro, true},
		{"Enterprise", TierPro, true}, // case-insensitive
		{"trial", TierBasic, false},   // unknown tier grants nothing
		{TierPro, "platinum", false},  // unknown minimum satisfied by nothing
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierAtLeast(tt.tier, tt.minimum),
			"TierAtLeast(%q, %q)", tt.tier, tt.minimum)
	}
}

func TestFeatureEnabledResolutionOrder(t *testing.T) {
	t.Run("explicit feature list wins", func(t *testing.T) {
		// Listed explicitly even though basic tier would not grant it.
		p := testPayload(TierBasic, "payroll")
		assert.True(t, featureEnabled("payroll", p, nil))
	})

	t.Run("tier hierarchy", func(t *testing.T) {
		p := testPayload(TierPro)
		assert.True(t, featureEnabled("payroll", p, nil))
		assert.True(t, featureEnabled("attendance", p, nil))
		assert.False(t, featureEnabled("sso", p, nil))
	})

	t.Run("store overrides", func(t *testing.T) {
		p := testPayload(TierBasic)
		assert.False(t, featureEnabled("sso", p, nil))
		assert.True(t, featureEnabled("sso", p, []string{"sso"}))
		assert.True(t, featureEnabled("sso", p, []string{" SSO "}))
	})

	t.Run("unknown feature needs explicit grant", func(t *testing.T) {
		p := testPayload(TierEnterprise)
		assert.False(t, featureEnabled("teleportation", p, nil))
		assert.True(t, featureEnabled("teleportation", p, []string{"teleportation"}))
	})

	t.Run("coming soon always disabled", func(t *testing.T) {
		// Even explicit listing and overrides cannot enable unreleased features.
		p := testPayload(TierEnterprise, "forecasting")
		assert.False(t, featureEnabled("forecasting", p, []string{"forecasting"}))
	})

	t.Run("case insensitive lookup", func(t *testing.T) {
		p := testPayload(TierPro)
		assert.True(t, featureEnabled("PAYROLL", p, nil))
	})

	t.Run("empty name disabled", func(t *testing.T) {
		p := testPayload(TierEnterprise)
		assert.False(t, featureEnabled("", p, nil))
	})
}

func TestEmployeeLimit(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		active        int
		wantExceeded  bool
		wantRemaining int
	}{
		{"under cap", 50, 45, false, 5},
		{"at cap", 50, 50, false, 0},
		{"over cap", 50, 52, true, 0},
		{"zero cap", 0, 1, true, 0},
		{"unlimited never exceeded", codec.UnlimitedEmployees, 100000, false, codec.UnlimitedEmployees},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := employeeLimit(tt.limit, tt.active)
			assert.Equal(t, tt.wantExceeded, result.Exceeded)
			assert.Equal(t, tt.wantRemaining, result.Remaining)
			assert.Equal(t, tt.active, result.Active)
			assert.Equal(t, tt.limit == codec.UnlimitedEmployees, result.Unlimited)
		})
	}
}
