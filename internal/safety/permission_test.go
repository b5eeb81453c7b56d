package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/internal/audit"
)

func TestPermissionClassification(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		secret   string
		valid    bool
		readOnly bool
		risk     audit.RiskLevel
	}{
		{"empty key", "", "", true, true, audit.RiskLow},
		{"trading marker", "trading_key_with_permissions", "", false, false, audit.RiskCritical},
		{"withdraw in secret", "abcdefgh1234", "withdraw-enabled", false, false, audit.RiskCritical},
		{"mainnet without sandbox", "mainnet_abcdef123", "", false, false, audit.RiskCritical},
		{"live token", "live_9f8e7d6c5b", "", false, false, audit.RiskCritical},
		{"testnet wins over mainnet", "mainnet_testnet_abc123", "", true, true, audit.RiskLow},
		{"short key", "abc", "", false, false, audit.RiskHigh},
		{"readonly marker", "readonly_abc123XYZ", "s", true, true, audit.RiskLow},
		{"sandbox marker", "sandbox-9f8e7d6c", "", true, true, audit.RiskLow},
		{"opaque key", "9f8e7d6c5b4a3210", "0123456789abcdef", true, false, audit.RiskMedium},
	}

	v := NewPermissionValidator(time.Minute)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := v.Validate(tt.key, "exchangeA", tt.secret).Summary()
			assert.Equal(t, tt.valid, sum.IsValid)
			assert.Equal(t, tt.readOnly, sum.IsReadOnly)
			assert.Equal(t, tt.risk, sum.RiskLevel)
			if !tt.valid {
				assert.NotEmpty(t, sum.Violations)
			}
		})
	}
}

func TestPermissionResultIsCachedAndDeterministic(t *testing.T) {
	v := NewPermissionValidator(time.Minute)
	first := v.Validate("readonly_abc123", "Binance", "")
	second := v.Validate("readonly_abc123", "binance", "")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, v.CacheLen())

	v.Validate("readonly_abc123", "kraken", "")
	assert.Equal(t, 2, v.CacheLen(), "cache is keyed per exchange")
}

func TestGuardValidateAPIPermissions(t *testing.T) {
	g, trail := newTestGuard(t, safeEnv())
	ctx := context.Background()

	valid, err := g.ValidateAPIPermissions(ctx, "", "exchangeA", "")
	require.NoError(t, err)
	assert.Equal(t, audit.RiskLow, valid.RiskLevel)
	assert.True(t, valid.ReadOnly)
	assert.Zero(t, trail.Len(), "empty credential is not audited")

	_, err = g.ValidateAPIPermissions(ctx, "trading_key_with_permissions", "exchangeA", "")
	var permErr *PermissionValidationError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, audit.RiskCritical, permErr.Risk())
	assert.Equal(t, KindPermissionValidation, permErr.Kind())

	evts := trail.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, EventCredentialRejected, evts[0].Name)
	assert.Equal(t, audit.RiskCritical, evts[0].RiskLevel)
}

func TestTokenize(t *testing.T) {
	toks := tokenize("/sapi/v1/capitalWithdraw-apply")
	for _, want := range []string{"sapi", "v1", "capital", "withdraw", "apply"} {
		assert.True(t, toks[want], want)
	}
}
