package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsArePaperOnly(t *testing.T) {
	t.Setenv("PAPER_TRADING_MODE", "")
	t.Setenv("ENABLE_REAL_TRADES", "")
	t.Setenv("EXCHANGES", "binance,Kraken")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.PaperTradingMode)
	assert.False(t, cfg.EnableRealTrades)
	assert.False(t, cfg.EnableWithdrawals)
	assert.Equal(t, []string{"binance", "kraken"}, cfg.Exchanges)
	assert.True(t, cfg.ExchangeSandbox["kraken"])
	assert.Equal(t, 10000.0, cfg.InitialBalance)
	assert.Equal(t, 0.8, cfg.SimLimitFillProbability)
	assert.Equal(t, 2.0, cfg.SimMaxSlippagePercent)
	assert.Equal(t, 1000, cfg.AuditCapacity)
	assert.Equal(t, 5*time.Minute, cfg.PermissionCacheTTL)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ENABLE_REAL_TRADES", "true")
	t.Setenv("EXCHANGES", "binance")
	t.Setenv("EXCHANGE_SANDBOX_BINANCE", "false")
	t.Setenv("SIM_LIMIT_FILL_PROBABILITY", "0.5")
	t.Setenv("PERMISSION_CACHE_TTL", "30s")
	t.Setenv("SIM_SEED", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.EnableRealTrades)
	assert.False(t, cfg.ExchangeSandbox["binance"])
	assert.Equal(t, 0.5, cfg.SimLimitFillProbability)
	assert.Equal(t, 30*time.Second, cfg.PermissionCacheTTL)
	assert.Equal(t, int64(0), cfg.SimSeed)
}

func TestLoadFeeSchedule(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		sched, err := LoadFeeSchedule("")
		require.NoError(t, err)
		assert.Equal(t, 0.6, sched.Exchanges["coinbase"].TakerPercent)
		assert.Len(t, sched.Tiers, 4)
	})

	t.Run("file overrides merge with defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fees.yaml")
		body := []byte(`
exchanges:
  Binance:
    maker_percent: 0.02
    taker_percent: 0.04
tiers:
  - min_volume: 0
    discount: 0
  - min_volume: 1000
    discount: 0.5
`)
		require.NoError(t, os.WriteFile(path, body, 0o600))

		sched, err := LoadFeeSchedule(path)
		require.NoError(t, err)
		assert.Equal(t, 0.04, sched.Exchanges["binance"].TakerPercent)
		assert.Equal(t, 0.26, sched.Exchanges["kraken"].TakerPercent)
		require.Len(t, sched.Tiers, 2)
		assert.Equal(t, 0.5, sched.Tiers[1].Discount)
	})

	t.Run("invalid tier is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fees.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - min_volume: 10\n    discount: 1.5\n"), 0o600))

		_, err := LoadFeeSchedule(path)
		assert.Error(t, err)
	})
}
