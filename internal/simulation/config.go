package simulation

import (
	"time"

	"papertrade-core/pkg/config"
)

// Config parameterizes the fill model. Each Enable* toggle switches one
// cost component off so tests can assert exact prices.
type Config struct {
	BaseSlippagePercent  float64
	VolatilityMultiplier float64
	LiquidityThreshold   float64 // order value above which slippage scales with size
	MaxSlippagePercent   float64
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	LimitFillProbability float64
	ImpactCoefficient    float64

	EnableSlippage bool
	EnableFees     bool
	EnableDelay    bool
	EnableImpact   bool

	StoreCapacity   int
	JournalCapacity int // 0 keeps every fill
}

// DefaultConfig returns the stock model parameters.
func DefaultConfig() Config {
	return Config{
		BaseSlippagePercent:  0.05,
		VolatilityMultiplier: 2.0,
		LiquidityThreshold:   100_000,
		MaxSlippagePercent:   2.0,
		BaseDelay:            50 * time.Millisecond,
		MaxDelay:             2 * time.Second,
		LimitFillProbability: 0.8,
		ImpactCoefficient:    0.1,
		EnableSlippage:       true,
		EnableFees:           true,
		EnableDelay:          true,
		EnableImpact:         true,
		StoreCapacity:        1000,
	}
}

// ConfigFrom maps the process configuration onto the model.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.BaseSlippagePercent = cfg.SimBaseSlippagePercent
	c.VolatilityMultiplier = cfg.SimVolatilityMultiplier
	c.LiquidityThreshold = cfg.SimLiquidityThreshold
	c.MaxSlippagePercent = cfg.SimMaxSlippagePercent
	c.BaseDelay = time.Duration(cfg.SimBaseDelayMs) * time.Millisecond
	c.MaxDelay = time.Duration(cfg.SimMaxDelayMs) * time.Millisecond
	c.LimitFillProbability = cfg.SimLimitFillProbability
	c.ImpactCoefficient = cfg.SimImpactCoefficient
	c.EnableSlippage = cfg.SimEnableSlippage
	c.EnableFees = cfg.SimEnableFees
	c.EnableDelay = cfg.SimEnableDelay
	c.EnableImpact = cfg.SimEnableImpact
	if cfg.SimOrderStoreCapacity > 0 {
		c.StoreCapacity = cfg.SimOrderStoreCapacity
	}
	return c.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.LiquidityThreshold <= 0 {
		c.LiquidityThreshold = d.LiquidityThreshold
	}
	if c.MaxSlippagePercent <= 0 {
		c.MaxSlippagePercent = d.MaxSlippagePercent
	}
	if c.BaseSlippagePercent < 0 {
		c.BaseSlippagePercent = 0
	}
	if c.LimitFillProbability < 0 {
		c.LimitFillProbability = 0
	}
	if c.LimitFillProbability > 1 {
		c.LimitFillProbability = 1
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.StoreCapacity <= 0 {
		c.StoreCapacity = d.StoreCapacity
	}
	if c.JournalCapacity < 0 {
		c.JournalCapacity = 0
	}
	return c
}
