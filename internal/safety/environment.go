package safety

import (
	"fmt"
	"sort"

	"papertrade-core/pkg/config"
)

// Environment is the snapshot of process settings the safety invariants
// are checked against. It is taken once so per-request re-validation is a
// pure read.
type Environment struct {
	PaperTradingMode  bool
	EnableRealTrades  bool
	EnableWithdrawals bool
	Exchanges         []string
	Sandbox           map[string]bool
	AuditCapacity     int
}

// EnvironmentFromConfig snapshots cfg.
func EnvironmentFromConfig(cfg *config.Config) Environment {
	sandbox := make(map[string]bool, len(cfg.ExchangeSandbox))
	for k, v := range cfg.ExchangeSandbox {
		sandbox[k] = v
	}
	return Environment{
		PaperTradingMode:  cfg.PaperTradingMode,
		EnableRealTrades:  cfg.EnableRealTrades,
		EnableWithdrawals: cfg.EnableWithdrawals,
		Exchanges:         append([]string(nil), cfg.Exchanges...),
		Sandbox:           sandbox,
		AuditCapacity:     cfg.AuditCapacity,
	}
}

// Check is one evaluated invariant.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// EnvironmentValidator asserts process-wide safety invariants.
type EnvironmentValidator struct {
	env Environment
}

// NewEnvironmentValidator captures env.
func NewEnvironmentValidator(env Environment) *EnvironmentValidator {
	return &EnvironmentValidator{env: env}
}

// Checks evaluates every invariant.
func (v *EnvironmentValidator) Checks() []Check {
	e := v.env
	checks := []Check{
		{Name: "paper_trading_mode", Passed: e.PaperTradingMode, Detail: "PAPER_TRADING_MODE must be true"},
		{Name: "real_trades_disabled", Passed: !e.EnableRealTrades, Detail: "ENABLE_REAL_TRADES must be false"},
		{Name: "withdrawals_disabled", Passed: !e.EnableWithdrawals, Detail: "ENABLE_WITHDRAWALS must be false"},
		{Name: "audit_trail_bounded", Passed: e.AuditCapacity > 0, Detail: "AUDIT_CAPACITY must be positive"},
	}

	exchanges := append([]string(nil), e.Exchanges...)
	sort.Strings(exchanges)
	for _, ex := range exchanges {
		checks = append(checks, Check{
			Name:   "sandbox:" + ex,
			Passed: e.Sandbox[ex],
			Detail: fmt.Sprintf("exchange %s must use its sandbox/testnet endpoint", ex),
		})
	}
	return checks
}

// ValidateEnvironment returns a *ConfigurationError naming every failed
// invariant, or nil.
func (v *EnvironmentValidator) ValidateEnvironment() error {
	var violations []string
	for _, c := range v.Checks() {
		if !c.Passed {
			violations = append(violations, c.Detail)
		}
	}
	if len(violations) > 0 {
		return &ConfigurationError{Violations: violations}
	}
	return nil
}
