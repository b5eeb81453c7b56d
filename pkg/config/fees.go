package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeeTier grants a discount once cumulative filled notional reaches MinVolume.
type FeeTier struct {
	MinVolume float64 `yaml:"min_volume"`
	Discount  float64 `yaml:"discount"` // fraction taken off the base rate, 0.1 = 10%
}

// ExchangeFees holds maker/taker rates in percent.
type ExchangeFees struct {
	MakerPercent float64 `yaml:"maker_percent"`
	TakerPercent float64 `yaml:"taker_percent"`
}

// FeeSchedule represents the top-level YAML structure of FEE_SCHEDULE_PATH.
type FeeSchedule struct {
	Default   ExchangeFees            `yaml:"default"`
	Exchanges map[string]ExchangeFees `yaml:"exchanges"`
	Tiers     []FeeTier               `yaml:"tiers"`
}

// DefaultFeeSchedule mirrors the public retail schedules of the venues users
// most often point the simulator at.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Default: ExchangeFees{MakerPercent: 0.1, TakerPercent: 0.1},
		Exchanges: map[string]ExchangeFees{
			"binance":  {MakerPercent: 0.1, TakerPercent: 0.1},
			"coinbase": {MakerPercent: 0.4, TakerPercent: 0.6},
			"kraken":   {MakerPercent: 0.16, TakerPercent: 0.26},
			"bybit":    {MakerPercent: 0.1, TakerPercent: 0.1},
			"okx":      {MakerPercent: 0.08, TakerPercent: 0.1},
		},
		Tiers: []FeeTier{
			{MinVolume: 0, Discount: 0},
			{MinVolume: 50_000, Discount: 0.1},
			{MinVolume: 1_000_000, Discount: 0.2},
			{MinVolume: 10_000_000, Discount: 0.3},
		},
	}
}

// LoadFeeSchedule reads a fee schedule from YAML. An empty path returns the
// defaults; exchanges missing from the file keep their default rates.
func LoadFeeSchedule(path string) (FeeSchedule, error) {
	sched := DefaultFeeSchedule()
	if path == "" {
		return sched, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sched, fmt.Errorf("read fee schedule: %w", err)
	}

	var file FeeSchedule
	if err := yaml.Unmarshal(data, &file); err != nil {
		return sched, fmt.Errorf("parse fee schedule: %w", err)
	}

	if file.Default.MakerPercent > 0 || file.Default.TakerPercent > 0 {
		sched.Default = file.Default
	}
	for name, fees := range file.Exchanges {
		sched.Exchanges[strings.ToLower(name)] = fees
	}
	if len(file.Tiers) > 0 {
		sched.Tiers = file.Tiers
	}
	if err := sched.Validate(); err != nil {
		return DefaultFeeSchedule(), err
	}
	return sched, nil
}

// Validate rejects negative rates and discounts outside [0,1).
func (s FeeSchedule) Validate() error {
	check := func(name string, f ExchangeFees) error {
		if f.MakerPercent < 0 || f.TakerPercent < 0 {
			return fmt.Errorf("fee schedule %s: negative rate", name)
		}
		return nil
	}
	if err := check("default", s.Default); err != nil {
		return err
	}
	for name, f := range s.Exchanges {
		if err := check(name, f); err != nil {
			return err
		}
	}
	for _, t := range s.Tiers {
		if t.Discount < 0 || t.Discount >= 1 || t.MinVolume < 0 {
			return fmt.Errorf("fee schedule: invalid tier %+v", t)
		}
	}
	return nil
}
