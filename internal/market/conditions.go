// Package market holds the per-symbol market state the simulator prices
// against: conditions (volatility, liquidity, spread, volume) and the
// last-known price book, plus the feeds that keep both current.
package market

import (
	"math"
	"strings"
	"sync"
	"time"

	"papertrade-core/internal/events"
)

// Default bounds for lazily created conditions.
const (
	minDefaultVolatility = 0.1
	maxDefaultVolatility = 0.5
	minDefaultLiquidity  = 0.5
	maxDefaultLiquidity  = 1.0
	minDefaultSpread     = 0.01
	maxDefaultSpread     = 0.1
	minDefaultVolume     = 1e6
	maxDefaultVolume     = 1e7
)

// RandomSource yields uniform values in [0,1).
type RandomSource interface {
	Float64() float64
}

// Conditions describes the simulated market state of one symbol.
type Conditions struct {
	Symbol     string    `json:"symbol"`
	Volatility float64   `json:"volatility"` // 0..1
	Liquidity  float64   `json:"liquidity"`  // 0..1
	Spread     float64   `json:"spread"`     // percent
	Volume     float64   `json:"volume"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ConditionsUpdate changes selected fields; nil fields are left alone.
type ConditionsUpdate struct {
	Volatility *float64 `json:"volatility,omitempty"`
	Liquidity  *float64 `json:"liquidity,omitempty"`
	Spread     *float64 `json:"spread,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
}

// ConditionsBook memoizes conditions per symbol.
type ConditionsBook struct {
	mu    sync.RWMutex
	items map[string]Conditions
	rng   RandomSource
	bus   *events.Bus
	now   func() time.Time
}

// NewConditionsBook creates an empty book. bus may be nil.
func NewConditionsBook(rng RandomSource, bus *events.Bus) *ConditionsBook {
	return &ConditionsBook{
		items: make(map[string]Conditions),
		rng:   rng,
		bus:   bus,
		now:   time.Now,
	}
}

// Get returns the conditions for symbol, creating randomized defaults on
// first use.
func (b *ConditionsBook) Get(symbol string) Conditions {
	symbol = strings.ToUpper(symbol)

	b.mu.RLock()
	c, ok := b.items[symbol]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.items[symbol]; ok {
		return c
	}
	c = Conditions{
		Symbol:     symbol,
		Volatility: b.between(minDefaultVolatility, maxDefaultVolatility),
		Liquidity:  b.between(minDefaultLiquidity, maxDefaultLiquidity),
		Spread:     b.between(minDefaultSpread, maxDefaultSpread),
		Volume:     b.between(minDefaultVolume, maxDefaultVolume),
		UpdatedAt:  b.now().UTC(),
	}
	b.items[symbol] = c
	return c
}

func (b *ConditionsBook) between(lo, hi float64) float64 {
	return lo + b.rng.Float64()*(hi-lo)
}

// Update applies u, clamping volatility and liquidity into [0,1] and spread
// and volume to non-negative values.
func (b *ConditionsBook) Update(symbol string, u ConditionsUpdate) Conditions {
	c := b.Get(symbol)

	b.mu.Lock()
	c = b.items[c.Symbol]
	if u.Volatility != nil {
		c.Volatility = clamp(*u.Volatility, 0, 1)
	}
	if u.Liquidity != nil {
		c.Liquidity = clamp(*u.Liquidity, 0, 1)
	}
	if u.Spread != nil {
		c.Spread = math.Max(0, finite(*u.Spread))
	}
	if u.Volume != nil {
		c.Volume = math.Max(0, finite(*u.Volume))
	}
	c.UpdatedAt = b.now().UTC()
	b.items[c.Symbol] = c
	b.mu.Unlock()

	b.bus.Publish(events.EventMarketConditionsUpdated, events.MarketConditionsEvent{
		Symbol: c.Symbol, Volatility: c.Volatility, Liquidity: c.Liquidity, Spread: c.Spread, Volume: c.Volume,
	})
	return c
}

// Snapshot copies all known conditions.
func (b *ConditionsBook) Snapshot() map[string]Conditions {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Conditions, len(b.items))
	for k, v := range b.items {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	v = finite(v)
	return math.Min(hi, math.Max(lo, v))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
