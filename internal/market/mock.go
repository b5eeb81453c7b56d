package market

import (
	"context"
	"strings"
	"time"

	"papertrade-core/internal/events"
)

// MockFeed generates a synthetic random walk for local development. Each
// step moves the price by at most Step percent.
type MockFeed struct {
	Prices   *PriceBook
	Bus      *events.Bus
	Rand     RandomSource
	Symbols  []string
	Step     float64 // percent per tick
	Interval time.Duration
}

// Start seeds every symbol and walks prices until ctx ends.
func (m *MockFeed) Start(ctx context.Context) {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.Step == 0 {
		m.Step = 0.1
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	for _, sym := range m.Symbols {
		if _, ok := m.Prices.LastKnown(sym); !ok {
			m.Prices.Observe(sym, SyntheticPrice(sym))
		}
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.Tick(now)
			}
		}
	}()
}

// Tick advances every symbol one step.
func (m *MockFeed) Tick(now time.Time) {
	for _, sym := range m.Symbols {
		sym = strings.ToUpper(sym)
		price, ok := m.Prices.LastKnown(sym)
		if !ok {
			price = SyntheticPrice(sym)
		}
		price *= 1 + (m.Rand.Float64()*2-1)*m.Step/100
		m.Prices.Observe(sym, price)
		m.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: sym, Price: price, Source: "mock", At: now.UTC()})
	}
}
