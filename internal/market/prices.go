package market

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"papertrade-core/pkg/cache"
)

// PriceSource is a live price lookup, e.g. an exchange REST ticker.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// PriceOrigin tells where a resolved price came from.
type PriceOrigin string

const (
	OriginSource    PriceOrigin = "source"
	OriginLastKnown PriceOrigin = "last_known"
	OriginSynthetic PriceOrigin = "synthetic"
)

// syntheticPrices seeds symbols nobody has quoted yet.
var syntheticPrices = map[string]float64{
	"BTC": 50000,
	"ETH": 3000,
}

const defaultSyntheticPrice = 100.0

// SyntheticPrice returns the fallback reference for symbol.
func SyntheticPrice(symbol string) float64 {
	symbol = strings.ToUpper(symbol)
	for base, p := range syntheticPrices {
		if strings.HasPrefix(symbol, base) {
			return p
		}
	}
	return defaultSyntheticPrice
}

// PriceBook resolves reference prices: live source first, then the last
// known price, then the synthetic table. It always yields a positive price.
type PriceBook struct {
	source    PriceSource
	lastKnown *cache.TTLCache[float64]
	timeout   time.Duration
	log       *zap.Logger
}

// NewPriceBook creates a book. source may be nil for offline operation.
func NewPriceBook(source PriceSource, logger *zap.Logger) *PriceBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceBook{
		source:    source,
		lastKnown: cache.New[float64](0),
		timeout:   2 * time.Second,
		log:       logger.Named("prices"),
	}
}

// Observe records a price seen on a feed.
func (b *PriceBook) Observe(symbol string, price float64) {
	if price > 0 {
		b.lastKnown.Set(strings.ToUpper(symbol), price)
	}
}

// LastKnown returns the most recent observed price.
func (b *PriceBook) LastKnown(symbol string) (float64, bool) {
	return b.lastKnown.Get(strings.ToUpper(symbol))
}

// Resolve returns a reference price and its origin.
func (b *PriceBook) Resolve(ctx context.Context, symbol string) (float64, PriceOrigin) {
	symbol = strings.ToUpper(symbol)
	if b.source != nil {
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		p, err := b.source.Price(sctx, symbol)
		cancel()
		if err == nil && p > 0 {
			b.lastKnown.Set(symbol, p)
			return p, OriginSource
		}
		b.log.Debug("price source unavailable, falling back", zap.String("symbol", symbol), zap.Error(err))
	}
	if p, ok := b.lastKnown.Get(symbol); ok {
		return p, OriginLastKnown
	}
	return SyntheticPrice(symbol), OriginSynthetic
}

// Lookup is Resolve without the origin, for callers that only need a mark.
func (b *PriceBook) Lookup(symbol string) (float64, bool) {
	if p, ok := b.LastKnown(symbol); ok {
		return p, true
	}
	return SyntheticPrice(symbol), false
}

// Snapshot copies every last-known price.
func (b *PriceBook) Snapshot() map[string]float64 {
	return b.lastKnown.Snapshot()
}
