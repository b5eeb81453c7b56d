package market

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade-core/internal/events"
	"papertrade-core/pkg/market/binance"
)

// MiniTickerStream is the streaming side of the Binance client.
type MiniTickerStream interface {
	SubscribeMiniTickers(ctx context.Context, symbols []string) (<-chan binance.MiniTicker, func(), error)
}

// StatsSource supplies rolling statistics used to derive conditions.
type StatsSource interface {
	Ticker24h(ctx context.Context, symbol string) (binance.Ticker24h, error)
	BookTicker(ctx context.Context, symbol string) (binance.BookTicker, error)
}

// BinanceFeed keeps the price book and conditions in step with Binance
// public data. Prices come from the mini-ticker stream; conditions are
// refreshed from REST statistics on an interval.
type BinanceFeed struct {
	Stream          MiniTickerStream // nil disables streaming
	Stats           StatsSource      // nil disables condition refresh
	Prices          *PriceBook
	Conditions      *ConditionsBook
	Bus             *events.Bus
	Symbols         []string
	RefreshInterval time.Duration
	Log             *zap.Logger

	wg sync.WaitGroup
}

// Start launches the stream reader and the refresher; both stop with ctx.
func (f *BinanceFeed) Start(ctx context.Context) error {
	if f.Log == nil {
		f.Log = zap.NewNop()
	}
	if f.RefreshInterval <= 0 {
		f.RefreshInterval = 5 * time.Minute
	}

	if f.Stream != nil {
		ch, stop, err := f.Stream.SubscribeMiniTickers(ctx, f.Symbols)
		if err != nil {
			return err
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer stop()
			for t := range ch {
				f.Prices.Observe(t.Symbol, t.Close)
				f.Bus.Publish(events.EventPriceTick, events.PriceTick{
					Symbol: t.Symbol, Price: t.Close, Source: "binance", At: time.UnixMilli(t.Time).UTC(),
				})
			}
			f.Log.Info("binance mini-ticker stream closed")
		}()
	}

	if f.Stats != nil && f.Conditions != nil {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.refreshAll(ctx)
			ticker := time.NewTicker(f.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					f.refreshAll(ctx)
				}
			}
		}()
	}
	return nil
}

// Wait blocks until the feed goroutines exit.
func (f *BinanceFeed) Wait() {
	f.wg.Wait()
}

func (f *BinanceFeed) refreshAll(ctx context.Context) {
	for _, sym := range f.Symbols {
		if err := f.Refresh(ctx, sym); err != nil {
			f.Log.Warn("conditions refresh failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

// Refresh derives conditions for one symbol from 24h statistics and the top
// of book, and records the last price.
func (f *BinanceFeed) Refresh(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	stats, err := f.Stats.Ticker24h(ctx, symbol)
	if err != nil {
		return err
	}
	upd := ConditionsFromStats(stats)
	if book, err := f.Stats.BookTicker(ctx, symbol); err == nil {
		spread := book.SpreadPercent()
		upd.Spread = &spread
	}
	f.Prices.Observe(symbol, stats.LastPrice)
	f.Conditions.Update(symbol, upd)
	return nil
}

// ConditionsFromStats maps exchange statistics onto simulator conditions.
// Volatility scales the 24h high-low range so a 10% range saturates at 1.
// Liquidity is the decimal order of magnitude of quote volume over 10, so
// $1B of daily turnover reads as 0.9.
func ConditionsFromStats(s binance.Ticker24h) ConditionsUpdate {
	var upd ConditionsUpdate
	if s.LastPrice > 0 && s.High >= s.Low {
		vol := clamp((s.High-s.Low)/s.LastPrice*100/10, 0, 1)
		upd.Volatility = &vol
	}
	if s.QuoteVolume > 0 {
		liq := clamp(math.Log10(s.QuoteVolume)/10, 0, 1)
		volume := s.QuoteVolume
		upd.Liquidity = &liq
		upd.Volume = &volume
	}
	return upd
}
