package simulation

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"papertrade-core/internal/market"
	"papertrade-core/pkg/trading"
)

// drawRand feeds engine draws from rapid so failures shrink.
type drawRand struct {
	t *rapid.T
}

func (d drawRand) Float64() float64 {
	return rapid.Float64Range(0, 0.999999).Draw(d.t, "u")
}

func TestPropertySlippageBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vol := rapid.Float64Range(0, 1).Draw(t, "volatility")
		liq := rapid.Float64Range(0, 1).Draw(t, "liquidity")
		qty := rapid.Float64Range(0.0001, 1e4).Draw(t, "qty")
		price := rapid.Float64Range(0.01, 1e6).Draw(t, "price")
		side := rapid.SampledFrom([]trading.Side{trading.SideBuy, trading.SideSell}).Draw(t, "side")

		rng := drawRand{t: t}
		conds := market.NewConditionsBook(rng, nil)
		conds.Update("XYZUSDT", market.ConditionsUpdate{Volatility: &vol, Liquidity: &liq})
		e := NewEngine(DefaultConfig(), conds, market.NewPriceBook(nil, nil),
			WithRand(rng), WithSleeper(noSleep))

		o, err := e.SimulateOrderExecution(context.Background(), trading.OrderRequest{
			UserID: "p", Symbol: "XYZUSDT", Side: side, Type: trading.OrderTypeMarket,
			Quantity: qty, Price: price, Exchange: "binance",
		})
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if s := o.Meta.SlippagePercent; s < 0 || s > 2.0 {
			t.Fatalf("slippage %.6f%% outside [0,2]", s)
		}
		if side == trading.SideBuy && o.ExecutedPrice < price {
			t.Fatalf("buy improved price: %.8f < %.8f", o.ExecutedPrice, price)
		}
		if side == trading.SideSell && o.ExecutedPrice > price {
			t.Fatalf("sell improved price: %.8f > %.8f", o.ExecutedPrice, price)
		}
		if !o.IsPaperTrade || o.Status != trading.StatusFilled {
			t.Fatalf("unexpected order %+v", o)
		}
		if d := o.Meta.ExecutionDelayMs; d < 0 || d > e.Config().MaxDelay.Milliseconds() {
			t.Fatalf("delay %dms outside cap", d)
		}
	})
}

func TestPropertyStatusAlwaysValid(t *testing.T) {
	valid := map[trading.OrderStatus]bool{
		trading.StatusNew: true, trading.StatusPartiallyFilled: true, trading.StatusFilled: true,
		trading.StatusCancelled: true, trading.StatusRejected: true,
	}
	rapid.Check(t, func(t *rapid.T) {
		rng := drawRand{t: t}
		e := NewEngine(DefaultConfig(), nil, nil, WithRand(rng), WithSleeper(noSleep))
		typ := rapid.SampledFrom([]trading.OrderType{
			trading.OrderTypeMarket, trading.OrderTypeLimit, trading.OrderTypeStop, trading.OrderTypeStopLimit,
		}).Draw(t, "type")

		o, err := e.SimulateOrderExecution(context.Background(), trading.OrderRequest{
			UserID: "p", Symbol: "ETHUSDT", Side: trading.SideBuy, Type: typ,
			Quantity: rapid.Float64Range(0.001, 10).Draw(t, "qty"), Price: 3000, Exchange: "okx",
		})
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if !o.IsPaperTrade || !valid[o.Status] {
			t.Fatalf("bad order %+v", o)
		}
		if rapid.Bool().Draw(t, "cancel") {
			cancelled := e.CancelSimulatedOrder(o.OrderID)
			if cancelled == o.Status.Terminal() {
				t.Fatalf("cancel=%v for status %s", cancelled, o.Status)
			}
		}
	})
}
