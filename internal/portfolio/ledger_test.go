package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/pkg/trading"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertBalanced(t *testing.T, b Balance) {
	t.Helper()
	assert.True(t, b.Available.Add(b.Locked).Equal(b.Total), "available %s + locked %s != total %s", b.Available, b.Locked, b.Total)
	assert.False(t, b.Total.IsNegative(), "negative total %s", b.Total)
}

type fixedPrices map[string]float64

func (f fixedPrices) Lookup(symbol string) (float64, bool) {
	p, ok := f[symbol]
	return p, ok
}

func buy(user, symbol string, qty, price, fee float64) Trade {
	return Trade{UserID: user, Exchange: "binance", Symbol: symbol, Side: trading.SideBuy, Quantity: qty, Price: price, Fee: fee}
}

func sell(user, symbol string, qty, price, fee float64) Trade {
	t := buy(user, symbol, qty, price, fee)
	t.Side = trading.SideSell
	return t
}

func TestInitializeIsIdempotent(t *testing.T) {
	l := NewLedger(10000)

	b, created, err := l.InitializeUserPortfolio("alice", 10000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, b.Total.Equal(d("10000")))

	b, created, err = l.InitializeUserPortfolio("alice", 10000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, b.Total.Equal(d("10000")), "second call must not double-credit")
	assert.Equal(t, "USDT", b.Currency)

	_, _, err = l.InitializeUserPortfolio("", 1)
	assert.ErrorIs(t, err, ErrUserIDRequired)
	_, _, err = l.InitializeUserPortfolio("bob", -1)
	assert.ErrorIs(t, err, ErrInvalidInitialAmount)
}

func TestInsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	l := NewLedger(10000)
	_, _, err := l.InitializeUserPortfolio("alice", 10000)
	require.NoError(t, err)

	_, err = l.ExecuteSimulatedTrade(context.Background(), buy("alice", "BTCUSDT", 1, 50000, 0))
	var ibe *InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Required.Equal(d("50000")))
	assert.Equal(t, KindInsufficientBalance, ibe.Kind())

	b, err := l.GetBalance("alice")
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(d("10000")))
	assert.Empty(t, l.TradeHistory("alice", trading.TimeRange{}))
}

func TestSellNotHeld(t *testing.T) {
	l := NewLedger(10000)
	_, _, _ = l.InitializeUserPortfolio("alice", 10000)

	_, err := l.ExecuteSimulatedTrade(context.Background(), sell("alice", "ETHUSDT", 1, 3000, 0))
	var ipe *InsufficientPositionError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "ETHUSDT", ipe.Symbol)
	assert.True(t, ipe.Held.IsZero())

	_, err = l.ExecuteSimulatedTrade(context.Background(), buy("alice", "ETHUSDT", 1, 3000, 0))
	require.NoError(t, err)
	_, err = l.ExecuteSimulatedTrade(context.Background(), sell("alice", "ETHUSDT", 1.5, 3000, 0))
	require.ErrorAs(t, err, &ipe)
	assert.True(t, ipe.Held.Equal(d("1")))

	b, _ := l.GetBalance("alice")
	assert.True(t, b.Total.Equal(d("7000")))
}

func TestRejectedFirstTradeOpensNoPortfolio(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(10000)

	_, err := l.ExecuteSimulatedTrade(ctx, sell("ghost", "BTCUSDT", 1, 50000, 0))
	var ipe *InsufficientPositionError
	require.ErrorAs(t, err, &ipe)
	assert.True(t, ipe.Held.IsZero())

	_, err = l.ExecuteSimulatedTrade(ctx, buy("ghost2", "BTCUSDT", 1, 50000, 0))
	var ibe *InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)

	require.ErrorAs(t, l.Reserve("ghost3", "o-1", 20000), &ibe)
	assert.Equal(t, 0, l.UserCount())

	b, created, err := l.InitializeUserPortfolio("ghost", 50000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, b.Total.Equal(d("50000")))
}

func TestFirstTradeOpensDefaultPortfolio(t *testing.T) {
	l := NewLedger(10000)
	_, err := l.ExecuteSimulatedTrade(context.Background(), buy("bob", "BTCUSDT", 0.1, 50000, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, l.UserCount())

	b, created, _ := l.InitializeUserPortfolio("bob", 50000)
	assert.False(t, created)
	assert.True(t, b.Total.Equal(d("10000")))
	assert.True(t, b.Available.Equal(d("5000")))
}

func TestRoundTripWithoutFeesIsExact(t *testing.T) {
	l := NewLedger(10000)
	_, _, _ = l.InitializeUserPortfolio("alice", 10000)
	ctx := context.Background()

	_, err := l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 0.1, 50000.1, 0))
	require.NoError(t, err)
	entry, err := l.ExecuteSimulatedTrade(ctx, sell("alice", "BTCUSDT", 0.1, 50000.1, 0))
	require.NoError(t, err)

	b, _ := l.GetBalance("alice")
	assert.True(t, b.Total.Equal(d("10000")), "total %s", b.Total)
	assert.True(t, entry.RealizedPnL.IsZero())
	assert.True(t, entry.IsPaperTrade)

	sum, err := l.GetPortfolioSummary(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Positions)
}

func TestWeightedAverageAndRealizedPnL(t *testing.T) {
	l := NewLedger(100000)
	ctx := context.Background()

	_, err := l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 1, 40000, 40))
	require.NoError(t, err)
	_, err = l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 1, 50000, 50))
	require.NoError(t, err)

	sum, err := l.GetPortfolioSummary(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, sum.Positions, 1)
	assert.True(t, sum.Positions[0].AvgEntryPrice.Equal(d("45000")))
	assert.True(t, sum.Positions[0].Fees.Equal(d("90")))

	entry, err := l.ExecuteSimulatedTrade(ctx, sell("alice", "BTCUSDT", 1, 47000, 47))
	require.NoError(t, err)
	assert.True(t, entry.RealizedPnL.Equal(d("2000")))

	sum, err = l.GetPortfolioSummary(ctx, "alice", map[string]float64{"BTCUSDT": 46000})
	require.NoError(t, err)
	pos := sum.Positions[0]
	assert.True(t, pos.Quantity.Equal(d("1")))
	assert.True(t, pos.Fees.Equal(d("45")))
	assert.Equal(t, "supplied", pos.MarkSource)
	// (46000-45000)*1 - 45
	assert.True(t, pos.UnrealizedPnL.Equal(d("955")), "unrealized %s", pos.UnrealizedPnL)
	assert.True(t, sum.RealizedPnL.Equal(d("2000")))
	assert.True(t, sum.TotalFees.Equal(d("137")))
	assert.True(t, sum.GrossPnL.Equal(d("3000")))
	assert.True(t, sum.NetPnL.Equal(d("2863")))
	assert.True(t, sum.IsPaperPortfolio)
	assert.Equal(t, 3, sum.TradeCount)
	// cash 100000-40040-50050+46953 = 56863, plus 46000 marked
	assert.True(t, sum.Equity.Equal(d("102863")), "equity %s", sum.Equity)
	assertBalanced(t, sum.Balance)
}

func TestSummaryMarkFallbacks(t *testing.T) {
	l := NewLedger(100000, WithPriceLookup(fixedPrices{"ETHUSDT": 3300}))
	ctx := context.Background()
	_, _ = l.ExecuteSimulatedTrade(ctx, buy("alice", "ETHUSDT", 2, 3000, 0))
	_, _ = l.ExecuteSimulatedTrade(ctx, buy("alice", "SOLUSDT", 10, 100, 0))

	sum, err := l.GetPortfolioSummary(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, sum.Positions, 2)
	assert.Equal(t, "lookup", sum.Positions[0].MarkSource)
	assert.True(t, sum.Positions[0].UnrealizedPnL.Equal(d("600")))
	assert.Equal(t, "entry", sum.Positions[1].MarkSource)
	assert.True(t, sum.Positions[1].UnrealizedPnL.IsZero())

	_, err = l.GetPortfolioSummary(ctx, "nobody", nil)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestReservations(t *testing.T) {
	l := NewLedger(10000)
	ctx := context.Background()
	_, _, _ = l.InitializeUserPortfolio("alice", 10000)

	require.NoError(t, l.Reserve("alice", "o1", 6000))
	assert.ErrorIs(t, l.Reserve("alice", "o1", 10), ErrReservationExists)

	var ibe *InsufficientBalanceError
	assert.ErrorAs(t, l.Reserve("alice", "o2", 5000), &ibe)

	b, _ := l.GetBalance("alice")
	assert.True(t, b.Locked.Equal(d("6000")))
	assert.True(t, b.Available.Equal(d("4000")))
	assertBalanced(t, b)

	// a fill for o1 consumes its own reservation
	tr := buy("alice", "BTCUSDT", 0.1, 59000, 5.9)
	tr.OrderID = "o1"
	_, err := l.ExecuteSimulatedTrade(ctx, tr)
	require.NoError(t, err)
	b, _ = l.GetBalance("alice")
	assert.True(t, b.Locked.IsZero())
	assert.True(t, b.Total.Equal(d("4094.1")))
	assertBalanced(t, b)
	assert.False(t, l.Release("alice", "o1"))

	require.NoError(t, l.Reserve("alice", "o3", 1000))
	assert.True(t, l.Release("alice", "o3"))
	assert.False(t, l.Release("ghost", "o3"))
	b, _ = l.GetBalance("alice")
	assert.True(t, b.Available.Equal(b.Total))
}

func TestInvalidTrades(t *testing.T) {
	l := NewLedger(10000)
	ctx := context.Background()
	tests := []Trade{
		{UserID: "a", Symbol: "X", Side: "hold", Quantity: 1, Price: 1},
		{UserID: "a", Symbol: "", Side: trading.SideBuy, Quantity: 1, Price: 1},
		{UserID: "a", Symbol: "X", Side: trading.SideBuy, Quantity: 0, Price: 1},
		{UserID: "a", Symbol: "X", Side: trading.SideBuy, Quantity: 1, Price: 0},
		{UserID: "a", Symbol: "X", Side: trading.SideBuy, Quantity: 1, Price: 1, Fee: -1},
	}
	for i, tr := range tests {
		_, err := l.ExecuteSimulatedTrade(ctx, tr)
		assert.ErrorIs(t, err, ErrInvalidTrade, "case %d", i)
	}
	_, err := l.ExecuteSimulatedTrade(ctx, Trade{Symbol: "X", Side: trading.SideBuy, Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrUserIDRequired)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.ExecuteSimulatedTrade(cancelled, buy("a", "X", 1, 1, 0))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConcurrentSameUserTradesSerialize(t *testing.T) {
	l := NewLedger(1000)
	ctx := context.Background()
	_, _, _ = l.InitializeUserPortfolio("alice", 1000)

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 1, 10, 0)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 1000 / 10 = exactly 100 buys fit
	assert.Equal(t, 100, ok)
	b, _ := l.GetBalance("alice")
	assert.True(t, b.Total.IsZero(), "total %s", b.Total)
	assertBalanced(t, b)
	assert.Len(t, l.TradeHistory("alice", trading.TimeRange{}), 100)
}

func TestDifferentUsersRunInParallel(t *testing.T) {
	l := NewLedger(1000)
	ctx := context.Background()
	var wg sync.WaitGroup
	for u := 0; u < 20; u++ {
		user := fmt.Sprintf("user-%d", u)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = l.ExecuteSimulatedTrade(ctx, buy(user, "ETHUSDT", 1, 50, 0))
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 20, l.UserCount())
	for _, u := range l.Users() {
		b, err := l.GetBalance(u)
		require.NoError(t, err)
		assert.True(t, b.Total.Equal(d("500")), "%s total %s", u, b.Total)
	}
	assert.Len(t, l.AllTradeHistory(trading.TimeRange{}), 200)
}

func TestHistoryRangeAndHooks(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	var hooked []string
	l := NewLedger(10000,
		WithClock(clock),
		WithTradeHook(func(e TradeHistoryEntry) { hooked = append(hooked, e.ID) }))
	ctx := context.Background()

	_, err := l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 0.01, 50000, 0))
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = l.ExecuteSimulatedTrade(ctx, buy("bob", "BTCUSDT", 0.01, 50000, 0))
	require.NoError(t, err)

	window := trading.TimeRange{From: now.Add(-time.Minute)}
	all := l.AllTradeHistory(window)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].UserID)
	assert.Len(t, hooked, 2)
	assert.Len(t, l.AllTradeHistory(trading.TimeRange{}), 2)
}

func TestResetUserPortfolio(t *testing.T) {
	l := NewLedger(10000)
	ctx := context.Background()
	_, _ = l.ExecuteSimulatedTrade(ctx, buy("alice", "BTCUSDT", 0.1, 50000, 5))

	assert.True(t, l.ResetUserPortfolio("alice"))
	assert.False(t, l.ResetUserPortfolio("alice"))
	_, err := l.GetBalance("alice")
	assert.ErrorIs(t, err, ErrPortfolioNotFound)

	b, created, err := l.InitializeUserPortfolio("alice", 10000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, b.Total.Equal(d("10000")))
}
