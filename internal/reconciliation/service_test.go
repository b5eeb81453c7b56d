package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/trading"
)

type fakeJournal []simulation.ExecutionRecord

func (f fakeJournal) Executions(trading.TimeRange) []simulation.ExecutionRecord { return f }

type fakeLedger []portfolio.TradeHistoryEntry

func (f fakeLedger) AllTradeHistory(trading.TimeRange) []portfolio.TradeHistoryEntry { return f }

func entry(orderID, exchange, symbol string, qty, price, fee float64) portfolio.TradeHistoryEntry {
	return portfolio.TradeHistoryEntry{
		OrderID:  orderID,
		Exchange: exchange,
		Symbol:   symbol,
		Quantity: decimal.NewFromFloat(qty),
		Price:    decimal.NewFromFloat(price),
		Fee:      decimal.NewFromFloat(fee),
	}
}

func TestReconcileDetectsDifferences(t *testing.T) {
	journal := fakeJournal{
		{OrderID: "a", Exchange: "binance", Symbol: "BTCUSDT", Quantity: 0.1, Price: 50000, Fee: 5},
		{OrderID: "b", Exchange: "binance", Symbol: "ETHUSDT", Quantity: 2, Price: 3000, Fee: 6},
	}

	tests := []struct {
		name             string
		ledger           fakeLedger
		wantDiffs        bool
		missingInLedger  []string
		missingInJournal []string
	}{
		{
			name: "clean",
			ledger: fakeLedger{
				entry("a", "binance", "BTCUSDT", 0.1, 50000, 5),
				entry("b", "binance", "ETHUSDT", 2, 3000, 6),
			},
		},
		{
			name:            "fill never settled",
			ledger:          fakeLedger{entry("a", "binance", "BTCUSDT", 0.1, 50000, 5)},
			wantDiffs:       true,
			missingInLedger: []string{"b"},
		},
		{
			name: "ledger trade without a fill",
			ledger: fakeLedger{
				entry("a", "binance", "BTCUSDT", 0.1, 50000, 5),
				entry("b", "binance", "ETHUSDT", 2, 3000, 6),
				entry("c", "binance", "ETHUSDT", 1, 3000, 3),
			},
			wantDiffs:        true,
			missingInJournal: []string{"c"},
		},
		{
			name: "fee drift",
			ledger: fakeLedger{
				entry("a", "binance", "BTCUSDT", 0.1, 50000, 5),
				entry("b", "binance", "ETHUSDT", 2, 3000, 7),
			},
			wantDiffs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(journal, tt.ledger, 0)
			report, err := svc.Reconcile(context.Background(), trading.TimeRange{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantDiffs, report.HasDiffs)
			assert.Equal(t, tt.missingInLedger, report.MissingInLedger)
			assert.Equal(t, tt.missingInJournal, report.MissingInJournal)
			assert.Same(t, report, svc.Last())
		})
	}
}

func TestReconcileGroupsAreSorted(t *testing.T) {
	journal := fakeJournal{
		{OrderID: "1", Exchange: "okx", Symbol: "BTCUSDT", Quantity: 1, Price: 10},
		{OrderID: "2", Exchange: "binance", Symbol: "ETHUSDT", Quantity: 1, Price: 10},
		{OrderID: "3", Exchange: "binance", Symbol: "BTCUSDT", Quantity: 1, Price: 10},
	}
	svc := NewService(journal, fakeLedger{}, 0)

	report, err := svc.Reconcile(context.Background(), trading.TimeRange{})
	require.NoError(t, err)
	require.Len(t, report.Groups, 3)
	assert.Equal(t, "binance", report.Groups[0].Exchange)
	assert.Equal(t, "BTCUSDT", report.Groups[0].Symbol)
	assert.Equal(t, "ETHUSDT", report.Groups[1].Symbol)
	assert.Equal(t, "okx", report.Groups[2].Exchange)
	assert.Equal(t, 3, report.Journal.Count)
	assert.Zero(t, report.Ledger.Count)
}

func TestReconcileHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(fakeJournal{}, fakeLedger{}, 0).Reconcile(ctx, trading.TimeRange{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMismatchIsAudited(t *testing.T) {
	trail := audit.NewTrail(16)
	svc := NewService(
		fakeJournal{{OrderID: "x", Exchange: "paper", Symbol: "BTCUSDT", Quantity: 1, Price: 1}},
		fakeLedger{}, 0, WithTrail(trail))

	report, err := svc.Reconcile(context.Background(), trading.TimeRange{})
	require.NoError(t, err)
	svc.handleReport(report)

	events := trail.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventMismatch, events[0].Name)
	assert.Equal(t, audit.RiskHigh, events[0].RiskLevel)
}

func TestEngineAndLedgerStayInStep(t *testing.T) {
	ctx := context.Background()
	engine := simulation.NewEngine(simulation.DefaultConfig(), nil, nil,
		simulation.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	ledger := portfolio.NewLedger(100000)

	settle := func(ctx context.Context, o trading.SimulatedOrder) error {
		if o.Status != trading.StatusFilled {
			return nil
		}
		_, err := ledger.ExecuteSimulatedTrade(ctx, portfolio.Trade{
			UserID: o.UserID, OrderID: o.OrderID, Exchange: o.Exchange, Symbol: o.Symbol,
			Side: o.Side, Quantity: o.Quantity, Price: o.ExecutedPrice, Fee: o.Meta.Fee,
			ExecutedAt: o.UpdatedAt,
		})
		return err
	}

	for _, req := range []trading.OrderRequest{
		{UserID: "u1", Exchange: "binance", Symbol: "BTCUSDT", Side: trading.SideBuy, Type: trading.OrderTypeMarket, Quantity: 0.1, Price: 50000},
		{UserID: "u1", Exchange: "binance", Symbol: "BTCUSDT", Side: trading.SideSell, Type: trading.OrderTypeMarket, Quantity: 0.05, Price: 51000},
		{UserID: "u2", Exchange: "okx", Symbol: "ETHUSDT", Side: trading.SideBuy, Type: trading.OrderTypeMarket, Quantity: 1, Price: 3000},
		// fails settlement: far beyond the balance
		{UserID: "u2", Exchange: "okx", Symbol: "ETHUSDT", Side: trading.SideBuy, Type: trading.OrderTypeMarket, Quantity: 1000, Price: 3000},
	} {
		_, _ = engine.SimulateAndSettle(ctx, req, settle)
	}

	svc := NewService(engine, ledger, 0)
	report, err := svc.Reconcile(ctx, trading.TimeRange{})
	require.NoError(t, err)
	assert.False(t, report.HasDiffs)
	assert.Equal(t, 3, report.Journal.Count)
	assert.Equal(t, 3, report.Ledger.Count)

	// The same window bounded by commit time must still agree.
	all := engine.Executions(trading.TimeRange{})
	cut := all[1].ExecutedAt
	report, err = svc.Reconcile(ctx, trading.TimeRange{To: cut})
	require.NoError(t, err)
	assert.False(t, report.HasDiffs)
}
