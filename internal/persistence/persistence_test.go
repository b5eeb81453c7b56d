package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/portfolio"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/trading"
)

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 2, time.Hour, zap.NewNop())
	defer bw.Close()

	rec := NewRecorder(bw, nil)
	rec.Forward(audit.Event{ID: "a", Timestamp: time.Now(), Name: "x", RiskLevel: audit.RiskLow})
	assert.Equal(t, 1, bw.Pending())
	rec.Forward(audit.Event{ID: "b", Timestamp: time.Now(), Name: "y", RiskLevel: audit.RiskHigh})
	assert.Equal(t, 0, bw.Pending())

	m := bw.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Zero(t, m.TotalErrors)

	counts, err := database.Queries().CountAuditEventsByRisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts["high"])
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, zap.NewNop())
	defer bw.Close()

	q, args := db.InsertAuditEventStmt(db.AuditEventRow{ID: "ok", Timestamp: time.Now(), Name: "n", RiskLevel: "low", Details: "{}"})
	bw.WriteQuery("audit_events", q, args...)
	bw.WriteQuery("nope", "INSERT INTO missing_table VALUES (1)")

	assert.Error(t, bw.Flush())
	assert.Equal(t, uint64(1), bw.GetMetrics().TotalErrors)

	rows, err := database.Queries().ListAuditEvents(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecorderJournalsOrdersAndTrades(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, zap.NewNop())
	rec := NewRecorder(bw, zap.NewNop())
	now := time.Now().UTC().Truncate(time.Millisecond)

	order := trading.SimulatedOrder{
		OrderID: "binance_paper_1", UserID: "alice", Symbol: "BTCUSDT", Exchange: "binance",
		Side: trading.SideBuy, Type: trading.OrderTypeLimit, Quantity: 0.1, Price: 49000,
		Status: trading.StatusNew, Timestamp: now, UpdatedAt: now, IsPaperTrade: true,
	}
	rec.RecordOrder(order)
	order.Status = trading.StatusCancelled
	order.UpdatedAt = now.Add(time.Second)
	rec.RecordOrder(order)
	rec.RecordOrder(trading.SimulatedOrder{OrderID: "anon"})

	rec.RecordTrade(portfolio.TradeHistoryEntry{
		ID: "t1", UserID: "alice", OrderID: "binance_paper_2", Exchange: "binance", Symbol: "BTCUSDT",
		Side: trading.SideBuy, Quantity: decimal.RequireFromString("0.1"), Price: decimal.NewFromInt(50000),
		Fee: decimal.NewFromInt(5), ExecutedAt: now, IsPaperTrade: true,
	})
	require.NoError(t, bw.Close())

	ctx := context.Background()
	orders, err := database.Queries().GetOrdersByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "cancelled", orders[0].Status)

	trades, err := database.Queries().GetTradesByUser(ctx, "alice", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 5.0, trades[0].Fee)
	assert.Equal(t, 0.1, trades[0].Qty)
}

func TestRecorderAsTrailSink(t *testing.T) {
	database := openDB(t)
	bw := NewBatchWriter(database.DB, 100, 10*time.Millisecond, zap.NewNop())
	defer bw.Close()

	trail := audit.NewTrail(10, audit.WithSinks(NewRecorder(bw, nil)))
	trail.Append("security.real_money_blocked", "mallory", audit.RiskCritical, map[string]any{"path": "/withdraw"})

	require.Eventually(t, func() bool {
		rows, err := database.Queries().ListAuditEvents(context.Background(), time.Time{}, 10)
		return err == nil && len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	rows, _ := database.Queries().ListAuditEvents(context.Background(), time.Time{}, 10)
	assert.Equal(t, "critical", rows[0].RiskLevel)
	assert.JSONEq(t, `{"path":"/withdraw"}`, rows[0].Details)
}
