package db

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestQueriesRequireUserID(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()

	t.Run("GetOrdersByUser requires userID", func(t *testing.T) {
		if _, err := q.GetOrdersByUser(ctx, "", 10); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("GetTradesByUser requires userID", func(t *testing.T) {
		if _, err := q.GetTradesByUser(ctx, "", time.Time{}, time.Time{}); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("UpsertCredential requires userID", func(t *testing.T) {
		if err := q.UpsertCredential(ctx, CredentialRow{Exchange: "binance"}); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := openTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	ok, err := columnExists(database.DB, "paper_orders", "client_order_id")
	if err != nil || !ok {
		t.Fatalf("client_order_id column missing: %v", err)
	}
}

func TestMissingTablesBeforeAndAfterMigrations(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	missing, err := database.MissingTables(ctx)
	if err != nil {
		t.Fatalf("MissingTables: %v", err)
	}
	if len(missing) != len(JournalTables) {
		t.Fatalf("expected all %d tables missing, got %v", len(JournalTables), missing)
	}

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	missing, err = database.MissingTables(ctx)
	if err != nil || len(missing) != 0 {
		t.Fatalf("after migrations: missing=%v err=%v", missing, err)
	}
}

func TestTradesAreIsolatedAndWriteOnce(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	trades := []TradeRow{
		{ID: "t1", UserID: "alice", OrderID: "o1", Exchange: "binance", Symbol: "BTCUSDT", Side: "buy", Qty: 0.1, Price: 50000, Fee: 5, ExecutedAt: base},
		{ID: "t2", UserID: "alice", OrderID: "o2", Exchange: "binance", Symbol: "BTCUSDT", Side: "sell", Qty: 0.1, Price: 51000, Fee: 5.1, RealizedPnL: 100, ExecutedAt: base.Add(time.Second)},
		{ID: "t3", UserID: "bob", OrderID: "o3", Exchange: "kraken", Symbol: "ETHUSDT", Side: "buy", Qty: 1, Price: 3000, ExecutedAt: base},
	}
	for _, tr := range trades {
		if err := q.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("CreateTrade(%s): %v", tr.ID, err)
		}
	}

	dup := trades[0]
	dup.Price = 1
	if err := q.CreateTrade(ctx, dup); err != nil {
		t.Fatalf("duplicate insert should be ignored, got %v", err)
	}

	got, err := q.GetTradesByUser(ctx, "alice", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetTradesByUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trades for alice, got %d", len(got))
	}
	if got[0].Price != 50000 {
		t.Errorf("trade t1 was overwritten: price %v", got[0].Price)
	}
	if got[1].RealizedPnL != 100 {
		t.Errorf("realized pnl = %v", got[1].RealizedPnL)
	}

	ranged, _ := q.GetTradesByUser(ctx, "alice", base.Add(time.Second), base.Add(time.Hour))
	if len(ranged) != 1 || ranged[0].ID != "t2" {
		t.Errorf("range filter returned %+v", ranged)
	}
}

func TestOrderUpsertTracksLatestStatus(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	o := OrderRow{ID: "binance_paper_1", UserID: "alice", Exchange: "binance", Symbol: "BTCUSDT", Side: "buy", Type: "limit",
		Qty: 1, Price: 100, Status: "new", CreatedAt: now, UpdatedAt: now}
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}
	o.Status = "cancelled"
	o.UpdatedAt = now.Add(time.Second)
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder update: %v", err)
	}

	orders, err := q.GetOrdersByUser(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetOrdersByUser: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != "cancelled" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if !orders[0].UpdatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("updated_at = %v", orders[0].UpdatedAt)
	}
}

func TestPaperFlagCannotBeCleared(t *testing.T) {
	database := openTestDB(t)
	_, err := database.DB.Exec(`INSERT INTO paper_trades (id, user_id, order_id, exchange, symbol, side, qty, price, executed_ms, is_paper_trade)
		VALUES ('x', 'u', 'o', 'binance', 'BTCUSDT', 'buy', 1, 1, 0, 0)`)
	if err == nil {
		t.Fatal("expected CHECK constraint to reject is_paper_trade = 0")
	}
}

func TestCredentialLifecycle(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()

	if _, err := q.GetCredential(ctx, "alice", "binance"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	row := CredentialRow{UserID: "alice", Exchange: "binance", APIKeySealed: "PT[v1]:abc", KeyVersion: 1,
		RiskLevel: "low", ReadOnly: true, ValidatedAt: time.UnixMilli(1_700_000_000_000)}
	if err := q.UpsertCredential(ctx, row); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	got, err := q.GetCredential(ctx, "alice", "binance")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.APIKeySealed != row.APIKeySealed || !got.ReadOnly || got.KeyVersion != 1 {
		t.Errorf("unexpected credential %+v", got)
	}
	if _, err := q.GetCredential(ctx, "bob", "binance"); err != ErrNotFound {
		t.Errorf("bob must not see alice's credential, got %v", err)
	}

	if err := q.DeleteCredential(ctx, "alice", "binance"); err != nil {
		t.Fatalf("DeleteCredential: %v", err)
	}
	if err := q.DeleteCredential(ctx, "alice", "binance"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestAuditEventsQueries(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, level := range []string{"low", "critical", "critical", "medium"} {
		e := AuditEventRow{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second), Name: "evt", RiskLevel: level, Details: "{}"}
		if err := q.InsertAuditEvent(ctx, e); err != nil {
			t.Fatalf("InsertAuditEvent: %v", err)
		}
	}

	counts, err := q.CountAuditEventsByRisk(ctx)
	if err != nil {
		t.Fatalf("CountAuditEventsByRisk: %v", err)
	}
	if counts["critical"] != 2 || counts["low"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	recent, err := q.ListAuditEvents(ctx, base.Add(2*time.Second), 10)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "d" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestUsers(t *testing.T) {
	q := openTestDB(t).Queries()
	ctx := context.Background()

	u, err := q.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || u != nil {
		t.Fatalf("expected no user, got %v, %v", u, err)
	}

	user := User{ID: "u-1", Email: "a@example.com", PasswordHash: "hash", CreatedAt: time.UnixMilli(1_700_000_000_000)}
	if err := q.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := q.CreateUser(ctx, User{ID: "u-2", Email: "a@example.com", PasswordHash: "x"}); err != ErrEmailTaken {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}

	got, err := q.GetUserByEmail(ctx, "a@example.com")
	if err != nil || got == nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != "u-1" || !got.CreatedAt.Equal(user.CreatedAt) {
		t.Errorf("unexpected user %+v", got)
	}
}
