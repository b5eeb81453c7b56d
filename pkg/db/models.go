package db

import "time"

// AuditEventRow is a persisted security audit entry.
type AuditEventRow struct {
	ID        string
	Timestamp time.Time
	Name      string
	UserID    string
	RiskLevel string
	Details   string // JSON object
}

// OrderRow is the latest known state of a simulated order.
type OrderRow struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ClientOrderID  string    `json:"clientOrderId,omitempty"`
	Exchange       string    `json:"exchange"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Qty            float64   `json:"quantity"`
	Price          float64   `json:"price"`
	ReferencePrice float64   `json:"referencePrice"`
	ExecutedPrice  float64   `json:"executedPrice"`
	SlippagePct    float64   `json:"slippagePercent"`
	Fee            float64   `json:"fee"`
	FeePct         float64   `json:"feePercent"`
	DelayMs        int64     `json:"executionDelayMs"`
	Status         string    `json:"status"`
	RejectReason   string    `json:"rejectReason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TradeRow is a ledger fill.
type TradeRow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	OrderID     string    `json:"orderId"`
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realizedPnl"`
	ExecutedAt  time.Time `json:"executedAt"`
}

// User is an account allowed to hold a paper portfolio.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CredentialRow stores sealed exchange credentials that passed validation.
type CredentialRow struct {
	UserID          string
	Exchange        string
	APIKeySealed    string
	APISecretSealed string
	KeyVersion      int
	RiskLevel       string
	ReadOnly        bool
	ValidatedAt     time.Time
}

const (
	insertAuditEventSQL = `
		INSERT OR IGNORE INTO audit_events (id, ts_ms, name, user_id, risk_level, details)
		VALUES (?, ?, ?, ?, ?, ?)`

	upsertOrderSQL = `
		INSERT INTO paper_orders (
			id, user_id, client_order_id, exchange, symbol, side, type, qty, price,
			reference_price, executed_price, slippage_pct, fee, fee_pct, delay_ms,
			status, reject_reason, created_ms, updated_ms, is_paper_trade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			executed_price = excluded.executed_price,
			slippage_pct = excluded.slippage_pct,
			fee = excluded.fee,
			fee_pct = excluded.fee_pct,
			delay_ms = excluded.delay_ms,
			status = excluded.status,
			reject_reason = excluded.reject_reason,
			updated_ms = excluded.updated_ms`

	insertTradeSQL = `
		INSERT OR IGNORE INTO paper_trades (
			id, user_id, order_id, exchange, symbol, side, qty, price, fee, realized_pnl,
			executed_ms, is_paper_trade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
)

// InsertAuditEventStmt returns the statement and args for a batched insert.
func InsertAuditEventStmt(e AuditEventRow) (string, []any) {
	return insertAuditEventSQL, []any{e.ID, e.Timestamp.UnixMilli(), e.Name, e.UserID, e.RiskLevel, e.Details}
}

// UpsertOrderStmt returns the statement and args for a batched order upsert.
func UpsertOrderStmt(o OrderRow) (string, []any) {
	return upsertOrderSQL, []any{
		o.ID, o.UserID, o.ClientOrderID, o.Exchange, o.Symbol, o.Side, o.Type, o.Qty, o.Price,
		o.ReferencePrice, o.ExecutedPrice, o.SlippagePct, o.Fee, o.FeePct, o.DelayMs,
		o.Status, o.RejectReason, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	}
}

// InsertTradeStmt returns the statement and args for a batched trade insert.
func InsertTradeStmt(t TradeRow) (string, []any) {
	return insertTradeSQL, []any{
		t.ID, t.UserID, t.OrderID, t.Exchange, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.RealizedPnL,
		t.ExecutedAt.UnixMilli(),
	}
}
