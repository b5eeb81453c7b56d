// Package db persists the paper-trading compliance journal in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
	ErrEmailTaken     = errors.New("email already registered")
)

// Queries provides typed, user-isolated access to the journal tables.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Audit events
// ----------------------------------------

// InsertAuditEvent writes a single event outside of a batch.
func (q *Queries) InsertAuditEvent(ctx context.Context, e AuditEventRow) error {
	query, args := InsertAuditEventStmt(e)
	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

// ListAuditEvents returns events at or after since, newest first.
func (q *Queries) ListAuditEvents(ctx context.Context, since time.Time, limit int) ([]AuditEventRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, ts_ms, name, COALESCE(user_id, ''), risk_level, COALESCE(details, '{}')
		FROM audit_events
		WHERE ts_ms >= ?
		ORDER BY ts_ms DESC
		LIMIT ?
	`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEventRow
	for rows.Next() {
		var (
			e  AuditEventRow
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Name, &e.UserID, &e.RiskLevel, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAuditEventsByRisk aggregates persisted events per risk level.
func (q *Queries) CountAuditEventsByRisk(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT risk_level, COUNT(*) FROM audit_events GROUP BY risk_level`)
	if err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}

// ----------------------------------------
// Orders and trades
// ----------------------------------------

// UpsertOrder writes the current state of an order.
func (q *Queries) UpsertOrder(ctx context.Context, o OrderRow) error {
	if o.UserID == "" {
		return ErrUserIDRequired
	}
	query, args := UpsertOrderStmt(o)
	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

// GetOrdersByUser returns a user's orders, newest first.
func (q *Queries) GetOrdersByUser(ctx context.Context, userID string, limit int) ([]OrderRow, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(client_order_id, ''), exchange, symbol, side, type, qty, price,
		       reference_price, executed_price, slippage_pct, fee, fee_pct, COALESCE(delay_ms, 0),
		       status, COALESCE(reject_reason, ''), created_ms, updated_ms
		FROM paper_orders
		WHERE user_id = ?
		ORDER BY created_ms DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var (
			o                OrderRow
			created, updated int64
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.ClientOrderID, &o.Exchange, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price,
			&o.ReferencePrice, &o.ExecutedPrice, &o.SlippagePct, &o.Fee, &o.FeePct, &o.DelayMs,
			&o.Status, &o.RejectReason, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CreatedAt = time.UnixMilli(created)
		o.UpdatedAt = time.UnixMilli(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateTrade appends a fill. Trades are write-once; a duplicate id is ignored.
func (q *Queries) CreateTrade(ctx context.Context, t TradeRow) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	query, args := InsertTradeStmt(t)
	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

// GetTradesByUser returns a user's fills in [from, to), oldest first.
// A zero to means "until now".
func (q *Queries) GetTradesByUser(ctx context.Context, userID string, from, to time.Time) ([]TradeRow, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if to.IsZero() {
		to = time.Now().Add(time.Millisecond)
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, order_id, exchange, symbol, side, qty, price, fee, realized_pnl, executed_ms
		FROM paper_trades
		WHERE user_id = ? AND executed_ms >= ? AND executed_ms < ?
		ORDER BY executed_ms ASC
	`, userID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var (
			t  TradeRow
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrderID, &t.Exchange, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.Fee, &t.RealizedPnL, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExecutedAt = time.UnixMilli(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Users
// ----------------------------------------

// CreateUser inserts a user. ErrEmailTaken when the email is registered.
func (q *Queries) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return ErrUserIDRequired
	}
	if existing, err := q.GetUserByEmail(ctx, u.Email); err != nil {
		return err
	} else if existing != nil {
		return ErrEmailTaken
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_ms) VALUES (?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns nil, nil when no user has the email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var (
		u  User
		ts int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_ms FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(ts)
	return &u, nil
}

// ----------------------------------------
// Credentials
// ----------------------------------------

// UpsertCredential stores sealed credentials for (user, exchange).
func (q *Queries) UpsertCredential(ctx context.Context, c CredentialRow) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO exchange_credentials (
			user_id, exchange, api_key_sealed, api_secret_sealed, key_version, risk_level, read_only, validated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, exchange) DO UPDATE SET
			api_key_sealed = excluded.api_key_sealed,
			api_secret_sealed = excluded.api_secret_sealed,
			key_version = excluded.key_version,
			risk_level = excluded.risk_level,
			read_only = excluded.read_only,
			validated_ms = excluded.validated_ms
	`, c.UserID, c.Exchange, c.APIKeySealed, c.APISecretSealed, c.KeyVersion, c.RiskLevel, c.ReadOnly, c.ValidatedAt.UnixMilli())
	return err
}

// GetCredential loads sealed credentials; ErrNotFound when absent.
func (q *Queries) GetCredential(ctx context.Context, userID, exchange string) (*CredentialRow, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var (
		c  CredentialRow
		ts int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, exchange, api_key_sealed, COALESCE(api_secret_sealed, ''), key_version, risk_level, read_only, validated_ms
		FROM exchange_credentials
		WHERE user_id = ? AND exchange = ?
	`, userID, exchange).Scan(&c.UserID, &c.Exchange, &c.APIKeySealed, &c.APISecretSealed, &c.KeyVersion, &c.RiskLevel, &c.ReadOnly, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	c.ValidatedAt = time.UnixMilli(ts)
	return &c, nil
}

// DeleteCredential removes stored credentials for (user, exchange).
func (q *Queries) DeleteCredential(ctx context.Context, userID, exchange string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM exchange_credentials WHERE user_id = ? AND exchange = ?`, userID, exchange)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
