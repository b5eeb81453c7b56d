// Package papertrade is the service facade the transport talks to. Every
// order goes guard, then engine, then ledger, with the outcome journaled.
package papertrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/safety"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/trace"
	"papertrade-core/pkg/trading"
	"papertrade-core/pkg/vault"
)

// Audit event names raised by the facade.
const (
	EventPortfolioReset    = "admin.portfolio_reset"
	EventCredentialStored  = "credential.stored"
	EventPortfolioCreated  = "portfolio.initialized"
	EventConditionsUpdated = "market.conditions_updated"
)

var (
	// ErrNotCertified is returned when an order arrives without a guard certificate.
	ErrNotCertified = errors.New("request was not certified by the safety guard")
	// ErrCredentialStoreDisabled means credentials validate but cannot be kept.
	ErrCredentialStoreDisabled = errors.New("credential storage is not configured")
)

// OrderRecorder journals order state changes.
type OrderRecorder interface {
	RecordOrder(o trading.SimulatedOrder)
}

// CredentialStore persists sealed credentials.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, c db.CredentialRow) error
}

// Service wires the guard, the engine and the ledger.
type Service struct {
	guard    *safety.Guard
	engine   *simulation.Engine
	ledger   *portfolio.Ledger
	trail    *audit.Trail
	recorder OrderRecorder
	creds    CredentialStore
	keyring  *vault.Keyring
	metrics  *monitor.SimulationMetrics
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithRecorder(r OrderRecorder) Option { return func(s *Service) { s.recorder = r } }
func WithMetrics(m *monitor.SimulationMetrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCredentialVault enables storage of validated credentials.
func WithCredentialVault(store CredentialStore, kr *vault.Keyring) Option {
	return func(s *Service) {
		s.creds = store
		s.keyring = kr
	}
}

// NewService creates the facade.
func NewService(guard *safety.Guard, engine *simulation.Engine, ledger *portfolio.Ledger, trail *audit.Trail, opts ...Option) *Service {
	s := &Service{
		guard:  guard,
		engine: engine,
		ledger: ledger,
		trail:  trail,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CancelHook releases the reservation of an order that left the book
// without filling and journals its final state.
func CancelHook(ledger *portfolio.Ledger, rec OrderRecorder) simulation.CancelHook {
	return func(o trading.SimulatedOrder) {
		ledger.Release(o.UserID, o.OrderID)
		if rec != nil {
			rec.RecordOrder(o)
		}
	}
}

// Submit certifies req with the guard and places it.
func (s *Service) Submit(ctx context.Context, req safety.InboundRequest) (*trading.SimulatedOrder, error) {
	cert, err := s.guard.InterceptTradingOperations(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.PlaceOrder(ctx, cert)
}

// PlaceOrder simulates a certified order and settles it against the ledger.
func (s *Service) PlaceOrder(ctx context.Context, cert *safety.Certified) (*trading.SimulatedOrder, error) {
	if cert == nil {
		return nil, ErrNotCertified
	}
	ctx, span := trace.StartSpan(ctx, "papertrade.PlaceOrder",
		attribute.String("user.id", cert.UserID()),
		attribute.String("http.route", cert.Path()),
	)
	defer span.End()

	req, err := cert.DecodeOrder()
	if err != nil {
		trace.RecordError(span, err)
		return nil, &simulation.ValidationError{Field: "body", Reason: err.Error()}
	}

	order, err := s.engine.SimulateAndSettle(ctx, req, s.settle)
	if order != nil {
		span.SetAttributes(
			attribute.String("order.id", order.OrderID),
			attribute.String("order.status", string(order.Status)),
		)
		if s.recorder != nil {
			s.recorder.RecordOrder(*order)
		}
	}
	if err != nil {
		trace.RecordError(span, err)
		s.countUnexpected(err)
		return order, err
	}
	if s.metrics != nil {
		s.metrics.SetActiveUsers(s.ledger.UserCount())
	}
	return order, nil
}

// settle applies fills to the ledger and reserves cash for resting buys.
func (s *Service) settle(ctx context.Context, o trading.SimulatedOrder) error {
	switch {
	case o.Status == trading.StatusFilled:
		_, err := s.ledger.ExecuteSimulatedTrade(ctx, portfolio.Trade{
			UserID:     o.UserID,
			OrderID:    o.OrderID,
			Exchange:   o.Exchange,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      o.ExecutedPrice,
			Fee:        o.Meta.Fee,
			ExecutedAt: o.UpdatedAt,
		})
		return err
	case o.Status == trading.StatusNew && o.Side == trading.SideBuy && o.Price > 0:
		return s.ledger.Reserve(o.UserID, o.OrderID, o.Quantity*o.Price+o.Meta.Fee)
	}
	return nil
}

// countUnexpected counts errors that are not a normal business refusal.
func (s *Service) countUnexpected(err error) {
	if s.metrics == nil {
		return
	}
	var c audit.Classified
	if errors.As(err, &c) {
		return
	}
	s.metrics.IncrementErrors()
}

// CancelOrder cancels one of userID's resting orders. Orders owned by
// someone else look like unknown orders.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (trading.SimulatedOrder, bool, error) {
	_, span := trace.StartSpan(ctx, "papertrade.CancelOrder", attribute.String("order.id", orderID))
	defer span.End()

	o, err := s.Order(userID, orderID)
	if err != nil {
		return trading.SimulatedOrder{}, false, err
	}
	ok := s.engine.CancelSimulatedOrder(orderID)
	o, _ = s.engine.GetOrder(orderID)
	return o, ok, nil
}

// Order returns one of userID's orders.
func (s *Service) Order(userID, orderID string) (trading.SimulatedOrder, error) {
	o, err := s.engine.GetOrder(orderID)
	if err != nil {
		return trading.SimulatedOrder{}, err
	}
	if o.UserID != userID {
		return trading.SimulatedOrder{}, simulation.ErrOrderNotFound
	}
	return o, nil
}

// Orders lists userID's retained orders, newest first.
func (s *Service) Orders(userID string) []trading.SimulatedOrder {
	return s.engine.ListOrders(userID)
}

// InitializePortfolio creates userID's portfolio. A non-positive amount
// uses the configured default.
func (s *Service) InitializePortfolio(userID string, amount float64) (portfolio.Balance, bool, error) {
	if amount <= 0 {
		amount = s.ledger.DefaultBalance().InexactFloat64()
	}
	bal, created, err := s.ledger.InitializeUserPortfolio(userID, amount)
	if err != nil {
		return bal, false, err
	}
	if created {
		s.trail.Append(EventPortfolioCreated, userID, audit.RiskLow, map[string]any{
			"initialBalance": bal.Total.String(), "isPaperTrade": true,
		})
		if s.metrics != nil {
			s.metrics.SetActiveUsers(s.ledger.UserCount())
		}
	}
	return bal, created, nil
}

// Portfolio summarizes userID's holdings at current marks.
func (s *Service) Portfolio(ctx context.Context, userID string) (portfolio.Summary, error) {
	ctx, span := trace.StartSpan(ctx, "papertrade.Portfolio", attribute.String("user.id", userID))
	defer span.End()
	sum, err := s.ledger.GetPortfolioSummary(ctx, userID, nil)
	trace.RecordError(span, err)
	return sum, err
}

// TradeHistory returns userID's fills inside r.
func (s *Service) TradeHistory(userID string, r trading.TimeRange) []portfolio.TradeHistoryEntry {
	return s.ledger.TradeHistory(userID, r)
}

// AuditReport aggregates simulated fills inside r.
func (s *Service) AuditReport(r trading.TimeRange) simulation.AuditReport {
	return s.engine.GetPaperTradeAuditReport(r)
}

// SecurityExport returns the compliance view of the audit trail.
func (s *Service) SecurityExport() safety.AuditExport {
	return s.guard.ExportSecurityAuditLog()
}

// SafetyScore reports the guard's current score.
func (s *Service) SafetyScore() float64 {
	return s.guard.SafetyScore()
}

// MarketConditions returns the conditions used for symbol.
func (s *Service) MarketConditions(symbol string) market.Conditions {
	return s.engine.MarketConditions(symbol)
}

// UpdateMarketConditions overrides the conditions for symbol. Conditions are
// shared by every user, so callers are admins.
func (s *Service) UpdateMarketConditions(adminID, symbol string, u market.ConditionsUpdate) market.Conditions {
	c := s.engine.UpdateMarketConditions(symbol, u)
	s.trail.Append(EventConditionsUpdated, adminID, audit.RiskLow, map[string]any{
		"symbol": c.Symbol, "volatility": c.Volatility, "liquidity": c.Liquidity, "spread": c.Spread,
	})
	return c
}

// ResetPortfolio wipes userID's portfolio and order journal. Admin only.
func (s *Service) ResetPortfolio(ctx context.Context, adminID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if userID == "" {
		return false, portfolio.ErrUserIDRequired
	}
	s.engine.ResetUser(userID)
	existed := s.ledger.ResetUserPortfolio(userID)
	s.trail.Append(EventPortfolioReset, userID, audit.RiskMedium, map[string]any{
		"adminId": adminID, "existed": existed,
	})
	s.log.Info("portfolio reset", zap.String("user_id", userID), zap.String("admin_id", adminID))
	if s.metrics != nil {
		s.metrics.SetActiveUsers(s.ledger.UserCount())
	}
	return existed, nil
}

// CredentialStatus is the outcome of RegisterCredential.
type CredentialStatus struct {
	Validation safety.ValidationResult `json:"validation"`
	Stored     bool                    `json:"stored"`
	KeyVersion int                     `json:"keyVersion,omitempty"`
}

// RegisterCredential validates an exchange credential and, when accepted,
// stores it sealed. Rejected credentials are never stored.
func (s *Service) RegisterCredential(ctx context.Context, userID, exchange, apiKey, secret string) (CredentialStatus, error) {
	ctx, span := trace.StartSpan(ctx, "papertrade.RegisterCredential", attribute.String("exchange", exchange))
	defer span.End()

	valid, err := s.guard.ValidateAPIPermissions(ctx, apiKey, exchange, secret)
	if err != nil {
		var pve *safety.PermissionValidationError
		if errors.As(err, &pve) {
			return CredentialStatus{Validation: safety.Rejected{
				Reason: pve.Reason, RiskLevel: pve.RiskLevel, Violations: pve.Violations,
			}.Summary()}, err
		}
		return CredentialStatus{}, err
	}
	status := CredentialStatus{Validation: valid.Summary()}
	if s.creds == nil || s.keyring == nil {
		return status, ErrCredentialStoreDisabled
	}

	ad := userID + "|" + exchange
	keySealed, err := s.keyring.Seal(apiKey, ad)
	if err != nil {
		trace.RecordError(span, err)
		return status, fmt.Errorf("seal api key: %w", err)
	}
	secretSealed := ""
	if secret != "" {
		if secretSealed, err = s.keyring.Seal(secret, ad); err != nil {
			trace.RecordError(span, err)
			return status, fmt.Errorf("seal api secret: %w", err)
		}
	}

	row := db.CredentialRow{
		UserID:          userID,
		Exchange:        exchange,
		APIKeySealed:    keySealed,
		APISecretSealed: secretSealed,
		KeyVersion:      s.keyring.CurrentVersion(),
		RiskLevel:       string(valid.RiskLevel),
		ReadOnly:        valid.ReadOnly,
		ValidatedAt:     s.now().UTC(),
	}
	if err := s.creds.UpsertCredential(ctx, row); err != nil {
		trace.RecordError(span, err)
		return status, fmt.Errorf("store credential: %w", err)
	}
	status.Stored = true
	status.KeyVersion = row.KeyVersion
	s.trail.Append(EventCredentialStored, userID, audit.RiskLow, map[string]any{
		"exchange": exchange, "keyVersion": row.KeyVersion, "readOnly": valid.ReadOnly,
	})
	return status, nil
}
