// Package simulation models how an order would have filled on a real venue:
// reference price, slippage, fees, execution delay and market impact. It
// never talks to an exchange; fills are handed to a SettleFunc (the ledger)
// inside the order's commit.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/events"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/trading"
)

// Audit event names.
const (
	EventOrderSimulated = "simulation.order_simulated"
	EventOrderFilled    = "simulation.order_filled"
	EventOrderCancelled = "simulation.order_cancelled"
	EventOrderRejected  = "simulation.order_rejected"
	EventOrderInvalid   = "simulation.order_invalid"
)

// SettleFunc commits an order to the ledger. It is called once, under the
// order's lock, with the status the engine is about to commit: StatusFilled
// for fills and StatusNew for resting limit orders. UpdatedAt carries the
// commit time the journal will record. A non-nil error turns the order into
// StatusRejected.
type SettleFunc func(ctx context.Context, o trading.SimulatedOrder) error

// CancelHook runs after an order left a resting state without filling
// (cancel or eviction), so reservations can be released.
type CancelHook func(o trading.SimulatedOrder)

// Engine simulates order execution.
type Engine struct {
	cfg      Config
	conds    *market.ConditionsBook
	prices   *market.PriceBook
	fees     *FeeModel
	rng      market.RandomSource
	store    *orderStore
	journal  *journal
	trail    *audit.Trail
	bus      *events.Bus
	metrics  *monitor.SimulationMetrics
	log      *zap.Logger
	sleep    Sleeper
	now      func() time.Time
	onCancel CancelHook
}

// Option configures an Engine.
type Option func(*Engine)

func WithRand(r market.RandomSource) Option { return func(e *Engine) { e.rng = r } }
func WithSleeper(s Sleeper) Option { return func(e *Engine) { e.sleep = s } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithBus(b *events.Bus) Option { return func(e *Engine) { e.bus = b } }
func WithTrail(t *audit.Trail) Option { return func(e *Engine) { e.trail = t } }
func WithFeeModel(f *FeeModel) Option { return func(e *Engine) { e.fees = f } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }
func WithCancelHook(h CancelHook) Option { return func(e *Engine) { e.onCancel = h } }
func WithMetrics(m *monitor.SimulationMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires the engine. conds and prices are shared with the feeds.
func NewEngine(cfg Config, conds *market.ConditionsBook, prices *market.PriceBook, opts ...Option) *Engine {
	cfg = cfg.normalized()
	e := &Engine{
		cfg:    cfg,
		conds:  conds,
		prices: prices,
		sleep:  ContextSleep,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = NewLockedRand(0)
	}
	if e.fees == nil {
		e.fees = NewFeeModel(config.DefaultFeeSchedule())
	}
	if e.conds == nil {
		e.conds = market.NewConditionsBook(e.rng, e.bus)
	}
	if e.prices == nil {
		e.prices = market.NewPriceBook(nil, e.log)
	}
	e.store = newOrderStore(cfg.StoreCapacity)
	e.journal = newJournal(cfg.JournalCapacity)
	return e
}

// Config returns the effective model parameters.
func (e *Engine) Config() Config { return e.cfg }

// Fees exposes the fee model.
func (e *Engine) Fees() *FeeModel { return e.fees }

// SimulateOrderExecution simulates req without a ledger.
func (e *Engine) SimulateOrderExecution(ctx context.Context, req trading.OrderRequest) (*trading.SimulatedOrder, error) {
	return e.SimulateAndSettle(ctx, req, nil)
}

// SimulateAndSettle simulates req and commits the outcome through settle.
// The returned order reflects the committed status; when settle fails the
// order is returned as rejected together with settle's error.
func (e *Engine) SimulateAndSettle(ctx context.Context, req trading.OrderRequest, settle SettleFunc) (*trading.SimulatedOrder, error) {
	if e.metrics != nil {
		defer monitor.NewTimer(e.metrics.SimulateLatency).Stop()
	}

	req = normalizeRequest(req)
	if err := validate(req); err != nil {
		e.audit(EventOrderInvalid, req.UserID, audit.RiskLow, map[string]any{
			"symbol": req.Symbol, "exchange": req.Exchange, "error": err.Error(),
		})
		return nil, err
	}

	cond := e.conds.Get(req.Symbol)
	ref, origin := e.referencePrice(ctx, req, cond)
	q := e.quote(req, cond, ref)

	now := e.now().UTC()
	order := trading.SimulatedOrder{
		OrderID:        newOrderID(req.Exchange),
		UserID:         req.UserID,
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Exchange:       req.Exchange,
		Status:         trading.StatusNew,
		ReferencePrice: ref,
		Meta:           q.meta,
		Timestamp:      now,
		UpdatedAt:      now,
		IsPaperTrade:   true,
	}

	entry, evicted := e.store.put(order)
	e.releaseEvicted(evicted)
	if e.metrics != nil {
		e.metrics.IncrementSimulated()
	}
	e.audit(EventOrderSimulated, order.UserID, audit.RiskLow, map[string]any{
		"orderId":         order.OrderID,
		"exchange":        order.Exchange,
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"type":            string(order.Type),
		"quantity":        order.Quantity,
		"referencePrice":  ref,
		"priceOrigin":     string(origin),
		"slippagePercent": q.meta.SlippagePercent,
		"isPaperTrade":    true,
	})
	e.publish(events.EventOrderSimulated, order, "")

	if q.fill && q.meta.ExecutionDelayMs > 0 {
		delay := time.Duration(q.meta.ExecutionDelayMs) * time.Millisecond
		if err := e.sleep(ctx, delay); err != nil {
			e.cancelEntry(entry, "request cancelled during execution delay")
			entry.settled()
			o := entry.snapshot()
			return &o, fmt.Errorf("simulate %s: %w", order.OrderID, err)
		}
		if e.metrics != nil {
			e.metrics.FillDelay.RecordDuration(delay)
		}
	}

	defer entry.settled()
	return e.commit(ctx, entry, q, settle)
}

// commit resolves the order under its lock. A cancel that got there first wins.
func (e *Engine) commit(ctx context.Context, entry *orderEntry, q quote, settle SettleFunc) (*trading.SimulatedOrder, error) {
	entry.mu.Lock()
	if entry.order.Status != trading.StatusNew {
		o := entry.order
		entry.mu.Unlock()
		return &o, nil
	}

	now := e.now().UTC()
	target := entry.order
	target.UpdatedAt = now
	if q.fill {
		target.Status = trading.StatusFilled
		target.ExecutedPrice = q.executedPrice
	}

	var settleErr error
	if settle != nil {
		settleErr = settle(ctx, target)
	}

	if settleErr != nil {
		entry.order.Status = trading.StatusRejected
		entry.order.RejectReason = settleErr.Error()
		entry.order.UpdatedAt = now
		o := entry.order
		entry.mu.Unlock()

		risk := audit.RiskLow
		var c audit.Classified
		if errors.As(settleErr, &c) {
			risk = c.Risk()
		}
		e.audit(EventOrderRejected, o.UserID, risk, map[string]any{
			"orderId": o.OrderID, "reason": o.RejectReason,
		})
		e.publish(events.EventOrderRejected, o, o.RejectReason)
		return &o, settleErr
	}

	entry.order = target
	o := entry.order
	entry.mu.Unlock()

	if o.Status != trading.StatusFilled {
		return &o, nil
	}

	notional := o.Quantity * o.ExecutedPrice
	e.fees.RecordVolume(o.UserID, o.Exchange, notional)
	e.journal.append(ExecutionRecord{
		OrderID:      o.OrderID,
		UserID:       o.UserID,
		Exchange:     o.Exchange,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Quantity:     o.Quantity,
		Price:        o.ExecutedPrice,
		Notional:     notional,
		Fee:          o.Meta.Fee,
		SlippageCost: slippageCost(o),
		ExecutedAt:   now,
	})
	if e.metrics != nil && o.Type == trading.OrderTypeMarket {
		e.metrics.Slippage.Record(o.Meta.SlippagePercent)
	}
	e.audit(EventOrderFilled, o.UserID, audit.RiskLow, map[string]any{
		"orderId":       o.OrderID,
		"executedPrice": o.ExecutedPrice,
		"fee":           o.Meta.Fee,
		"isPaperTrade":  true,
	})
	e.publish(events.EventOrderFilled, o, "")
	return &o, nil
}

// CancelSimulatedOrder cancels a non-terminal order. It returns false when
// the order is unknown or already terminal.
func (e *Engine) CancelSimulatedOrder(orderID string) bool {
	entry, ok := e.store.get(orderID)
	if !ok {
		return false
	}
	_, ok = e.cancelEntry(entry, "cancelled by user")
	return ok
}

func (e *Engine) cancelEntry(entry *orderEntry, reason string) (trading.SimulatedOrder, bool) {
	entry.mu.Lock()
	if !entry.order.Status.CanTransition(trading.StatusCancelled) {
		entry.mu.Unlock()
		return trading.SimulatedOrder{}, false
	}
	entry.order.Status = trading.StatusCancelled
	entry.order.UpdatedAt = e.now().UTC()
	o := entry.order
	entry.mu.Unlock()
	entry.phase.Store(phaseDone)

	if e.onCancel != nil {
		e.onCancel(o)
	}
	e.audit(EventOrderCancelled, o.UserID, audit.RiskLow, map[string]any{
		"orderId": o.OrderID, "reason": reason,
	})
	e.publish(events.EventOrderCancelled, o, reason)
	return o, true
}

func (e *Engine) releaseEvicted(evicted []*orderEntry) {
	for _, entry := range evicted {
		if _, ok := e.cancelEntry(entry, "evicted from order store"); ok {
			e.log.Debug("resting order evicted", zap.String("order_id", entry.snapshot().OrderID))
		}
	}
}

// GetOrder returns a copy of a stored order.
func (e *Engine) GetOrder(orderID string) (trading.SimulatedOrder, error) {
	entry, ok := e.store.get(orderID)
	if !ok {
		return trading.SimulatedOrder{}, ErrOrderNotFound
	}
	return entry.snapshot(), nil
}

// ListOrders returns stored orders of userID, newest first. An empty
// userID lists every user.
func (e *Engine) ListOrders(userID string) []trading.SimulatedOrder {
	return e.store.list(userID)
}

// StoredOrders returns the store size.
func (e *Engine) StoredOrders() int { return e.store.len() }

// UpdateMarketConditions changes the conditions of one symbol.
func (e *Engine) UpdateMarketConditions(symbol string, u market.ConditionsUpdate) market.Conditions {
	return e.conds.Update(symbol, u)
}

// MarketConditions returns the conditions of one symbol.
func (e *Engine) MarketConditions(symbol string) market.Conditions {
	return e.conds.Get(symbol)
}

// GetPaperTradeAuditReport aggregates committed fills inside r.
func (e *Engine) GetPaperTradeAuditReport(r trading.TimeRange) AuditReport {
	return buildReport(r, e.journal.between(r), e.now().UTC())
}

// Executions returns committed fills inside r, oldest first.
func (e *Engine) Executions(r trading.TimeRange) []ExecutionRecord {
	return e.journal.between(r)
}

// ResetUser cancels the user's resting orders and forgets their fills and
// fee volume. Terminal orders are left to age out of the store.
func (e *Engine) ResetUser(userID string) {
	for _, o := range e.store.list(userID) {
		if o.Status.Terminal() {
			continue
		}
		if entry, ok := e.store.get(o.OrderID); ok {
			e.cancelEntry(entry, "portfolio reset")
		}
	}
	e.journal.dropUser(userID)
	e.fees.ResetUser(userID)
}

// quote is the priced outcome of one request before it is committed.
type quote struct {
	meta          trading.ExecutionMeta
	executedPrice float64
	fill          bool
}

func (e *Engine) referencePrice(ctx context.Context, req trading.OrderRequest, cond market.Conditions) (float64, market.PriceOrigin) {
	if req.Price > 0 {
		return req.Price, "explicit"
	}
	p, origin := e.prices.Resolve(ctx, req.Symbol)
	jitter := (e.rng.Float64()*2 - 1) * cond.Volatility * 0.01
	return p * (1 + jitter), origin
}

func (e *Engine) quote(req trading.OrderRequest, cond market.Conditions, ref float64) quote {
	value := req.Quantity * ref
	var q quote

	switch req.Type {
	case trading.OrderTypeMarket:
		q.fill = true
		if e.cfg.EnableSlippage {
			q.meta.SlippagePercent = e.slippagePercent(value, cond)
		}
		dir := 1.0
		if req.Side == trading.SideSell {
			dir = -1.0
		}
		q.executedPrice = ref * (1 + dir*q.meta.SlippagePercent/100)
		q.meta.Slippage = math.Abs(q.executedPrice - ref)
		if e.cfg.EnableDelay {
			q.meta.ExecutionDelayMs = e.delay(cond).Milliseconds()
		}
	case trading.OrderTypeLimit:
		q.fill = e.rng.Float64() < e.cfg.LimitFillProbability
		q.executedPrice = req.Price
	}

	q.meta.FeeRole = roleFor(req.Type)
	if e.cfg.EnableFees {
		q.meta.FeePercent = e.fees.Rate(req.UserID, req.Exchange, q.meta.FeeRole)
		priced := ref
		if q.executedPrice > 0 {
			priced = q.executedPrice
		}
		q.meta.Fee = req.Quantity * priced * q.meta.FeePercent / 100
	}
	if e.cfg.EnableImpact {
		q.meta.MarketImpact = e.cfg.ImpactCoefficient * (value / e.cfg.LiquidityThreshold) / math.Max(cond.Liquidity, 0.05)
	}
	return q
}

// slippagePercent is always within [0, MaxSlippagePercent].
func (e *Engine) slippagePercent(value float64, cond market.Conditions) float64 {
	size := 1.0
	if value > e.cfg.LiquidityThreshold {
		size = math.Sqrt(value / e.cfg.LiquidityThreshold)
	}
	random := 0.5 + e.rng.Float64()
	s := e.cfg.BaseSlippagePercent *
		(1 + cond.Volatility*e.cfg.VolatilityMultiplier) *
		(2 - cond.Liquidity) *
		size * random
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return math.Min(s, e.cfg.MaxSlippagePercent)
}

func (e *Engine) delay(cond market.Conditions) time.Duration {
	band := 0.8 + e.rng.Float64()*0.4
	d := float64(e.cfg.BaseDelay) * (2 - cond.Liquidity) * (1 + cond.Volatility) * band
	if d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (e *Engine) audit(name, userID string, risk audit.RiskLevel, details map[string]any) {
	if e.trail == nil {
		return
	}
	e.trail.Append(name, userID, risk, details)
}

func (e *Engine) publish(topic events.Event, o trading.SimulatedOrder, reason string) {
	e.bus.Publish(topic, events.OrderEvent{
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		Exchange:      o.Exchange,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		Quantity:      o.Quantity,
		ExecutedPrice: o.ExecutedPrice,
		Fee:           o.Meta.Fee,
		Reason:        reason,
		IsPaperTrade:  o.IsPaperTrade,
		At:            o.UpdatedAt,
	})
}

func newOrderID(exchange string) string {
	return exchange + "_paper_" + uuid.NewString()
}

func normalizeRequest(req trading.OrderRequest) trading.OrderRequest {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Exchange = strings.ToLower(strings.TrimSpace(req.Exchange))
	if req.Exchange == "" {
		req.Exchange = "paper"
	}
	return req
}

func validate(req trading.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return &ValidationError{Field: "symbol", Reason: "is required"}
	case !req.Side.Valid():
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("%q is not buy or sell", req.Side)}
	case !req.Type.Valid():
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a supported order type", req.Type)}
	case math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) || req.Quantity <= 0:
		return &ValidationError{Field: "quantity", Reason: "must be a positive number"}
	case math.IsNaN(req.Price) || math.IsInf(req.Price, 0) || req.Price < 0:
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	case (req.Type == trading.OrderTypeLimit || req.Type == trading.OrderTypeStopLimit) && req.Price <= 0:
		return &ValidationError{Field: "price", Reason: "is required for " + string(req.Type) + " orders"}
	}
	return nil
}
