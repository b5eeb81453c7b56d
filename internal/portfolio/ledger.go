// Package portfolio is the per-user virtual ledger: cash balance, long
// positions, reservations for resting orders and an append-only trade
// history. Every mutation of one user runs inside that user's critical
// section; different users never contend.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/pkg/trading"
)

const sideLong = "long"

// PriceLookup supplies marks for unrealized P&L.
type PriceLookup interface {
	Lookup(symbol string) (float64, bool)
}

// TradeHook observes every committed trade, after the user lock is released.
type TradeHook func(TradeHistoryEntry)

type account struct {
	mu           sync.Mutex
	userID       string
	initial      decimal.Decimal
	balance      Balance
	positions    map[string]*Position
	reservations map[string]decimal.Decimal // orderID -> locked amount
	history      []TradeHistoryEntry
	realized     decimal.Decimal
	fees         decimal.Decimal
	createdAt    time.Time
}

// Ledger manages virtual portfolios for many users.
type Ledger struct {
	mu    sync.RWMutex
	users map[string]*account

	defaultBalance decimal.Decimal
	currency       string
	prices         PriceLookup
	now            func() time.Time
	hooks          []TradeHook
	log            *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithPriceLookup(p PriceLookup) Option { return func(l *Ledger) { l.prices = p } }
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithTradeHook(h TradeHook) Option { return func(l *Ledger) { l.hooks = append(l.hooks, h) } }
func WithLogger(z *zap.Logger) Option { return func(l *Ledger) { l.log = z } }
func WithCurrency(c string) Option { return func(l *Ledger) { l.currency = c } }

// NewLedger creates a ledger whose lazily created portfolios start with
// defaultBalance.
func NewLedger(defaultBalance float64, opts ...Option) *Ledger {
	l := &Ledger{
		users:          make(map[string]*account),
		defaultBalance: decimal.NewFromFloat(defaultBalance),
		currency:       "USDT",
		now:            time.Now,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultBalance returns the starting balance used for lazy creation.
func (l *Ledger) DefaultBalance() decimal.Decimal { return l.defaultBalance }

// InitializeUserPortfolio creates the user's portfolio. It is idempotent:
// calling it again returns the existing balance and created=false.
func (l *Ledger) InitializeUserPortfolio(userID string, initialBalance float64) (Balance, bool, error) {
	if userID == "" {
		return Balance{}, false, ErrUserIDRequired
	}
	if initialBalance < 0 || math.IsNaN(initialBalance) || math.IsInf(initialBalance, 0) {
		return Balance{}, false, ErrInvalidInitialAmount
	}
	acct, created := l.getOrCreate(userID, decimal.NewFromFloat(initialBalance))
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if created {
		l.log.Info("paper portfolio initialized",
			zap.String("user_id", userID),
			zap.String("balance", acct.balance.Total.String()))
	}
	return acct.balance, created, nil
}

func (l *Ledger) getOrCreate(userID string, initial decimal.Decimal) (*account, bool) {
	l.mu.RLock()
	acct, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return acct, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.users[userID]; ok {
		return acct, false
	}
	acct = l.newAccount(userID, initial)
	l.users[userID] = acct
	return acct, true
}

func (l *Ledger) newAccount(userID string, initial decimal.Decimal) *account {
	return &account{
		userID:  userID,
		initial: initial,
		balance: Balance{
			Total:     initial,
			Available: initial,
			Locked:    decimal.Zero,
			Currency:  l.currency,
		},
		positions:    make(map[string]*Position),
		reservations: make(map[string]decimal.Decimal),
		createdAt:    l.now().UTC(),
	}
}

// mutate runs fn on the user's account under its lock. A user without a
// portfolio gets a default one, published only if fn succeeds.
func (l *Ledger) mutate(userID string, fn func(*account) error) error {
	for {
		if acct, ok := l.get(userID); ok {
			acct.mu.Lock()
			defer acct.mu.Unlock()
			return fn(acct)
		}

		fresh := l.newAccount(userID, l.defaultBalance)
		if err := fn(fresh); err != nil {
			return err
		}
		l.mu.Lock()
		if _, taken := l.users[userID]; taken {
			// Lost a race with another first trade; replay on the winner.
			l.mu.Unlock()
			continue
		}
		l.users[userID] = fresh
		l.mu.Unlock()
		return nil
	}
}

func (l *Ledger) get(userID string) (*account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.users[userID]
	return acct, ok
}

// ExecuteSimulatedTrade applies a fill. A BUY needs Available to cover
// quantity*price+fee; a SELL needs the held quantity. On error nothing is
// mutated and no portfolio is opened. Users without a portfolio get one
// with the default balance when the trade succeeds.
func (l *Ledger) ExecuteSimulatedTrade(ctx context.Context, t Trade) (TradeHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return TradeHistoryEntry{}, err
	}
	if t.UserID == "" {
		return TradeHistoryEntry{}, ErrUserIDRequired
	}
	if err := validTrade(t); err != nil {
		return TradeHistoryEntry{}, err
	}

	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)
	fee := decimal.NewFromFloat(t.Fee)
	symbol := strings.ToUpper(t.Symbol)
	now := t.ExecutedAt.UTC()
	if t.ExecutedAt.IsZero() {
		now = l.now().UTC()
	}

	var entry TradeHistoryEntry
	err := l.mutate(t.UserID, func(acct *account) (err error) {
		switch t.Side {
		case trading.SideBuy:
			entry, err = acct.buy(t, symbol, qty, price, fee, now)
		case trading.SideSell:
			entry, err = acct.sell(t, symbol, qty, price, fee, now)
		}
		return err
	})
	if err != nil {
		return TradeHistoryEntry{}, err
	}

	for _, h := range l.hooks {
		h(entry)
	}
	return entry, nil
}

func validTrade(t Trade) error {
	bad := func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }
	switch {
	case !t.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, t.Side)
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidTrade)
	case bad(t.Quantity) || t.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	case bad(t.Price) || t.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	case bad(t.Fee) || t.Fee < 0:
		return fmt.Errorf("%w: fee must be non-negative", ErrInvalidTrade)
	}
	return nil
}

// buy runs under a.mu. A reservation held for the same order is consumed
// first so the locked amount is not counted twice.
func (a *account) buy(t Trade, symbol string, qty, price, fee decimal.Decimal, now time.Time) (TradeHistoryEntry, error) {
	cost := qty.Mul(price).Add(fee)

	reserved := decimal.Zero
	if t.OrderID != "" {
		reserved = a.reservations[t.OrderID]
	}
	spendable := a.balance.Available.Add(reserved)
	if spendable.LessThan(cost) {
		return TradeHistoryEntry{}, &InsufficientBalanceError{
			UserID: a.userID, Required: cost, Available: a.balance.Available,
		}
	}

	if reserved.IsPositive() {
		delete(a.reservations, t.OrderID)
		a.balance.Locked = a.balance.Locked.Sub(reserved)
	}
	a.balance.Available = spendable.Sub(cost)
	a.balance.Total = a.balance.Total.Sub(cost)

	pos, ok := a.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, Side: sideLong, OpenedAt: now}
		a.positions[symbol] = pos
	}
	newQty := pos.Quantity.Add(qty)
	pos.AvgEntryPrice = pos.Quantity.Mul(pos.AvgEntryPrice).Add(qty.Mul(price)).Div(newQty)
	pos.Quantity = newQty
	pos.Fees = pos.Fees.Add(fee)
	pos.UpdatedAt = now

	a.fees = a.fees.Add(fee)
	return a.record(t, symbol, qty, price, fee, decimal.Zero, now), nil
}

// sell runs under a.mu. Realized P&L uses the weighted-average cost basis.
func (a *account) sell(t Trade, symbol string, qty, price, fee decimal.Decimal, now time.Time) (TradeHistoryEntry, error) {
	pos, ok := a.positions[symbol]
	held := decimal.Zero
	if ok {
		held = pos.Quantity
	}
	if held.LessThan(qty) {
		return TradeHistoryEntry{}, &InsufficientPositionError{
			UserID: a.userID, Symbol: symbol, Requested: qty, Held: held,
		}
	}

	proceeds := qty.Mul(price).Sub(fee)
	if a.balance.Total.Add(proceeds).IsNegative() || a.balance.Available.Add(proceeds).IsNegative() {
		return TradeHistoryEntry{}, &InsufficientBalanceError{
			UserID: a.userID, Required: proceeds.Neg(), Available: a.balance.Available,
		}
	}

	realized := price.Sub(pos.AvgEntryPrice).Mul(qty)
	a.balance.Total = a.balance.Total.Add(proceeds)
	a.balance.Available = a.balance.Available.Add(proceeds)

	remaining := pos.Quantity.Sub(qty)
	if remaining.IsZero() {
		delete(a.positions, symbol)
	} else {
		released := pos.Fees.Mul(qty).Div(pos.Quantity)
		pos.Fees = pos.Fees.Sub(released)
		pos.Quantity = remaining
		pos.UpdatedAt = now
	}

	a.realized = a.realized.Add(realized)
	a.fees = a.fees.Add(fee)
	return a.record(t, symbol, qty, price, fee, realized, now), nil
}

func (a *account) record(t Trade, symbol string, qty, price, fee, realized decimal.Decimal, now time.Time) TradeHistoryEntry {
	entry := TradeHistoryEntry{
		ID:           uuid.NewString(),
		UserID:       a.userID,
		OrderID:      t.OrderID,
		Exchange:     strings.ToLower(t.Exchange),
		Symbol:       symbol,
		Side:         t.Side,
		Quantity:     qty,
		Price:        price,
		Fee:          fee,
		RealizedPnL:  realized,
		BalanceAfter: a.balance.Total,
		ExecutedAt:   now,
		IsPaperTrade: true,
	}
	a.history = append(a.history, entry)
	return entry
}

// Reserve moves amount from Available to Locked for a resting order.
func (l *Ledger) Reserve(userID, orderID string, amount float64) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if orderID == "" || math.IsNaN(amount) || amount <= 0 {
		return fmt.Errorf("%w: reservation needs an order id and a positive amount", ErrInvalidTrade)
	}
	amt := decimal.NewFromFloat(amount)

	return l.mutate(userID, func(acct *account) error {
		if _, exists := acct.reservations[orderID]; exists {
			return ErrReservationExists
		}
		if acct.balance.Available.LessThan(amt) {
			return &InsufficientBalanceError{UserID: userID, Required: amt, Available: acct.balance.Available}
		}
		acct.balance.Available = acct.balance.Available.Sub(amt)
		acct.balance.Locked = acct.balance.Locked.Add(amt)
		acct.reservations[orderID] = amt
		return nil
	})
}

// Release returns a reservation to Available. It reports whether one existed.
func (l *Ledger) Release(userID, orderID string) bool {
	acct, ok := l.get(userID)
	if !ok {
		return false
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	amt, ok := acct.reservations[orderID]
	if !ok {
		return false
	}
	delete(acct.reservations, orderID)
	acct.balance.Locked = acct.balance.Locked.Sub(amt)
	acct.balance.Available = acct.balance.Available.Add(amt)
	return true
}

// GetBalance returns the user's balance.
func (l *Ledger) GetBalance(userID string) (Balance, error) {
	acct, ok := l.get(userID)
	if !ok {
		return Balance{}, ErrPortfolioNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

// GetPortfolioSummary marks positions with marks[symbol], then the price
// lookup, then the entry price.
func (l *Ledger) GetPortfolioSummary(ctx context.Context, userID string, marks map[string]float64) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	acct, ok := l.get(userID)
	if !ok {
		return Summary{}, ErrPortfolioNotFound
	}

	acct.mu.Lock()
	bal := acct.balance
	initial := acct.initial
	realized := acct.realized
	fees := acct.fees
	trades := len(acct.history)
	positions := make([]Position, 0, len(acct.positions))
	for _, p := range acct.positions {
		positions = append(positions, *p)
	}
	acct.mu.Unlock()

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	sum := Summary{
		UserID:           userID,
		Balance:          bal,
		InitialBalance:   initial,
		Positions:        make([]PositionView, 0, len(positions)),
		RealizedPnL:      realized,
		TotalFees:        fees,
		Equity:           bal.Total,
		TradeCount:       trades,
		IsPaperPortfolio: true,
		GeneratedAt:      l.now().UTC(),
	}
	grossUnrealized := decimal.Zero
	for _, p := range positions {
		mark, source := l.mark(p, marks)
		move := mark.Sub(p.AvgEntryPrice).Mul(p.Quantity)
		view := PositionView{
			Position:      p,
			CurrentPrice:  mark,
			MarketValue:   mark.Mul(p.Quantity),
			UnrealizedPnL: move.Sub(p.Fees),
			MarkSource:    source,
		}
		grossUnrealized = grossUnrealized.Add(move)
		sum.UnrealizedPnL = sum.UnrealizedPnL.Add(view.UnrealizedPnL)
		sum.Equity = sum.Equity.Add(view.MarketValue)
		sum.Positions = append(sum.Positions, view)
	}
	sum.GrossPnL = realized.Add(grossUnrealized)
	sum.NetPnL = sum.GrossPnL.Sub(fees)
	return sum, nil
}

func (l *Ledger) mark(p Position, marks map[string]float64) (decimal.Decimal, string) {
	if v, ok := marks[p.Symbol]; ok && v > 0 {
		return decimal.NewFromFloat(v), "supplied"
	}
	if l.prices != nil {
		if v, ok := l.prices.Lookup(p.Symbol); ok && v > 0 {
			return decimal.NewFromFloat(v), "lookup"
		}
	}
	return p.AvgEntryPrice, "entry"
}

// TradeHistory returns the user's trades inside r, oldest first.
func (l *Ledger) TradeHistory(userID string, r trading.TimeRange) []TradeHistoryEntry {
	acct, ok := l.get(userID)
	if !ok {
		return nil
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return filterHistory(acct.history, r)
}

// AllTradeHistory merges every user's trades inside r, ordered by time.
func (l *Ledger) AllTradeHistory(r trading.TimeRange) []TradeHistoryEntry {
	l.mu.RLock()
	accts := make([]*account, 0, len(l.users))
	for _, a := range l.users {
		accts = append(accts, a)
	}
	l.mu.RUnlock()

	var out []TradeHistoryEntry
	for _, a := range accts {
		a.mu.Lock()
		out = append(out, filterHistory(a.history, r)...)
		a.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out
}

func filterHistory(h []TradeHistoryEntry, r trading.TimeRange) []TradeHistoryEntry {
	out := make([]TradeHistoryEntry, 0, len(h))
	for _, e := range h {
		if r.Contains(e.ExecutedAt) {
			out = append(out, e)
		}
	}
	return out
}

// ResetUserPortfolio wipes one user. Admin tooling only.
func (l *Ledger) ResetUserPortfolio(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[userID]; !ok {
		return false
	}
	delete(l.users, userID)
	l.log.Warn("paper portfolio reset", zap.String("user_id", userID))
	return true
}

// UserCount returns the number of portfolios.
func (l *Ledger) UserCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.users)
}

// Users lists user IDs in lexical order.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.users))
	for id := range l.users {
		out = append(out, id)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}
