// Package trading holds the exchange-neutral order vocabulary shared by the
// guard, the simulation engine, the ledger and the transport layer.
package trading

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType denotes the order types the simulator understands.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus is the simulated order lifecycle state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// FeeRole tells whether a fill paid the maker or the taker rate.
type FeeRole string

const (
	RoleMaker FeeRole = "maker"
	RoleTaker FeeRole = "taker"
)

// ParseSide normalizes client input ("BUY", " sell ") into a Side.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// ParseOrderType normalizes client input into an OrderType. The exchange
// spellings STOP_LOSS and STOP_LOSS_LIMIT are accepted as aliases.
func ParseOrderType(s string) (OrderType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "market":
		return OrderTypeMarket, true
	case "limit":
		return OrderTypeLimit, true
	case "stop", "stop_loss", "stop_market":
		return OrderTypeStop, true
	case "stop_limit", "stop_loss_limit":
		return OrderTypeStopLimit, true
	}
	return "", false
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// CanTransition encodes the order state machine:
// new -> {partially_filled, filled, cancelled, rejected}; partially_filled -> {filled, cancelled}.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case StatusNew:
		return to == StatusPartiallyFilled || to == StatusFilled || to == StatusCancelled || to == StatusRejected
	case StatusPartiallyFilled:
		return to == StatusFilled || to == StatusCancelled
	}
	return false
}

// OrderRequest captures an order intent coming from the transport layer.
// The paper-trade marker is server-set and has no field here.
type OrderRequest struct {
	UserID        string    `json:"userId,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"` // 0 means absent
	Exchange      string    `json:"exchange"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
}

// ExecutionMeta describes how a simulated fill was priced.
type ExecutionMeta struct {
	Slippage         float64 `json:"slippage"`        // absolute price distance
	SlippagePercent  float64 `json:"slippagePercent"` // 0..MaxSlippagePercent
	Fee              float64 `json:"fee"`
	FeePercent       float64 `json:"feePercent"`
	FeeRole          FeeRole `json:"feeRole"`
	ExecutionDelayMs int64   `json:"executionDelayMs"`
	MarketImpact     float64 `json:"marketImpact"` // percent, informational
}

// SimulatedOrder is the record the engine produces for every accepted request.
type SimulatedOrder struct {
	OrderID        string        `json:"orderId"`
	UserID         string        `json:"userId,omitempty"`
	ClientOrderID  string        `json:"clientOrderId,omitempty"`
	Symbol         string        `json:"symbol"`
	Side           Side          `json:"side"`
	Type           OrderType     `json:"type"`
	Quantity       float64       `json:"quantity"`
	Price          float64       `json:"price,omitempty"`
	Exchange       string        `json:"exchange"`
	Status         OrderStatus   `json:"status"`
	ReferencePrice float64       `json:"referencePrice"`
	ExecutedPrice  float64       `json:"executedPrice"`
	Meta           ExecutionMeta `json:"executionMeta"`
	RejectReason   string        `json:"rejectReason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	IsPaperTrade   bool          `json:"isPaperTrade"`
}

// Notional returns quantity times executed price (or reference price when unfilled).
func (o *SimulatedOrder) Notional() float64 {
	if o.ExecutedPrice > 0 {
		return o.Quantity * o.ExecutedPrice
	}
	return o.Quantity * o.ReferencePrice
}

// TimeRange bounds a report query. Zero ends are open.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range (From inclusive, To exclusive).
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}
