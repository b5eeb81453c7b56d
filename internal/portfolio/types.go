package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"papertrade-core/pkg/trading"
)

// Balance is a virtual cash balance. Available+Locked always equals Total.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Currency  string          `json:"currency"`
}

// Position is an open long holding.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	Side          string          `json:"side"`
	Fees          decimal.Decimal `json:"fees"` // buy fees attributable to the open quantity
	OpenedAt      time.Time       `json:"openedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Trade is a fill handed to the ledger. A zero ExecutedAt is stamped with
// the ledger clock.
type Trade struct {
	UserID     string
	OrderID    string
	Exchange   string
	Symbol     string
	Side       trading.Side
	Quantity   float64
	Price      float64
	Fee        float64
	ExecutedAt time.Time
}

// TradeHistoryEntry is an append-only ledger record.
type TradeHistoryEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	OrderID      string          `json:"orderId,omitempty"`
	Exchange     string          `json:"exchange"`
	Symbol       string          `json:"symbol"`
	Side         trading.Side    `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	ExecutedAt   time.Time       `json:"executedAt"`
	IsPaperTrade bool            `json:"isPaperTrade"`
}

// Notional is quantity times price.
func (t TradeHistoryEntry) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// PositionView is a position marked to a current price.
type PositionView struct {
	Position
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	MarkSource    string          `json:"markSource"` // supplied, lookup, entry
}

// Summary is the portfolio report returned to callers.
type Summary struct {
	UserID           string          `json:"userId"`
	Balance          Balance         `json:"balance"`
	InitialBalance   decimal.Decimal `json:"initialBalance"`
	Positions        []PositionView  `json:"positions"`
	RealizedPnL      decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl"`
	TotalFees        decimal.Decimal `json:"totalFees"`
	GrossPnL         decimal.Decimal `json:"grossPnl"`
	NetPnL           decimal.Decimal `json:"netPnl"`
	Equity           decimal.Decimal `json:"equity"`
	TradeCount       int             `json:"tradeCount"`
	IsPaperPortfolio bool            `json:"isPaperPortfolio"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}
