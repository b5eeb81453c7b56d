package events

import "time"

// Event enumerates lifecycle topics emitted by the paper-trading core.
type Event string

const (
	EventOrderSimulated          Event = "order.simulated"
	EventOrderFilled             Event = "order.filled"
	EventOrderCancelled          Event = "order.cancelled"
	EventOrderRejected           Event = "order.rejected"
	EventMarketConditionsUpdated Event = "market.conditions_updated"
	EventSecurityViolation       Event = "security.violation"
	EventPriceTick               Event = "price_tick"
)

// OrderEvent is the payload of every order.* topic.
type OrderEvent struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Quantity      float64   `json:"quantity"`
	ExecutedPrice float64   `json:"executedPrice,omitempty"`
	Fee           float64   `json:"fee,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	IsPaperTrade  bool      `json:"isPaperTrade"`
	At            time.Time `json:"at"`
}

// MarketConditionsEvent reports an explicit conditions update.
type MarketConditionsEvent struct {
	Symbol     string  `json:"symbol"`
	Volatility float64 `json:"volatility"`
	Liquidity  float64 `json:"liquidity"`
	Spread     float64 `json:"spread"`
	Volume     float64 `json:"volume"`
}

// SecurityViolationEvent mirrors a blocked request.
type SecurityViolationEvent struct {
	Name      string `json:"name"`
	UserID    string `json:"userId,omitempty"`
	RiskLevel string `json:"riskLevel"`
	Reason    string `json:"reason"`
}

// PriceTick carries a last-trade price from a market feed.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}
