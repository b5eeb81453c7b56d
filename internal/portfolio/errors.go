package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"papertrade-core/internal/audit"
)

const (
	KindInsufficientBalance  = "insufficient_balance"
	KindInsufficientPosition = "insufficient_position"
)

var (
	ErrUserIDRequired       = errors.New("portfolio: user id required")
	ErrPortfolioNotFound    = errors.New("portfolio: not initialized")
	ErrInvalidTrade         = errors.New("portfolio: invalid trade")
	ErrReservationExists    = errors.New("portfolio: reservation already exists")
	ErrInvalidInitialAmount = errors.New("portfolio: initial balance must be non-negative")
)

// InsufficientBalanceError rejects a BUY or reservation the available
// balance cannot cover. The ledger is left untouched.
type InsufficientBalanceError struct {
	UserID    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Kind() string          { return KindInsufficientBalance }
func (e *InsufficientBalanceError) Risk() audit.RiskLevel { return audit.RiskLow }

// InsufficientPositionError rejects a SELL larger than the held quantity.
type InsufficientPositionError struct {
	UserID    string
	Symbol    string
	Requested decimal.Decimal
	Held      decimal.Decimal
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("insufficient position in %s: requested %s, held %s", e.Symbol, e.Requested, e.Held)
}

func (e *InsufficientPositionError) Kind() string          { return KindInsufficientPosition }
func (e *InsufficientPositionError) Risk() audit.RiskLevel { return audit.RiskLow }
