package simulation

import (
	"errors"
	"fmt"

	"papertrade-core/internal/audit"
)

const KindValidation = "validation"

// ErrOrderNotFound is returned for unknown or evicted order IDs.
var ErrOrderNotFound = errors.New("simulated order not found")

// ValidationError rejects a malformed order request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() string          { return KindValidation }
func (e *ValidationError) Risk() audit.RiskLevel { return audit.RiskLow }
