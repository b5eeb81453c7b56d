package safety

import (
	"fmt"
	"strings"

	"papertrade-core/internal/audit"
)

const (
	KindConfiguration        = "configuration"
	KindPermissionValidation = "permission_validation"
	KindRealMoneyBlocked     = "real_money_operation_blocked"
)

// ConfigurationError lists every violated environment invariant.
type ConfigurationError struct {
	Violations []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("paper trading environment invalid (%d violation(s)): %s",
		len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *ConfigurationError) Kind() string          { return KindConfiguration }
func (e *ConfigurationError) Risk() audit.RiskLevel { return audit.RiskCritical }

// PermissionValidationError rejects a credential before it is used or stored.
type PermissionValidationError struct {
	Exchange   string
	Reason     string
	RiskLevel  audit.RiskLevel
	Violations []string
}

func (e *PermissionValidationError) Error() string {
	return fmt.Sprintf("api credential rejected for %s: %s", e.Exchange, e.Reason)
}

func (e *PermissionValidationError) Kind() string          { return KindPermissionValidation }
func (e *PermissionValidationError) Risk() audit.RiskLevel { return e.RiskLevel }

// RealMoneyOperationBlockedError is returned for any request that matches a
// real-money signature. It is never retried or downgraded.
type RealMoneyOperationBlockedError struct {
	Method  string
	Path    string
	Matches []string
}

func (e *RealMoneyOperationBlockedError) Error() string {
	return fmt.Sprintf("real-money operation blocked: %s %s matched %s",
		e.Method, e.Path, strings.Join(e.Matches, ","))
}

func (e *RealMoneyOperationBlockedError) Kind() string          { return KindRealMoneyBlocked }
func (e *RealMoneyOperationBlockedError) Risk() audit.RiskLevel { return audit.RiskCritical }
