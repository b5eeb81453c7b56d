package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"papertrade-core/internal/audit"
	"papertrade-core/pkg/cache"
)

// minCredentialLength rejects obviously truncated keys.
const minCredentialLength = 8

var (
	// Markers that indicate a credential scoped for moving funds.
	tradingMarkers = []string{"trading", "trade", "withdraw", "transfer", "futures", "margin"}
	// Markers that indicate a production endpoint.
	mainnetMarkers = []string{"mainnet", "live", "prod", "production"}
	// Markers that indicate a safe scope.
	readOnlyMarkers = []string{"readonly", "read_only", "read-only"}
	sandboxMarkers  = []string{"sandbox", "testnet", "paper"}
)

// PermissionResult is either Valid or Rejected.
type PermissionResult interface {
	Summary() ValidationResult
	isPermissionResult()
}

// Valid accepts a credential.
type Valid struct {
	RiskLevel audit.RiskLevel `json:"riskLevel"`
	ReadOnly  bool            `json:"readOnly"`
	Notes     []string        `json:"notes,omitempty"`
}

// Rejected refuses a credential.
type Rejected struct {
	Reason     string          `json:"reason"`
	RiskLevel  audit.RiskLevel `json:"riskLevel"`
	Violations []string        `json:"violations"`
}

func (Valid) isPermissionResult()    {}
func (Rejected) isPermissionResult() {}

// ValidationResult is the flat view of a PermissionResult.
type ValidationResult struct {
	IsValid    bool            `json:"isValid"`
	IsReadOnly bool            `json:"isReadOnly"`
	RiskLevel  audit.RiskLevel `json:"riskLevel"`
	Violations []string        `json:"violations"`
}

func (v Valid) Summary() ValidationResult {
	return ValidationResult{IsValid: true, IsReadOnly: v.ReadOnly, RiskLevel: v.RiskLevel, Violations: []string{}}
}

func (r Rejected) Summary() ValidationResult {
	return ValidationResult{IsValid: false, RiskLevel: r.RiskLevel, Violations: append([]string(nil), r.Violations...)}
}

// PermissionValidator risk-scores exchange credentials offline. Results are
// deterministic per input and cached by (exchange, digest of key and secret).
type PermissionValidator struct {
	cache *cache.TTLCache[PermissionResult]
}

// NewPermissionValidator builds a validator with a result cache of ttl.
func NewPermissionValidator(ttl time.Duration) *PermissionValidator {
	return &PermissionValidator{cache: cache.New[PermissionResult](ttl)}
}

// Validate classifies a credential. The secret may be empty.
func (v *PermissionValidator) Validate(apiKey, exchange, secret string) PermissionResult {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	key := cacheKey(exchange, apiKey, secret)
	if res, ok := v.cache.Get(key); ok {
		return res
	}
	res := classify(apiKey, secret)
	v.cache.Set(key, res)
	return res
}

// CacheLen exposes the number of cached results.
func (v *PermissionValidator) CacheLen() int {
	return v.cache.Len()
}

func cacheKey(exchange, apiKey, secret string) string {
	sum := sha256.Sum256([]byte(apiKey + "\x00" + secret))
	return exchange + ":" + hex.EncodeToString(sum[:])
}

func classify(apiKey, secret string) PermissionResult {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Valid{RiskLevel: audit.RiskLow, ReadOnly: true, Notes: []string{"no credential supplied; public market data only"}}
	}

	material := strings.ToLower(apiKey + " " + secret)

	var violations []string
	for _, m := range tradingMarkers {
		if strings.Contains(material, m) {
			violations = append(violations, "credential carries "+m+" permission marker")
		}
	}
	sandboxed := containsAny(material, sandboxMarkers)
	if !sandboxed {
		tokens := tokenize(material)
		for _, m := range mainnetMarkers {
			if tokens[m] {
				violations = append(violations, "credential targets "+m+" without sandbox/testnet marker")
			}
		}
	}
	if len(violations) > 0 {
		return Rejected{Reason: "credential grants real-money capability", RiskLevel: audit.RiskCritical, Violations: violations}
	}

	if len(apiKey) < minCredentialLength {
		return Rejected{Reason: "malformed credential", RiskLevel: audit.RiskHigh, Violations: []string{"api key shorter than 8 characters"}}
	}

	if containsAny(material, readOnlyMarkers) || sandboxed {
		return Valid{RiskLevel: audit.RiskLow, ReadOnly: true}
	}
	return Valid{RiskLevel: audit.RiskMedium, Notes: []string{"read-only scope not verifiable offline"}}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
