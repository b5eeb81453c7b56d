// Package safety is the single enforcement point that keeps the service in
// paper-trading mode. Every trading-adjacent request passes through Guard
// before the simulation engine or the ledger sees it.
package safety

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/denisbrodbeck/machineid"
	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/events"
)

// Audit event names raised by the guard.
const (
	EventConfigurationViolation = "security.configuration_violation"
	EventRealMoneyBlocked       = "security.real_money_blocked"
	EventSpoofNeutralised       = "security.spoof_neutralised"
	EventCredentialRejected     = "security.credential_rejected"
	EventCredentialAccepted     = "security.credential_validated"
)

// Score penalties per audit event inside the score window.
var scorePenalty = map[audit.RiskLevel]float64{
	audit.RiskCritical: 25,
	audit.RiskHigh:     10,
	audit.RiskMedium:   2,
}

// DefaultScoreWindow is how far back violations weigh on the safety score.
const DefaultScoreWindow = time.Hour

// Guard intercepts requests, validates credentials and exposes the audit view.
type Guard struct {
	env         *EnvironmentValidator
	perms       *PermissionValidator
	trail       *audit.Trail
	bus         *events.Bus
	log         *zap.Logger
	fingerprint string
	scoreWindow time.Duration
	now         func() time.Time
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithBus publishes security.violation events.
func WithBus(b *events.Bus) GuardOption { return func(g *Guard) { g.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GuardOption { return func(g *Guard) { g.log = l } }

// WithFingerprint overrides the instance identifier in exports.
func WithFingerprint(id string) GuardOption { return func(g *Guard) { g.fingerprint = id } }

// WithScoreWindow overrides DefaultScoreWindow.
func WithScoreWindow(d time.Duration) GuardOption { return func(g *Guard) { g.scoreWindow = d } }

// WithGuardClock overrides the clock used for certification and scoring.
func WithGuardClock(now func() time.Time) GuardOption { return func(g *Guard) { g.now = now } }

// NewGuard wires the validators to a shared audit trail.
func NewGuard(env Environment, perms *PermissionValidator, trail *audit.Trail, opts ...GuardOption) *Guard {
	g := &Guard{
		env:         NewEnvironmentValidator(env),
		perms:       perms,
		trail:       trail,
		log:         zap.NewNop(),
		scoreWindow: DefaultScoreWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.fingerprint == "" {
		g.fingerprint = instanceFingerprint()
	}
	return g
}

func instanceFingerprint() string {
	id, err := machineid.ProtectedID("papertrade-core")
	if err != nil {
		return "unknown"
	}
	return id[:16]
}

// ValidatePaperTradingMode re-checks the environment snapshot. A violation
// is audited as critical before the error is returned.
func (g *Guard) ValidatePaperTradingMode() error {
	err := g.env.ValidateEnvironment()
	if err != nil {
		cfgErr := err.(*ConfigurationError)
		g.trail.Append(EventConfigurationViolation, "", audit.RiskCritical, map[string]any{
			"violations": cfgErr.Violations,
		})
		g.log.Error("paper trading environment invalid", zap.Strings("violations", cfgErr.Violations))
	}
	return err
}

// InterceptTradingOperations blocks real-money requests and certifies the
// rest. Trading-shaped requests get server-owned paper markers written over
// whatever the client sent.
func (g *Guard) InterceptTradingOperations(_ context.Context, req InboundRequest) (*Certified, error) {
	if err := g.ValidatePaperTradingMode(); err != nil {
		return nil, err
	}

	matches := scanPath(req.Path)
	if req.Body != nil {
		matches = append(matches, scanBody(req.Body, 0)...)
	}
	if len(matches) > 0 {
		matches = dedupe(matches)
		blocked := &RealMoneyOperationBlockedError{Method: req.Method, Path: req.Path, Matches: matches}
		g.trail.Append(EventRealMoneyBlocked, req.UserID, audit.RiskCritical, map[string]any{
			"method":  req.Method,
			"path":    req.Path,
			"matches": matches,
		})
		g.bus.Publish(events.EventSecurityViolation, events.SecurityViolationEvent{
			Name: EventRealMoneyBlocked, UserID: req.UserID, RiskLevel: string(audit.RiskCritical), Reason: blocked.Error(),
		})
		g.log.Warn("real-money operation blocked",
			zap.String("user_id", req.UserID), zap.String("path", req.Path), zap.Strings("matches", matches))
		return nil, blocked
	}

	body := map[string]any{}
	if req.Body != nil {
		body = cloneBody(req.Body).(map[string]any)
	}
	tradingShaped := isTradingShaped(req.Path, body)

	var spoofed []string
	for _, flag := range liveFlags {
		if v, ok := body[flag]; ok {
			if truthy(v) {
				spoofed = append(spoofed, flag)
			}
			body[flag] = false
		}
	}
	if tradingShaped {
		for _, marker := range []string{"isPaperTrade", "paperTradingMode"} {
			if v, ok := body[marker]; ok && v != true {
				spoofed = append(spoofed, marker)
			}
			body[marker] = true
		}
	}
	if len(spoofed) > 0 {
		sort.Strings(spoofed)
		g.trail.Append(EventSpoofNeutralised, req.UserID, audit.RiskMedium, map[string]any{
			"path":   req.Path,
			"fields": spoofed,
		})
		g.log.Info("client paper-trade markers overwritten",
			zap.String("user_id", req.UserID), zap.Strings("fields", spoofed))
	}

	return &Certified{
		method:      req.Method,
		path:        req.Path,
		userID:      req.UserID,
		body:        body,
		trading:     tradingShaped,
		certifiedAt: g.now().UTC(),
	}, nil
}

// ValidateAPIPermissions classifies a credential. A rejection is audited at
// its risk level and returned as *PermissionValidationError.
func (g *Guard) ValidateAPIPermissions(_ context.Context, apiKey, exchange, secret string) (Valid, error) {
	res := g.perms.Validate(apiKey, exchange, secret)
	switch r := res.(type) {
	case Valid:
		if apiKey != "" {
			g.trail.Append(EventCredentialAccepted, "", audit.RiskLow, map[string]any{
				"exchange": exchange, "riskLevel": string(r.RiskLevel), "readOnly": r.ReadOnly,
			})
		}
		return r, nil
	case Rejected:
		g.trail.Append(EventCredentialRejected, "", r.RiskLevel, map[string]any{
			"exchange": exchange, "reason": r.Reason, "violations": r.Violations,
		})
		g.bus.Publish(events.EventSecurityViolation, events.SecurityViolationEvent{
			Name: EventCredentialRejected, RiskLevel: string(r.RiskLevel), Reason: r.Reason,
		})
		return Valid{}, &PermissionValidationError{
			Exchange: exchange, Reason: r.Reason, RiskLevel: r.RiskLevel, Violations: r.Violations,
		}
	}
	return Valid{}, fmt.Errorf("unknown permission result %T", res)
}

// GetSecurityAuditLog returns the retained audit events, oldest first.
func (g *Guard) GetSecurityAuditLog() []audit.Event {
	return g.trail.Events()
}

// EnforcementSummary states which protections are active.
type EnforcementSummary struct {
	PaperTradingEnforced bool `json:"paperTradingEnforced"`
	RealTradingBlocked   bool `json:"realTradingBlocked"`
	APIKeyValidation     bool `json:"apiKeyValidation"`
	AuditLoggingActive   bool `json:"auditLoggingActive"`
}

// AuditExport is the compliance export of the trail.
type AuditExport struct {
	GeneratedAt   time.Time               `json:"generatedAt"`
	Instance      string                  `json:"instance"`
	Events        []audit.Event           `json:"events"`
	Retained      int                     `json:"retained"`
	TotalRecorded uint64                  `json:"totalRecorded"`
	Capacity      int                     `json:"capacity"`
	RiskCounts    map[audit.RiskLevel]int `json:"riskCounts"`
	Enforcement   EnforcementSummary      `json:"enforcement"`
	Checks        []Check                 `json:"checks"`
	SafetyScore   float64                 `json:"safetyScore"`
}

// ExportSecurityAuditLog snapshots the trail with aggregates.
func (g *Guard) ExportSecurityAuditLog() AuditExport {
	evts := g.trail.Events()
	counts := make(map[audit.RiskLevel]int, len(audit.Levels))
	for _, l := range audit.Levels {
		counts[l] = 0
	}
	for _, e := range evts {
		counts[e.RiskLevel]++
	}
	return AuditExport{
		GeneratedAt:   g.now().UTC(),
		Instance:      g.fingerprint,
		Events:        evts,
		Retained:      len(evts),
		TotalRecorded: g.trail.Total(),
		Capacity:      g.trail.Capacity(),
		RiskCounts:    counts,
		Enforcement:   g.enforcement(),
		Checks:        g.checks(),
		SafetyScore:   g.SafetyScore(),
	}
}

func (g *Guard) enforcement() EnforcementSummary {
	env := g.env.env
	return EnforcementSummary{
		PaperTradingEnforced: env.PaperTradingMode,
		RealTradingBlocked:   !env.EnableRealTrades && !env.EnableWithdrawals,
		APIKeyValidation:     g.perms != nil,
		AuditLoggingActive:   g.trail != nil && g.trail.Capacity() > 0,
	}
}

func (g *Guard) checks() []Check {
	checks := g.env.Checks()
	enf := g.enforcement()
	checks = append(checks,
		Check{Name: "api_key_validation", Passed: enf.APIKeyValidation},
		Check{Name: "audit_logging_active", Passed: enf.AuditLoggingActive},
	)
	return checks
}

// SafetyScore is 100 x passed/total checks minus penalties for medium and
// worse audit events inside the score window, floored at 0.
func (g *Guard) SafetyScore() float64 {
	checks := g.checks()
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	score := 100 * float64(passed) / float64(len(checks))

	for _, e := range g.trail.Since(g.now().Add(-g.scoreWindow)) {
		score -= scorePenalty[e.RiskLevel]
	}
	return math.Max(0, math.Round(score*100)/100)
}
