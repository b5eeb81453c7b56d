package reconciliation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/simulation"
	"papertrade-core/pkg/trading"
)

// EventMismatch is appended to the audit trail when the journal and the
// ledger disagree.
const EventMismatch = "reconciliation.mismatch"

// JournalSource yields the simulator's committed fills.
type JournalSource interface {
	Executions(r trading.TimeRange) []simulation.ExecutionRecord
}

// LedgerSource yields the portfolio ledger's trade history.
type LedgerSource interface {
	AllTradeHistory(r trading.TimeRange) []portfolio.TradeHistoryEntry
}

// Service periodically checks that every simulated fill reached the ledger
// and nothing else did.
type Service struct {
	journal  JournalSource
	ledger   LedgerSource
	trail    *audit.Trail
	interval time.Duration
	grace    time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last *Report
}

// Option configures a Service.
type Option func(*Service)

func WithTrail(t *audit.Trail) Option { return func(s *Service) { s.trail = t } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithGrace excludes the most recent window from periodic passes. A fill is
// written to the ledger slightly before the journal sees it.
func WithGrace(d time.Duration) Option { return func(s *Service) { s.grace = d } }

// Totals aggregates fills for one side of the comparison.
type Totals struct {
	Count  int             `json:"count"`
	Volume decimal.Decimal `json:"volume"`
	Fees   decimal.Decimal `json:"fees"`
}

func (t Totals) equal(o Totals) bool {
	return t.Count == o.Count && t.Volume.Equal(o.Volume) && t.Fees.Equal(o.Fees)
}

// GroupDiff compares one exchange/symbol bucket.
type GroupDiff struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Journal  Totals `json:"journal"`
	Ledger   Totals `json:"ledger"`
	Match    bool   `json:"match"`
}

// Report contains reconciliation results.
type Report struct {
	Timestamp        time.Time         `json:"timestamp"`
	Range            trading.TimeRange `json:"range"`
	Journal          Totals            `json:"journal"`
	Ledger           Totals            `json:"ledger"`
	Groups           []GroupDiff       `json:"groups"`
	MissingInLedger  []string          `json:"missingInLedger,omitempty"`
	MissingInJournal []string          `json:"missingInJournal,omitempty"`
	HasDiffs         bool              `json:"hasDiffs"`
}

// NewService creates a reconciliation service.
func NewService(journal JournalSource, ledger LedgerSource, interval time.Duration, opts ...Option) *Service {
	s := &Service{
		journal:  journal,
		ledger:   ledger,
		interval: interval,
		grace:    2 * time.Second,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic reconciliation. A non-positive interval disables it.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("reconciliation disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r := trading.TimeRange{To: s.now().UTC().Add(-s.grace)}
				report, err := s.Reconcile(ctx, r)
				if err != nil {
					s.log.Warn("reconciliation failed", zap.Error(err))
					continue
				}
				s.handleReport(report)

			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.Info("reconciliation service started", zap.Duration("interval", s.interval))
}

// Reconcile compares journal fills with ledger trades inside r, per
// exchange/symbol and per order.
func (s *Service) Reconcile(ctx context.Context, r trading.TimeRange) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now().UTC(), Range: r}

	type key struct{ exchange, symbol string }
	groups := make(map[key]*GroupDiff)
	group := func(exchange, symbol string) *GroupDiff {
		k := key{exchange, symbol}
		g, ok := groups[k]
		if !ok {
			g = &GroupDiff{Exchange: exchange, Symbol: symbol}
			groups[k] = g
		}
		return g
	}

	journaled := make(map[string]struct{})
	for _, rec := range s.journal.Executions(r) {
		vol := decimal.NewFromFloat(rec.Quantity).Mul(decimal.NewFromFloat(rec.Price))
		fee := decimal.NewFromFloat(rec.Fee)
		add(&group(rec.Exchange, rec.Symbol).Journal, vol, fee)
		add(&report.Journal, vol, fee)
		journaled[rec.OrderID] = struct{}{}
	}

	ledgered := make(map[string]struct{})
	for _, t := range s.ledger.AllTradeHistory(r) {
		vol := t.Notional()
		add(&group(t.Exchange, t.Symbol).Ledger, vol, t.Fee)
		add(&report.Ledger, vol, t.Fee)
		ledgered[t.OrderID] = struct{}{}
		if _, ok := journaled[t.OrderID]; !ok {
			report.MissingInJournal = append(report.MissingInJournal, t.OrderID)
		}
	}
	for id := range journaled {
		if _, ok := ledgered[id]; !ok {
			report.MissingInLedger = append(report.MissingInLedger, id)
		}
	}
	sort.Strings(report.MissingInLedger)
	sort.Strings(report.MissingInJournal)

	report.Groups = make([]GroupDiff, 0, len(groups))
	for _, g := range groups {
		g.Match = g.Journal.equal(g.Ledger)
		if !g.Match {
			report.HasDiffs = true
		}
		report.Groups = append(report.Groups, *g)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		if report.Groups[i].Exchange != report.Groups[j].Exchange {
			return report.Groups[i].Exchange < report.Groups[j].Exchange
		}
		return report.Groups[i].Symbol < report.Groups[j].Symbol
	})
	if len(report.MissingInLedger) > 0 || len(report.MissingInJournal) > 0 {
		report.HasDiffs = true
	}

	s.last = report
	return report, nil
}

// Last returns the most recent report, or nil before the first pass.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func add(t *Totals, vol, fee decimal.Decimal) {
	t.Count++
	t.Volume = t.Volume.Add(vol)
	t.Fees = t.Fees.Add(fee)
}

// handleReport logs differences and records them on the audit trail.
func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs {
		s.log.Debug("reconciliation clean", zap.Int("trades", report.Journal.Count))
		return
	}

	mismatched := make([]string, 0)
	for _, g := range report.Groups {
		if g.Match {
			continue
		}
		mismatched = append(mismatched, g.Exchange+":"+g.Symbol)
		s.log.Warn("reconciliation mismatch",
			zap.String("exchange", g.Exchange),
			zap.String("symbol", g.Symbol),
			zap.Int("journalCount", g.Journal.Count),
			zap.Int("ledgerCount", g.Ledger.Count),
			zap.String("journalVolume", g.Journal.Volume.String()),
			zap.String("ledgerVolume", g.Ledger.Volume.String()),
		)
	}

	if s.trail != nil {
		s.trail.Append(EventMismatch, "", audit.RiskHigh, map[string]any{
			"groups":           mismatched,
			"missingInLedger":  report.MissingInLedger,
			"missingInJournal": report.MissingInJournal,
			"journalCount":     report.Journal.Count,
			"ledgerCount":      report.Ledger.Count,
		})
	}
}
