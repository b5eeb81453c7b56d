package simulation

import (
	"math"
	"sync"
	"time"

	"papertrade-core/pkg/trading"
)

// ExecutionRecord is one committed fill. The audit report and the
// reconciler read these.
type ExecutionRecord struct {
	OrderID      string       `json:"orderId"`
	UserID       string       `json:"userId"`
	Exchange     string       `json:"exchange"`
	Symbol       string       `json:"symbol"`
	Side         trading.Side `json:"side"`
	Quantity     float64      `json:"quantity"`
	Price        float64      `json:"price"`
	Notional     float64      `json:"notional"`
	Fee          float64      `json:"fee"`
	SlippageCost float64      `json:"slippageCost"`
	ExecutedAt   time.Time    `json:"executedAt"`
}

type journal struct {
	mu       sync.RWMutex
	capacity int
	records  []ExecutionRecord
}

func newJournal(capacity int) *journal {
	return &journal{capacity: capacity}
}

func (j *journal) append(r ExecutionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.capacity > 0 && len(j.records) >= j.capacity {
		j.records = j.records[1:]
	}
	j.records = append(j.records, r)
}

func (j *journal) between(r trading.TimeRange) []ExecutionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ExecutionRecord, 0, len(j.records))
	for _, rec := range j.records {
		if r.Contains(rec.ExecutedAt) {
			out = append(out, rec)
		}
	}
	return out
}

func (j *journal) dropUser(userID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.records[:0]
	for _, rec := range j.records {
		if rec.UserID != userID {
			kept = append(kept, rec)
		}
	}
	j.records = kept
}

// Summary aggregates fills.
type Summary struct {
	TradeCount   int     `json:"tradeCount"`
	Volume       float64 `json:"volume"`
	Fees         float64 `json:"fees"`
	SlippageCost float64 `json:"slippageCost"`
}

func (s *Summary) add(r ExecutionRecord) {
	s.TradeCount++
	s.Volume += r.Notional
	s.Fees += r.Fee
	s.SlippageCost += r.SlippageCost
}

// AuditReport is the paper-trade compliance report for a time range.
type AuditReport struct {
	Range        trading.TimeRange  `json:"range"`
	GeneratedAt  time.Time          `json:"generatedAt"`
	Totals       Summary            `json:"totals"`
	ByExchange   map[string]Summary `json:"byExchange"`
	BySymbol     map[string]Summary `json:"bySymbol"`
	IsPaperTrade bool               `json:"isPaperTrade"`
}

func buildReport(r trading.TimeRange, records []ExecutionRecord, now time.Time) AuditReport {
	rep := AuditReport{
		Range:        r,
		GeneratedAt:  now,
		ByExchange:   make(map[string]Summary),
		BySymbol:     make(map[string]Summary),
		IsPaperTrade: true,
	}
	for _, rec := range records {
		rep.Totals.add(rec)
		ex := rep.ByExchange[rec.Exchange]
		ex.add(rec)
		rep.ByExchange[rec.Exchange] = ex
		sym := rep.BySymbol[rec.Symbol]
		sym.add(rec)
		rep.BySymbol[rec.Symbol] = sym
	}
	return rep
}

func slippageCost(o trading.SimulatedOrder) float64 {
	if o.ExecutedPrice <= 0 || o.ReferencePrice <= 0 {
		return 0
	}
	return math.Abs(o.ExecutedPrice-o.ReferencePrice) * o.Quantity
}
