package persistence

import (
	"encoding/json"

	"go.uber.org/zap"

	"papertrade-core/internal/audit"
	"papertrade-core/internal/portfolio"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/trading"
)

// Recorder turns domain records into batched statements. It is an
// audit.Sink and a portfolio.TradeHook.
type Recorder struct {
	writer *BatchWriter
	log    *zap.Logger
}

// NewRecorder binds a recorder to a writer.
func NewRecorder(w *BatchWriter, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{writer: w, log: logger.Named("recorder")}
}

// Forward journals an audit event.
func (r *Recorder) Forward(e audit.Event) {
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			r.log.Warn("audit details not serializable", zap.String("event", e.Name), zap.Error(err))
		} else {
			details = string(b)
		}
	}
	q, args := db.InsertAuditEventStmt(db.AuditEventRow{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Name:      e.Name,
		UserID:    e.UserID,
		RiskLevel: string(e.RiskLevel),
		Details:   details,
	})
	r.writer.WriteQuery("audit_events", q, args...)
}

// RecordOrder journals the latest state of a simulated order.
func (r *Recorder) RecordOrder(o trading.SimulatedOrder) {
	if o.UserID == "" {
		return
	}
	q, args := db.UpsertOrderStmt(OrderRowFrom(o))
	r.writer.WriteQuery("paper_orders", q, args...)
}

// RecordTrade journals a ledger fill.
func (r *Recorder) RecordTrade(e portfolio.TradeHistoryEntry) {
	q, args := db.InsertTradeStmt(TradeRowFrom(e))
	r.writer.WriteQuery("paper_trades", q, args...)
}

// OrderRowFrom maps an order onto its table row.
func OrderRowFrom(o trading.SimulatedOrder) db.OrderRow {
	return db.OrderRow{
		ID:             o.OrderID,
		UserID:         o.UserID,
		ClientOrderID:  o.ClientOrderID,
		Exchange:       o.Exchange,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Qty:            o.Quantity,
		Price:          o.Price,
		ReferencePrice: o.ReferencePrice,
		ExecutedPrice:  o.ExecutedPrice,
		SlippagePct:    o.Meta.SlippagePercent,
		Fee:            o.Meta.Fee,
		FeePct:         o.Meta.FeePercent,
		DelayMs:        o.Meta.ExecutionDelayMs,
		Status:         string(o.Status),
		RejectReason:   o.RejectReason,
		CreatedAt:      o.Timestamp,
		UpdatedAt:      o.UpdatedAt,
	}
}

// TradeRowFrom maps a ledger entry onto its table row.
func TradeRowFrom(e portfolio.TradeHistoryEntry) db.TradeRow {
	return db.TradeRow{
		ID:          e.ID,
		UserID:      e.UserID,
		OrderID:     e.OrderID,
		Exchange:    e.Exchange,
		Symbol:      e.Symbol,
		Side:        string(e.Side),
		Qty:         e.Quantity.InexactFloat64(),
		Price:       e.Price.InexactFloat64(),
		Fee:         e.Fee.InexactFloat64(),
		RealizedPnL: e.RealizedPnL.InexactFloat64(),
		ExecutedAt:  e.ExecutedAt,
	}
}
