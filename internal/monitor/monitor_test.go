package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Send(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 1, 2, 3} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 3.0, st.Max)
	assert.InDelta(t, 2.0, st.Avg, 1e-9)

	h.Record(100)
	assert.Equal(t, 100.0, h.Stats().Max)
}

func TestLatencyHistogramEmpty(t *testing.T) {
	assert.Equal(t, LatencyStats{}, NewLatencyHistogram(0).Stats())
}

func TestMonitorFoldsEvents(t *testing.T) {
	bus := events.NewBus()
	metrics := NewSimulationMetrics()
	sink := &recordingSink{}
	m := &Monitor{Bus: bus, Metrics: metrics, Alerts: sink, Log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventOrderFilled, events.OrderEvent{OrderID: "a", Fee: 1.5})
	bus.Publish(events.EventOrderFilled, events.OrderEvent{OrderID: "b", Fee: 0.5})
	bus.Publish(events.EventOrderCancelled, events.OrderEvent{OrderID: "c"})
	bus.Publish(events.EventOrderRejected, events.OrderEvent{OrderID: "d"})
	bus.Publish(events.EventSecurityViolation, events.SecurityViolationEvent{
		Name: "security.real_money_blocked", RiskLevel: "critical", Reason: "withdraw",
	})

	require.Eventually(t, func() bool {
		return metrics.GetSnapshot().BlockedRequests == 1
	}, time.Second, 5*time.Millisecond)

	snap := metrics.GetSnapshot()
	assert.Equal(t, uint64(2), snap.OrdersFilled)
	assert.Equal(t, uint64(1), snap.OrdersCancelled)
	assert.Equal(t, uint64(1), snap.OrdersRejected)
	assert.InDelta(t, 2.0, snap.FeesTotal, 1e-9)
	assert.Equal(t, 1, sink.count())
}

func TestMonitorWithoutBusIsNoop(t *testing.T) {
	m := &Monitor{}
	m.Start(context.Background())
}
