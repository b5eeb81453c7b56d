package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"papertrade-core/internal/events"
)

// AlertSink delivers security alerts somewhere a human will see them.
type AlertSink interface {
	Send(message string) error
}

// Monitor folds order lifecycle events into SimulationMetrics and forwards
// security violations to the alert sink.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SimulationMetrics
	Alerts  AlertSink
	Log     *zap.Logger
}

// Start consumes the bus until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.Bus == nil || m.Metrics == nil {
		m.Log.Warn("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeAll(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(env)
			}
		}
	}()
}

func (m *Monitor) handle(env events.Envelope) {
	switch env.Topic {
	case events.EventOrderFilled:
		m.Metrics.IncrementFilled()
		if ev, ok := env.Payload.(events.OrderEvent); ok {
			m.Metrics.AddFee(ev.Fee)
		}
	case events.EventOrderCancelled:
		m.Metrics.IncrementCancelled()
	case events.EventOrderRejected:
		m.Metrics.IncrementRejected()
	case events.EventSecurityViolation:
		m.Metrics.IncrementBlocked()
		ev, ok := env.Payload.(events.SecurityViolationEvent)
		if !ok || m.Alerts == nil {
			return
		}
		if err := m.Alerts.Send(formatAlert(env, ev)); err != nil {
			m.Log.Warn("alert delivery failed", zap.Error(err))
		}
	}
}

func formatAlert(env events.Envelope, ev events.SecurityViolationEvent) string {
	return fmt.Sprintf("[%s] %s (%s) user=%s: %s",
		env.At.Format("2006-01-02T15:04:05Z07:00"), ev.Name, ev.RiskLevel, ev.UserID, ev.Reason)
}

// LogAlertSink writes alerts to a zap logger at warn level.
type LogAlertSink struct {
	Log *zap.Logger
}

func (s LogAlertSink) Send(message string) error {
	s.Log.Warn("security alert", zap.String("alert", message))
	return nil
}
