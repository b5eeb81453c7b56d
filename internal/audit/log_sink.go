package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes audit events to a structured logger. Critical events log at
// error level so they surface in alerting on log streams.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.Named("audit")}
}

// Forward implements Sink.
func (s *LogSink) Forward(e Event) {
	level := zapcore.InfoLevel
	switch e.RiskLevel {
	case RiskCritical:
		level = zapcore.ErrorLevel
	case RiskHigh:
		level = zapcore.WarnLevel
	case RiskLow:
		level = zapcore.DebugLevel
	}
	if ce := s.log.Check(level, e.Name); ce != nil {
		ce.Write(
			zap.String("audit_id", e.ID),
			zap.String("risk", string(e.RiskLevel)),
			zap.String("user_id", e.UserID),
			zap.Any("details", e.Details),
		)
	}
}
