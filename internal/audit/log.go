package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID.String()),
		zap.String("kind", string(e.Kind)),
		zap.String("outcome", e.Outcome),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.Namespace != "" {
		fields = append(fields, zap.String("namespace", e.Namespace))
	}
	if e.EntryID != "" {
		fields = append(fields, zap.String("entry_id", e.EntryID), zap.Int64("sequence", e.Sequence))
	}
	if e.Actor != "" {
		fields = append(fields, zap.String("actor", e.Actor))
	}
	if len(e.Detail) > 0 {
		fields = append(fields, zap.Any("detail", e.Detail))
	}
	s.logger.Info("audit", fields...)
	return nil
}
