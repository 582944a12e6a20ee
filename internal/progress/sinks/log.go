package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/progress"
)

// LogSink writes every event at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("kind", string(evt.Kind)),
			zap.String("stage", evt.Stage),
		}
		if evt.Entity != "" {
			fields = append(fields, zap.String("entity", evt.Entity))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.URL != "" {
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
