package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/progress"
)

// LogSink writes one structured log line per event. Step events are logged at
// debug level to keep a 20-step run from flooding production logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("topic", evt.Topic),
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
			zap.Int("viewers", evt.Viewers),
		}
		switch evt.Kind {
		case progress.KindDriverStart, progress.KindStep, progress.KindDriverDone, progress.KindDriverCanceled:
			fields = append(fields,
				zap.Int("progress", evt.Snapshot.Progress),
				zap.String("state", string(evt.Snapshot.State)),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Kind == progress.KindStep || evt.Kind == progress.KindDeliveryFailed {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
