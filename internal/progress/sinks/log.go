package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/offerwatch/internal/progress"
)

// LogSink writes one log line per event. Errored checks log at warn level,
// skipped ones at debug so cool-downs do not flood the output.
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
			zap.String("item_id", evt.ItemID),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageCheckDone:
			fields = append(fields,
				zap.Stringer("check_id", evt.CheckUUID()),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("strategy", evt.Strategy),
				zap.String("price", evt.Price),
			)
			s.logger.Log(checkLevel(evt.Outcome), "check done", fields...)
		case progress.StageWatcherStart:
			s.logger.Info("watcher started", fields...)
		case progress.StageWatcherStop:
			s.logger.Info("watcher stopped", fields...)
		}
	}
	return nil
}

func checkLevel(o progress.Outcome) zapcore.Level {
	switch o {
	case progress.OutcomeErrored:
		return zapcore.WarnLevel
	case progress.OutcomeSkipped:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
