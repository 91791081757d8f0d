package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/progress"
	"github.com/JakeFAU/offerwatch/internal/store"
)

// StoreSink persists CHECK_DONE events as check history. Watcher lifecycle
// events are not stored.
type StoreSink struct {
	repo   store.HistoryRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.HistoryRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch to check records and writes them in one call. It
// respects ctx deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	records := make([]store.CheckRecord, 0, len(batch))
	for _, evt := range batch {
		if evt.Stage != progress.StageCheckDone {
			continue
		}
		records = append(records, store.CheckRecord{
			CheckID:   evt.CheckUUID(),
			ItemID:    evt.ItemID,
			CheckedAt: evt.TS,
			Outcome:   string(evt.Outcome),
			Strategy:  evt.Strategy,
			Price:     evt.Price,
			Duration:  evt.Dur,
			Note:      evt.Note,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.repo.RecordChecks(ctx, records); err != nil {
		return fmt.Errorf("record checks: %w", err)
	}
	s.logger.Debug("check history persisted", zap.Int("records", len(records)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
