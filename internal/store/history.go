package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("history record not found")

// CheckRecord is one completed watcher cycle.
type CheckRecord struct {
	// CheckID identifies the cycle (UUIDv7, so ids sort by time).
	CheckID uuid.UUID
	ItemID  string
	// CheckedAt is when the cycle finished.
	CheckedAt time.Time
	// Outcome is notified, not_qualified, skipped or errored.
	Outcome string
	// Strategy names the extraction strategy that settled the verdict.
	Strategy string
	// Price is the decimal string of the price read, empty when none.
	Price    string
	Duration time.Duration
	Note     string
}

// HistoryRepository persists check outcomes for later inspection.
type HistoryRepository interface {
	// RecordChecks inserts a batch of check records.
	RecordChecks(ctx context.Context, records []CheckRecord) error
	// ListChecks returns the most recent checks of an item, newest first.
	ListChecks(ctx context.Context, itemID string, limit int) ([]CheckRecord, error)
}
