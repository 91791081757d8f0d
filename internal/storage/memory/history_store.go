package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/offerwatch/internal/store"
)

// HistoryStore keeps check records in memory.
type HistoryStore struct {
	mu     sync.RWMutex
	checks map[string][]store.CheckRecord
}

// NewHistoryStore constructs an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{checks: make(map[string][]store.CheckRecord)}
}

// RecordChecks appends records per item.
func (s *HistoryStore) RecordChecks(_ context.Context, records []store.CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.checks[rec.ItemID] = append(s.checks[rec.ItemID], rec)
	}
	return nil
}

// ListChecks returns up to limit records for itemID, newest first. A
// non-positive limit returns everything.
func (s *HistoryStore) ListChecks(_ context.Context, itemID string, limit int) ([]store.CheckRecord, error) {
	s.mu.RLock()
	out := append([]store.CheckRecord(nil), s.checks[itemID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckedAt.After(out[j].CheckedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
