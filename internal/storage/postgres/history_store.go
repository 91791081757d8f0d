package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/offerwatch/internal/store"
)

const defaultHistoryLimit = 50

// HistoryStore implements store.HistoryRepository on the item_checks table.
type HistoryStore struct {
	db DB
}

// NewHistoryStore constructs a HistoryStore on db.
func NewHistoryStore(db DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecordChecks inserts records one row at a time. Replayed check ids
// are ignored.
func (s *HistoryStore) RecordChecks(ctx context.Context, records []store.CheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := `
INSERT INTO item_checks (check_id, item_id, checked_at, outcome, strategy, price, duration_ms, note)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
ON CONFLICT (check_id) DO NOTHING;`
	for _, rec := range records {
		var price *string
		if rec.Price != "" {
			p := rec.Price
			price = &p
		}
		_, err := s.db.Exec(ctx, query,
			rec.CheckID,
			rec.ItemID,
			rec.CheckedAt.UTC(),
			rec.Outcome,
			rec.Strategy,
			price,
			rec.Duration.Milliseconds(),
			rec.Note,
		)
		if err != nil {
			return fmt.Errorf("insert check %s: %w", rec.CheckID, err)
		}
	}
	return nil
}

// ListChecks returns the most recent checks of itemID, newest first.
func (s *HistoryStore) ListChecks(ctx context.Context, itemID string, limit int) ([]store.CheckRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	query := `
SELECT check_id, item_id, checked_at, outcome, strategy, price::text, duration_ms, note
FROM item_checks
WHERE item_id = $1
ORDER BY checked_at DESC
LIMIT $2;`
	rows, err := s.db.Query(ctx, query, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []store.CheckRecord
	for rows.Next() {
		rec, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}
	return out, nil
}

func scanCheck(row pgx.Row) (store.CheckRecord, error) {
	var (
		rec        store.CheckRecord
		price      *string
		durationMS int64
	)
	err := row.Scan(
		&rec.CheckID,
		&rec.ItemID,
		&rec.CheckedAt,
		&rec.Outcome,
		&rec.Strategy,
		&price,
		&durationMS,
		&rec.Note,
	)
	if err != nil {
		return store.CheckRecord{}, fmt.Errorf("scan check row: %w", err)
	}
	if price != nil {
		rec.Price = *price
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}
