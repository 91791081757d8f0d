// Package sqlite implements the tracked-item state store on a local SQLite
// file. SQLite cannot push changes, so Subscribe falls back to polling.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/offerwatch/internal/store"
	"github.com/JakeFAU/offerwatch/internal/watch"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_items (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	target_price    TEXT NOT NULL,
	check_shipped   BOOLEAN NOT NULL DEFAULT 0,
	check_sold      BOOLEAN NOT NULL DEFAULT 0,
	available       BOOLEAN NOT NULL DEFAULT 0,
	available_since TEXT
);
CREATE TABLE IF NOT EXISTS settings (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	token             TEXT NOT NULL DEFAULT '',
	chat_id           TEXT NOT NULL DEFAULT '',
	cool_time_seconds INTEGER
);`

const selectItems = `
SELECT id, url, name, target_price, check_shipped, check_sold, available, available_since
FROM tracked_items`

// Config locates the database file.
type Config struct {
	Path string
	// PollInterval paces the change feed.
	PollInterval time.Duration
}

// ItemStore implements watch.StateStore on SQLite.
type ItemStore struct {
	db           *sqlx.DB
	pollInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*ItemStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", cfg.Path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One writer keeps SQLite from reporting "database is locked".
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{
		db:           db,
		pollInterval: cfg.PollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}, nil
}

// Close closes the database.
func (s *ItemStore) Close() error {
	return s.db.Close()
}

// List returns every item ordered by id.
func (s *ItemStore) List(ctx context.Context) ([]watch.TrackedItem, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, selectItems+" ORDER BY id;"); err != nil {
		return nil, fmt.Errorf("list tracked items: %w", err)
	}
	items := make([]watch.TrackedItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Get loads one item.
func (s *ItemStore) Get(ctx context.Context, id string) (watch.TrackedItem, bool, error) {
	var row itemRow
	if err := s.db.GetContext(ctx, &row, selectItems+" WHERE id = ?;", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return watch.TrackedItem{}, false, nil
		}
		return watch.TrackedItem{}, false, fmt.Errorf("get tracked item %s: %w", id, err)
	}
	item, err := row.item()
	if err != nil {
		return watch.TrackedItem{}, false, err
	}
	return item, true, nil
}

// Update applies patch.
func (s *ItemStore) Update(ctx context.Context, id string, patch watch.Patch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("update tracked item %s: %w", id, err)
	}
	patch = patch.Normalize(s.now())

	var (
		sets []string
		args []any
	)
	if patch.Available != nil {
		sets = append(sets, "available = ?")
		args = append(args, *patch.Available)
	}
	switch {
	case patch.DeleteAvailableSince:
		sets = append(sets, "available_since = NULL")
	case patch.AvailableSince != nil:
		sets = append(sets, "available_since = ?")
		args = append(args, formatTime(*patch.AvailableSince))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE tracked_items SET "+strings.Join(sets, ", ")+" WHERE id = ?;", args...)
	if err != nil {
		return fmt.Errorf("update tracked item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tracked item %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update tracked item %s: %w", id, watch.ErrNotFound)
	}
	return nil
}

// Upsert inserts or replaces the operator fields of item.
func (s *ItemStore) Upsert(ctx context.Context, item watch.TrackedItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("upsert tracked item: %w", err)
	}
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO tracked_items (id, url, name, target_price, check_shipped, check_sold, available, available_since)
VALUES (:id, :url, :name, :target_price, :check_shipped, :check_sold, :available, :available_since)
ON CONFLICT (id) DO UPDATE
SET url = excluded.url,
	name = excluded.name,
	target_price = excluded.target_price,
	check_shipped = excluded.check_shipped,
	check_sold = excluded.check_sold;`, rowFromItem(item))
	if err != nil {
		return fmt.Errorf("upsert tracked item %s: %w", item.ID, err)
	}
	return nil
}

// Delete removes an item.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tracked_items WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete tracked item %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete tracked item %s: %w", id, watch.ErrNotFound)
	}
	return nil
}

// Settings loads the settings singleton; a missing row yields zero settings.
func (s *ItemStore) Settings(ctx context.Context) (watch.Settings, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, "SELECT token, chat_id, cool_time_seconds FROM settings WHERE id = 1;")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return watch.Settings{}, nil
		}
		return watch.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings := watch.Settings{Token: row.Token, ChatID: row.ChatID}
	if row.CoolTimeSeconds.Valid {
		settings.CoolTime = time.Duration(row.CoolTimeSeconds.Int64) * time.Second
	}
	return settings.WithDefaults(), nil
}

// SaveSettings writes the settings singleton.
func (s *ItemStore) SaveSettings(ctx context.Context, settings watch.Settings) error {
	row := settingsRow{Token: settings.Token, ChatID: settings.ChatID}
	if settings.CoolTime > 0 {
		row.CoolTimeSeconds = sql.NullInt64{Int64: int64(settings.CoolTime / time.Second), Valid: true}
	}
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO settings (id, token, chat_id, cool_time_seconds) VALUES (1, :token, :chat_id, :cool_time_seconds)
ON CONFLICT (id) DO UPDATE
SET token = excluded.token, chat_id = excluded.chat_id, cool_time_seconds = excluded.cool_time_seconds;`, row)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Subscribe polls the table and diffs snapshots.
func (s *ItemStore) Subscribe(ctx context.Context) (<-chan watch.ChangeEvent, error) {
	return store.PollFeed(ctx, s, s.pollInterval, s.logger)
}

type itemRow struct {
	ID             string         `db:"id"`
	URL            string         `db:"url"`
	Name           string         `db:"name"`
	TargetPrice    string         `db:"target_price"`
	CheckShipped   bool           `db:"check_shipped"`
	CheckSold      bool           `db:"check_sold"`
	Available      bool           `db:"available"`
	AvailableSince sql.NullString `db:"available_since"`
}

func rowFromItem(item watch.TrackedItem) itemRow {
	row := itemRow{
		ID:           item.ID,
		URL:          item.URL,
		Name:         item.Name,
		TargetPrice:  item.TargetPrice.String(),
		CheckShipped: item.RequireShippedByPlatform,
		CheckSold:    item.RequireSoldByPlatform,
		Available:    item.Available,
	}
	if item.AvailableSince != nil {
		row.AvailableSince = sql.NullString{String: formatTime(*item.AvailableSince), Valid: true}
	}
	return row
}

func (r itemRow) item() (watch.TrackedItem, error) {
	price, err := decimal.NewFromString(r.TargetPrice)
	if err != nil {
		return watch.TrackedItem{}, fmt.Errorf("parse target price of %s: %w", r.ID, err)
	}
	item := watch.TrackedItem{
		ID:                       r.ID,
		URL:                      r.URL,
		Name:                     r.Name,
		TargetPrice:              price,
		RequireShippedByPlatform: r.CheckShipped,
		RequireSoldByPlatform:    r.CheckSold,
		Available:                r.Available,
	}
	if r.AvailableSince.Valid && r.AvailableSince.String != "" {
		at, err := time.Parse(time.RFC3339Nano, r.AvailableSince.String)
		if err != nil {
			return watch.TrackedItem{}, fmt.Errorf("parse available_since of %s: %w", r.ID, err)
		}
		item.AvailableSince = &at
	}
	return item, nil
}

type settingsRow struct {
	Token           string        `db:"token"`
	ChatID          string        `db:"chat_id"`
	CoolTimeSeconds sql.NullInt64 `db:"cool_time_seconds"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
