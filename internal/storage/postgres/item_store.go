package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// NotifyChannel is the LISTEN channel the tracked_items trigger publishes on.
const NotifyChannel = "tracked_items"

const selectItems = `
SELECT id, url, name, target_price::text, check_shipped, check_sold, available, available_since
FROM tracked_items`

// NotificationSource yields NOTIFY payloads from a dedicated connection.
type NotificationSource interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// ListenFunc opens a NotificationSource subscribed to channel.
type ListenFunc func(ctx context.Context, channel string) (NotificationSource, error)

// ItemStore implements watch.StateStore on Postgres.
type ItemStore struct {
	db     DB
	listen ListenFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewItemStore builds an ItemStore on pool, listening for changes on a
// dedicated pooled connection.
func NewItemStore(pool *pgxpool.Pool, logger *zap.Logger) *ItemStore {
	return NewItemStoreWithDB(pool, PoolListener(pool), logger)
}

// NewItemStoreWithDB constructs a store from an existing DB (primarily for
// testing).
func NewItemStoreWithDB(db DB, listen ListenFunc, logger *zap.Logger) *ItemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemStore{
		db:     db,
		listen: listen,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// PoolListener acquires a connection from pool and issues LISTEN on it.
func PoolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (NotificationSource, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return &pooledListener{conn: conn}, nil
	}
}

type pooledListener struct {
	conn *pgxpool.Conn
}

func (l *pooledListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.conn.Conn().WaitForNotification(ctx)
}

func (l *pooledListener) Release() {
	// The connection still has LISTEN registered; drop it instead of
	// returning it to the pool.
	_ = l.conn.Conn().Close(context.Background())
	l.conn.Release()
}

// List returns every item ordered by id.
func (s *ItemStore) List(ctx context.Context) ([]watch.TrackedItem, error) {
	rows, err := s.db.Query(ctx, selectItems+" ORDER BY id;")
	if err != nil {
		return nil, fmt.Errorf("list tracked items: %w", err)
	}
	defer rows.Close()

	var items []watch.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked items: %w", err)
	}
	return items, nil
}

// Get loads one item.
func (s *ItemStore) Get(ctx context.Context, id string) (watch.TrackedItem, bool, error) {
	item, err := scanItem(s.db.QueryRow(ctx, selectItems+" WHERE id = $1;", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.TrackedItem{}, false, nil
		}
		return watch.TrackedItem{}, false, fmt.Errorf("get tracked item %s: %w", id, err)
	}
	return item, true, nil
}

// Update applies patch as a single UPDATE statement.
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
		args = append(args, *patch.Available)
		sets = append(sets, fmt.Sprintf("available = $%d", len(args)))
	}
	switch {
	case patch.DeleteAvailableSince:
		sets = append(sets, "available_since = NULL")
	case patch.AvailableSince != nil:
		args = append(args, patch.AvailableSince.UTC())
		sets = append(sets, fmt.Sprintf("available_since = $%d", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE tracked_items SET %s WHERE id = $%d;", strings.Join(sets, ", "), len(args))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tracked item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update tracked item %s: %w", id, watch.ErrNotFound)
	}
	return nil
}

// Upsert inserts or replaces the operator fields of item. Availability state
// is only written on insert.
func (s *ItemStore) Upsert(ctx context.Context, item watch.TrackedItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("upsert tracked item: %w", err)
	}
	query := `
INSERT INTO tracked_items (id, url, name, target_price, check_shipped, check_sold, available, available_since)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET url = EXCLUDED.url,
	name = EXCLUDED.name,
	target_price = EXCLUDED.target_price,
	check_shipped = EXCLUDED.check_shipped,
	check_sold = EXCLUDED.check_sold;`
	_, err := s.db.Exec(ctx, query,
		item.ID,
		item.URL,
		item.Name,
		item.TargetPrice.String(),
		item.RequireShippedByPlatform,
		item.RequireSoldByPlatform,
		item.Available,
		item.AvailableSince,
	)
	if err != nil {
		return fmt.Errorf("upsert tracked item %s: %w", item.ID, err)
	}
	return nil
}

// Delete removes an item.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM tracked_items WHERE id = $1;", id)
	if err != nil {
		return fmt.Errorf("delete tracked item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete tracked item %s: %w", id, watch.ErrNotFound)
	}
	return nil
}

// Settings loads the settings singleton. A missing row yields zero settings,
// which fail validation.
func (s *ItemStore) Settings(ctx context.Context) (watch.Settings, error) {
	var (
		settings watch.Settings
		coolTime *int32
	)
	err := s.db.QueryRow(ctx, "SELECT token, chat_id, cool_time_seconds FROM settings WHERE id = 1;").
		Scan(&settings.Token, &settings.ChatID, &coolTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.Settings{}, nil
		}
		return watch.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if coolTime != nil {
		settings.CoolTime = time.Duration(*coolTime) * time.Second
	}
	return settings.WithDefaults(), nil
}

// Subscribe listens for trigger notifications, then replays the current items
// as Added events and follows live changes until ctx ends.
func (s *ItemStore) Subscribe(ctx context.Context) (<-chan watch.ChangeEvent, error) {
	if s.listen == nil {
		return nil, errors.New("item store has no listener")
	}
	source, err := s.listen(ctx, NotifyChannel)
	if err != nil {
		return nil, err
	}
	// LISTEN is active before the snapshot, so nothing falls in between.
	initial, err := s.List(ctx)
	if err != nil {
		source.Release()
		return nil, err
	}

	out := make(chan watch.ChangeEvent)
	go func() {
		defer close(out)
		defer source.Release()
		for _, item := range initial {
			if !send(ctx, out, watch.ChangeEvent{Kind: watch.ChangeAdded, ID: item.ID, Item: item}) {
				return
			}
		}
		for {
			n, err := source.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("tracked item notifications stopped", zap.Error(err))
				}
				return
			}
			evt, ok, err := s.resolve(ctx, n.Payload)
			if err != nil {
				s.logger.Warn("resolve tracked item notification failed",
					zap.String("payload", n.Payload),
					zap.Error(err),
				)
				continue
			}
			if ok && !send(ctx, out, evt) {
				return
			}
		}
	}()
	return out, nil
}

type notification struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

func (s *ItemStore) resolve(ctx context.Context, payload string) (watch.ChangeEvent, bool, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return watch.ChangeEvent{}, false, fmt.Errorf("decode notification: %w", err)
	}
	if n.Op == "DELETE" {
		return watch.ChangeEvent{Kind: watch.ChangeRemoved, ID: n.ID}, true, nil
	}
	item, found, err := s.Get(ctx, n.ID)
	if err != nil {
		return watch.ChangeEvent{}, false, err
	}
	if !found {
		// Deleted after the notification; the DELETE notification follows.
		return watch.ChangeEvent{}, false, nil
	}
	kind := watch.ChangeModified
	if n.Op == "INSERT" {
		kind = watch.ChangeAdded
	}
	return watch.ChangeEvent{Kind: kind, ID: n.ID, Item: item}, true, nil
}

func send(ctx context.Context, out chan<- watch.ChangeEvent, evt watch.ChangeEvent) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func scanItem(row pgx.Row) (watch.TrackedItem, error) {
	var (
		item   watch.TrackedItem
		target string
		since  *time.Time
	)
	err := row.Scan(
		&item.ID,
		&item.URL,
		&item.Name,
		&target,
		&item.RequireShippedByPlatform,
		&item.RequireSoldByPlatform,
		&item.Available,
		&since,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.TrackedItem{}, err
		}
		return watch.TrackedItem{}, fmt.Errorf("scan tracked item: %w", err)
	}
	price, err := decimal.NewFromString(target)
	if err != nil {
		return watch.TrackedItem{}, fmt.Errorf("parse target price of %s: %w", item.ID, err)
	}
	item.TargetPrice = price
	if since != nil {
		utc := since.UTC()
		item.AvailableSince = &utc
	}
	return item, nil
}
