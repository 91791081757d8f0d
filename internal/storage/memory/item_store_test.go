package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offerwatch/internal/store"
	"github.com/JakeFAU/offerwatch/internal/watch"
)

func newItem(id string) watch.TrackedItem {
	return watch.TrackedItem{
		ID:          id,
		URL:         "https://www.amazon.it/dp/" + id,
		Name:        "Item " + id,
		TargetPrice: decimal.NewFromInt(50),
	}
}

func next(t *testing.T, feed <-chan watch.ChangeEvent) watch.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-feed:
		require.True(t, ok, "feed closed early")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return watch.ChangeEvent{}
	}
}

func TestItemStoreCRUD(t *testing.T) {
	t.Parallel()

	s := NewItemStore(watch.Settings{Token: "t", ChatID: "c"})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newItem("b")))
	require.NoError(t, s.Upsert(ctx, newItem("a")))
	assert.Error(t, s.Upsert(ctx, watch.TrackedItem{ID: "bad"}))

	items, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)

	require.NoError(t, s.Update(ctx, "a", watch.Patch{Available: ptr(true)}))
	got, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Available)
	require.NotNil(t, got.AvailableSince, "marking available stamps the cool-down start")
	assert.True(t, fixed.Equal(*got.AvailableSince))

	require.NoError(t, s.Update(ctx, "a", watch.ResetAvailability()))
	got, _, _ = s.Get(ctx, "a")
	assert.False(t, got.Available)
	assert.Nil(t, got.AvailableSince)

	err = s.Update(ctx, "missing", watch.ResetAvailability())
	assert.True(t, errors.Is(err, watch.ErrNotFound))

	require.NoError(t, s.Delete(ctx, "a"))
	assert.True(t, errors.Is(s.Delete(ctx, "a"), watch.ErrNotFound))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", settings.Token)
}

func TestItemStoreSubscribe(t *testing.T) {
	t.Parallel()

	s := NewItemStore(watch.Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Upsert(ctx, newItem("a")))
	feed, err := s.Subscribe(ctx)
	require.NoError(t, err)

	evt := next(t, feed)
	assert.Equal(t, watch.ChangeAdded, evt.Kind)
	assert.Equal(t, "a", evt.ID)

	require.NoError(t, s.Upsert(ctx, newItem("b")))
	evt = next(t, feed)
	assert.Equal(t, watch.ChangeAdded, evt.Kind)
	assert.Equal(t, "b", evt.ID)

	changed := newItem("b")
	changed.TargetPrice = decimal.NewFromInt(40)
	require.NoError(t, s.Upsert(ctx, changed))
	require.NoError(t, s.Upsert(ctx, changed))
	evt = next(t, feed)
	assert.Equal(t, watch.ChangeModified, evt.Kind)
	assert.True(t, decimal.NewFromInt(40).Equal(evt.Item.TargetPrice))

	require.NoError(t, s.Delete(ctx, "a"))
	evt = next(t, feed)
	assert.Equal(t, watch.ChangeRemoved, evt.Kind)
	assert.Equal(t, "a", evt.ID)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-feed:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHistoryStoreListsNewestFirst(t *testing.T) {
	t.Parallel()

	h := NewHistoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []store.CheckRecord
	for i := range 3 {
		records = append(records, store.CheckRecord{
			CheckID:   uuid.New(),
			ItemID:    "a",
			CheckedAt: base.Add(time.Duration(i) * time.Minute),
			Outcome:   "not_qualified",
		})
	}
	require.NoError(t, h.RecordChecks(context.Background(), records))

	got, err := h.ListChecks(context.Background(), "a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CheckedAt.After(got[1].CheckedAt))

	none, err := h.ListChecks(context.Background(), "b", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ptr[T any](v T) *T { return &v }
