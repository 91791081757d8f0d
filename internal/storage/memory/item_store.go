package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// ItemStore is an in-memory watch.StateStore with a push change feed. It
// backs development runs and tests.
type ItemStore struct {
	mu       sync.RWMutex
	items    map[string]watch.TrackedItem
	settings watch.Settings
	subs     map[*subscriber]struct{}
	now      func() time.Time
}

// NewItemStore constructs an empty ItemStore holding settings.
func NewItemStore(settings watch.Settings) *ItemStore {
	return &ItemStore{
		items:    make(map[string]watch.TrackedItem),
		settings: settings,
		subs:     make(map[*subscriber]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts an item or replaces its operator fields, emitting Added or
// Modified. Availability state is only taken from item on insert.
func (s *ItemStore) Upsert(_ context.Context, item watch.TrackedItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("upsert tracked item: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, exists := s.items[item.ID]
	if exists {
		item.Available = old.Available
		item.AvailableSince = old.AvailableSince
	}
	s.items[item.ID] = item.Clone()
	switch {
	case !exists:
		s.publish(watch.ChangeEvent{Kind: watch.ChangeAdded, ID: item.ID, Item: item.Clone()})
	case !old.Equal(item):
		s.publish(watch.ChangeEvent{Kind: watch.ChangeModified, ID: item.ID, Item: item.Clone()})
	}
	return nil
}

// Delete removes an item, emitting Removed.
func (s *ItemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("delete tracked item %s: %w", id, watch.ErrNotFound)
	}
	delete(s.items, id)
	s.publish(watch.ChangeEvent{Kind: watch.ChangeRemoved, ID: id})
	return nil
}

// SetSettings replaces the settings singleton.
func (s *ItemStore) SetSettings(settings watch.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// List returns every item ordered by id.
func (s *ItemStore) List(_ context.Context) ([]watch.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

// Get loads one item.
func (s *ItemStore) Get(_ context.Context, id string) (watch.TrackedItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return watch.TrackedItem{}, false, nil
	}
	return item.Clone(), true, nil
}

// Update merges patch into the stored item.
func (s *ItemStore) Update(_ context.Context, id string, patch watch.Patch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("update item %s: %w", id, watch.ErrNotFound)
	}
	updated := patch.Normalize(s.now()).Apply(item)
	s.items[id] = updated
	if !item.Equal(updated) {
		s.publish(watch.ChangeEvent{Kind: watch.ChangeModified, ID: id, Item: updated.Clone()})
	}
	return nil
}

// Settings returns the settings singleton.
func (s *ItemStore) Settings(_ context.Context) (watch.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// Subscribe registers a change feed. The current items are replayed as
// Added events before any live change.
func (s *ItemStore) Subscribe(ctx context.Context) (<-chan watch.ChangeEvent, error) {
	sub := newSubscriber()
	s.mu.Lock()
	for _, item := range s.snapshot() {
		sub.push(watch.ChangeEvent{Kind: watch.ChangeAdded, ID: item.ID, Item: item})
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	out := make(chan watch.ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
		}()
		sub.deliver(ctx, out)
	}()
	return out, nil
}

func (s *ItemStore) snapshot() []watch.TrackedItem {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]watch.TrackedItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// publish must be called with s.mu held.
func (s *ItemStore) publish(evt watch.ChangeEvent) {
	for sub := range s.subs {
		sub.push(evt)
	}
}

// subscriber queues events without bounding so writers never block on a
// slow reader.
type subscriber struct {
	mu      sync.Mutex
	pending []watch.ChangeEvent
	signal  chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{signal: make(chan struct{}, 1)}
}

func (s *subscriber) push(evt watch.ChangeEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []watch.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *subscriber) deliver(ctx context.Context, out chan<- watch.ChangeEvent) {
	for {
		for _, evt := range s.drain() {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-s.signal:
		case <-ctx.Done():
			return
		}
	}
}
