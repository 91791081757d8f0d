package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// DefaultPollInterval is used when PollFeed is given a non-positive interval.
const DefaultPollInterval = 10 * time.Second

// PollFeed emulates a push change feed by listing the collection every
// interval and diffing it against the last snapshot. The first snapshot is
// emitted as Added events. List failures after the first are logged and the
// previous snapshot is kept, so no spurious removals are produced. The
// channel closes when ctx ends.
func PollFeed(ctx context.Context, lister watch.Lister, interval time.Duration, logger *zap.Logger) (<-chan watch.ChangeEvent, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	initial, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial list: %w", err)
	}

	out := make(chan watch.ChangeEvent)
	go func() {
		defer close(out)
		seen := make(map[string]watch.TrackedItem, len(initial))
		if !emit(ctx, out, Diff(seen, initial)) {
			return
		}
		seen = index(initial)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			items, err := lister.List(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("poll tracked items failed", zap.Error(err))
				continue
			}
			if !emit(ctx, out, Diff(seen, items)) {
				return
			}
			seen = index(items)
		}
	}()
	return out, nil
}

// Diff computes the events that turn the previous snapshot into current.
// Added and Modified follow the order of current; Removed events follow.
func Diff(previous map[string]watch.TrackedItem, current []watch.TrackedItem) []watch.ChangeEvent {
	var events []watch.ChangeEvent
	present := make(map[string]struct{}, len(current))
	for _, item := range current {
		present[item.ID] = struct{}{}
		old, ok := previous[item.ID]
		switch {
		case !ok:
			events = append(events, watch.ChangeEvent{Kind: watch.ChangeAdded, ID: item.ID, Item: item.Clone()})
		case !old.Equal(item):
			events = append(events, watch.ChangeEvent{Kind: watch.ChangeModified, ID: item.ID, Item: item.Clone()})
		}
	}
	var removed []string
	for id := range previous {
		if _, ok := present[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	for _, id := range removed {
		events = append(events, watch.ChangeEvent{Kind: watch.ChangeRemoved, ID: id})
	}
	return events
}

func index(items []watch.TrackedItem) map[string]watch.TrackedItem {
	out := make(map[string]watch.TrackedItem, len(items))
	for _, item := range items {
		out[item.ID] = item.Clone()
	}
	return out
}

func emit(ctx context.Context, out chan<- watch.ChangeEvent, events []watch.ChangeEvent) bool {
	for _, evt := range events {
		select {
		case out <- evt:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
