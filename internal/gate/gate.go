// Package gate decides whether an item that was recently found available is
// still cooling down or is due for a fresh check.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// Action is the outcome of a gate decision.
type Action int

// Gate actions.
const (
	// Proceed runs a normal check.
	Proceed Action = iota
	// Skip leaves the page untouched for SleepHint.
	Skip
	// ResetAndProceed clears an expired cool-down and checks immediately.
	ResetAndProceed
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case ResetAndProceed:
		return "reset_and_proceed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision pairs an action with how long a Skip should sleep.
type Decision struct {
	Action    Action
	SleepHint time.Duration
}

// Updater persists merge-patches of a tracked item.
type Updater interface {
	Update(ctx context.Context, id string, patch watch.Patch) error
}

// Gate applies the availability cool-down rules.
type Gate struct {
	store    Updater
	coolTime time.Duration
	logger   *zap.Logger
}

// New constructs a Gate. A non-positive coolTime falls back to
// watch.DefaultCoolTime.
func New(store Updater, coolTime time.Duration, logger *zap.Logger) *Gate {
	if coolTime <= 0 {
		coolTime = watch.DefaultCoolTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, coolTime: coolTime, logger: logger}
}

// CoolTime reports the configured cool-down.
func (g *Gate) CoolTime() time.Duration {
	return g.coolTime
}

// Decide inspects item at now. It persists the state transitions it makes
// and mirrors them onto item; a failed write is logged and the decision
// stands, so the next cycle re-derives from whatever the store holds.
func (g *Gate) Decide(ctx context.Context, item *watch.TrackedItem, now time.Time) Decision {
	if !item.Available {
		return Decision{Action: Proceed}
	}

	if item.AvailableSince == nil {
		g.persist(ctx, item.ID, watch.StartCoolDown(now))
		since := now
		item.AvailableSince = &since
		return Decision{Action: Skip, SleepHint: g.coolTime}
	}

	elapsed := now.Sub(*item.AvailableSince)
	if elapsed < g.coolTime {
		return Decision{Action: Skip, SleepHint: g.coolTime - elapsed}
	}

	g.persist(ctx, item.ID, watch.ResetAvailability())
	item.Available = false
	item.AvailableSince = nil
	return Decision{Action: ResetAndProceed}
}

func (g *Gate) persist(ctx context.Context, id string, patch watch.Patch) {
	if err := g.store.Update(ctx, id, patch); err != nil {
		g.logger.Warn("persist availability state failed",
			zap.String("item_id", id),
			zap.Error(err),
		)
	}
}
