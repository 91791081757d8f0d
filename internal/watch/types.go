// Package watch defines the domain types and collaborator interfaces shared by
// the watcher, the supervisor and the store implementations.
package watch

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoolTime applies when the settings record carries no cool_time.
const DefaultCoolTime = 300 * time.Second

// ErrNotFound signals that a tracked item record does not exist.
var ErrNotFound = errors.New("tracked item not found")

// TrackedItem is an operator-configured product page plus its purchase
// constraints and current availability state.
type TrackedItem struct {
	ID                       string          `json:"id"`
	URL                      string          `json:"url"`
	Name                     string          `json:"name"`
	TargetPrice              decimal.Decimal `json:"target_price"`
	RequireShippedByPlatform bool            `json:"check_shipped"`
	RequireSoldByPlatform    bool            `json:"check_sold"`
	Available                bool            `json:"available"`
	// AvailableSince is non-nil only while a cool-down is in progress.
	AvailableSince *time.Time `json:"available_since,omitempty"`
}

// ItemSpec is the operator-controlled part of a TrackedItem.
type ItemSpec struct {
	URL                      string
	Name                     string
	TargetPrice              string
	RequireShippedByPlatform bool
	RequireSoldByPlatform    bool
}

// Spec extracts the operator-controlled fields. Two items with equal specs
// only differ in watcher-written availability state.
func (t TrackedItem) Spec() ItemSpec {
	return ItemSpec{
		URL:                      t.URL,
		Name:                     t.Name,
		TargetPrice:              t.TargetPrice.String(),
		RequireShippedByPlatform: t.RequireShippedByPlatform,
		RequireSoldByPlatform:    t.RequireSoldByPlatform,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (t TrackedItem) Clone() TrackedItem {
	cp := t
	if t.AvailableSince != nil {
		since := *t.AvailableSince
		cp.AvailableSince = &since
	}
	return cp
}

// Equal reports whether two items hold the same values.
func (t TrackedItem) Equal(o TrackedItem) bool {
	if t.ID != o.ID || t.Spec() != o.Spec() || t.Available != o.Available {
		return false
	}
	switch {
	case t.AvailableSince == nil || o.AvailableSince == nil:
		return t.AvailableSince == nil && o.AvailableSince == nil
	default:
		return t.AvailableSince.Equal(*o.AvailableSince)
	}
}

// Validate checks the fields an operator must provide.
func (t TrackedItem) Validate() error {
	if t.ID == "" {
		return errors.New("item id is required")
	}
	if t.URL == "" {
		return fmt.Errorf("item %s: url is required", t.ID)
	}
	if t.TargetPrice.IsNegative() {
		return fmt.Errorf("item %s: target price must be >= 0", t.ID)
	}
	return nil
}

// Settings is the persisted configuration singleton.
type Settings struct {
	Token    string        `json:"token"`
	ChatID   string        `json:"chat_id"`
	CoolTime time.Duration `json:"cool_time"`
}

// Validate fails when notification credentials are missing.
func (s Settings) Validate() error {
	if s.Token == "" || s.ChatID == "" {
		return errors.New("missing token/chat_id in settings")
	}
	if s.CoolTime < 0 {
		return errors.New("cool_time must be >= 0")
	}
	return nil
}

// WithDefaults fills in an absent cool-down.
func (s Settings) WithDefaults() Settings {
	if s.CoolTime == 0 {
		s.CoolTime = DefaultCoolTime
	}
	return s
}

// Offer is a single priced listing read from a product page. It is never
// persisted.
type Offer struct {
	Price     decimal.Decimal `json:"price"`
	ShipsFrom string          `json:"ships_from"`
	SoldBy    string          `json:"sold_by"`
}

// Patch is a merge-patch over the watcher-owned fields of a TrackedItem.
// Nil pointers leave a field untouched; DeleteAvailableSince removes the
// timestamp.
type Patch struct {
	Available            *bool
	AvailableSince       *time.Time
	DeleteAvailableSince bool
}

// MarkAvailable records a hit observed at the given instant.
func MarkAvailable(at time.Time) Patch {
	available := true
	return Patch{Available: &available, AvailableSince: &at}
}

// StartCoolDown stamps the cool-down start of an already available item.
func StartCoolDown(at time.Time) Patch {
	return Patch{AvailableSince: &at}
}

// ResetAvailability clears availability and its timestamp.
func ResetAvailability() Patch {
	available := false
	return Patch{Available: &available, DeleteAvailableSince: true}
}

// Validate rejects contradictory patches.
func (p Patch) Validate() error {
	if p.AvailableSince != nil && p.DeleteAvailableSince {
		return errors.New("patch both sets and deletes available_since")
	}
	if p.Available == nil && p.AvailableSince == nil && !p.DeleteAvailableSince {
		return errors.New("empty patch")
	}
	return nil
}

// Normalize applies the implicit rule that marking an item available without
// a timestamp stamps it with now.
func (p Patch) Normalize(now time.Time) Patch {
	if p.Available != nil && *p.Available && p.AvailableSince == nil && !p.DeleteAvailableSince {
		at := now
		p.AvailableSince = &at
	}
	return p
}

// Apply merges the patch into a copy of item.
func (p Patch) Apply(item TrackedItem) TrackedItem {
	out := item.Clone()
	if p.Available != nil {
		out.Available = *p.Available
	}
	switch {
	case p.DeleteAvailableSince:
		out.AvailableSince = nil
	case p.AvailableSince != nil:
		since := *p.AvailableSince
		out.AvailableSince = &since
	}
	return out
}

// ChangeKind classifies a change feed event.
type ChangeKind string

// Change kinds emitted by StateStore.Subscribe.
const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is a single membership change of the tracked-item collection.
// Item is the zero value for removals.
type ChangeEvent struct {
	Kind ChangeKind
	ID   string
	Item TrackedItem
}
