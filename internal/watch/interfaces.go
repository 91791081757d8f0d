package watch

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// StateStore is the shared document store holding tracked items and settings.
type StateStore interface {
	// List returns a snapshot of every tracked item ordered by id.
	List(ctx context.Context) ([]TrackedItem, error)
	// Get loads one item; ok is false when the record does not exist.
	Get(ctx context.Context, id string) (item TrackedItem, ok bool, err error)
	// Update applies a merge-patch; it returns ErrNotFound for missing records.
	Update(ctx context.Context, id string, patch Patch) error
	// Subscribe emits Added for every existing item, then live changes until
	// ctx ends, at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
	// Settings loads the configuration singleton.
	Settings(ctx context.Context) (Settings, error)
}

// Lister is the read-only subset used by polling change feeds.
type Lister interface {
	List(ctx context.Context) ([]TrackedItem, error)
}

// Notifier delivers operator-facing text messages.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Publisher pushes hit events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes evidence artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests used for evidence object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for checks.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
