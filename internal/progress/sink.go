package progress

import "context"

// Sink consumes batches of watcher events. Consume may be called repeatedly
// and must honor ctx deadlines; Close is called once when the Hub shuts down.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Watchers depend on it instead of the Hub so
// tests can record events directly.
type Emitter interface {
	Emit(evt Event)
}
