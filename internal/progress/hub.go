package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - HitWait: how long Emit may block for buffer space on a notified check (default 250ms).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	HitWait        time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	defaultHitWait        = 250 * time.Millisecond
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.HitWait < 0 {
		c.HitWait = 0
	} else if c.HitWait == 0 {
		c.HitWait = defaultHitWait
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats counts events accepted and dropped since the Hub started.
type Stats struct {
	Emitted int64
	Dropped int64
}

// Hub batches watcher events and fans them out to sinks. Emit never blocks
// for routine events; a notified check may wait up to HitWait for buffer
// space and is flushed as soon as it is dequeued.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	emitted     atomic.Int64
	dropped     atomic.Int64
	unreported  atomic.Int64
	dropLimiter rateLimiter
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine for the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      cfg.Logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event. Invalid events and events sent after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.emitted.Add(1)
		return
	default:
	}
	if evt.IsHit() && h.cfg.HitWait > 0 {
		timer := time.NewTimer(h.cfg.HitWait)
		defer timer.Stop()
		select {
		case h.events <- evt:
			h.emitted.Add(1)
			return
		case <-timer.C:
		case <-h.stopCh:
		}
	}
	h.drop(evt)
}

func (h *Hub) drop(evt Event) {
	h.dropped.Add(1)
	h.unreported.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		h.logger.Warn("progress events dropped due to backpressure",
			zap.Int64("dropped", h.unreported.Swap(0)),
			zap.String("last_item_id", evt.ItemID),
			zap.String("last_stage", string(evt.Stage)),
		)
	}
}

// Stats reports the Hub's counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{Emitted: h.emitted.Load(), Dropped: h.dropped.Load()}
}

// Close drains buffered events, flushes and closes sinks, and waits for the
// batching goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		stats := h.Stats()
		h.logger.Debug("progress hub closed",
			zap.Int64("emitted", stats.Emitted),
			zap.Int64("dropped", stats.Dropped),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batcher is the state owned by the run goroutine.
type batcher struct {
	hub     *Hub
	pending []Event
	timer   *time.Timer
	armed   bool
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batcher{
		hub:     h,
		pending: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:   time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.disarm()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C:
			b.armed = false
			b.flush()
		case <-h.stopCh:
			b.disarm()
			b.drain()
			h.closeSinks()
			return
		}
	}
}

func (b *batcher) add(evt Event) {
	b.pending = append(b.pending, evt)
	if evt.IsHit() || len(b.pending) >= b.hub.cfg.MaxBatchEvents {
		b.disarm()
		b.flush()
		return
	}
	if !b.armed {
		b.timer.Reset(b.hub.cfg.MaxBatchWait)
		b.armed = true
	}
}

func (b *batcher) drain() {
	for {
		select {
		case evt := <-b.hub.events:
			b.pending = append(b.pending, evt)
			if len(b.pending) >= b.hub.cfg.MaxBatchEvents {
				b.flush()
			}
		default:
			b.flush()
			return
		}
	}
}

func (b *batcher) disarm() {
	if !b.timer.Stop() && b.armed {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (b *batcher) flush() {
	if len(b.pending) == 0 {
		return
	}
	b.hub.deliver(append([]Event(nil), b.pending...))
	b.pending = b.pending[:0]
}

func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
