// Package watcher implements the per-item check loop: gate, delivery region,
// navigation, offer extraction, persistence and notification.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/gate"
	"github.com/JakeFAU/offerwatch/internal/metrics"
	"github.com/JakeFAU/offerwatch/internal/notify"
	"github.com/JakeFAU/offerwatch/internal/offer"
	"github.com/JakeFAU/offerwatch/internal/page"
	"github.com/JakeFAU/offerwatch/internal/progress"
	"github.com/JakeFAU/offerwatch/internal/watch"
)

const tracerName = "github.com/JakeFAU/offerwatch/internal/watcher"

// extractSeconds is resolved through the global meter provider, so it starts
// exporting once telemetry installs one.
var extractSeconds, _ = otel.Meter(tracerName).Float64Histogram(
	"offerwatch.extract.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Time spent evaluating offers on a loaded page."),
)

// Defaults applied by New when Config leaves a field zero.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultSettleDelay  = 4 * time.Second
	DefaultMinSkipSleep = time.Second
)

// Config controls Watcher pacing and the optional hit side channels.
type Config struct {
	// PollInterval is the pause after every cycle that did not produce a hit.
	PollInterval time.Duration
	// SettleDelay is the pause between navigation and extraction.
	SettleDelay time.Duration
	// MinSkipSleep and MaxSkipSleep bound the pause while cooling down.
	// MaxSkipSleep defaults to PollInterval.
	MinSkipSleep time.Duration
	MaxSkipSleep time.Duration
	// HitTopic enables hit publication when a Publisher is configured.
	HitTopic string
	// EvidencePrefix is prepended to snapshot object paths.
	EvidencePrefix string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.MinSkipSleep <= 0 {
		c.MinSkipSleep = DefaultMinSkipSleep
	}
	if c.MaxSkipSleep <= 0 {
		c.MaxSkipSleep = c.PollInterval
	}
	if c.MaxSkipSleep < c.MinSkipSleep {
		c.MaxSkipSleep = c.MinSkipSleep
	}
	return c
}

// Gate decides whether a cycle should touch the page.
type Gate interface {
	Decide(ctx context.Context, item *watch.TrackedItem, now time.Time) gate.Decision
	CoolTime() time.Duration
}

// Evaluator reads the offer verdict from the loaded page.
type Evaluator interface {
	Evaluate(ctx context.Context, s page.Session, item watch.TrackedItem) (offer.Verdict, error)
}

// RegionSetter pins the delivery location of a session.
type RegionSetter interface {
	Ensure(ctx context.Context, s page.Session) (bool, error)
}

// NavigationLimiter paces page loads shared across watchers.
type NavigationLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the collaborators shared by every watcher of a fleet. Store,
// Sessions, Gate, Extractor and Notifier are required; the rest are optional.
type Deps struct {
	Store     watch.StateStore
	Sessions  page.Factory
	Gate      Gate
	Extractor Evaluator
	Notifier  watch.Notifier
	Region    RegionSetter
	Limiter   NavigationLimiter
	Publisher watch.Publisher
	Blobs     watch.BlobStore
	Hasher    watch.Hasher
	Clock     watch.Clock
	IDs       watch.IDGenerator
	Progress  progress.Emitter
	Logger    *zap.Logger
}

// Validate reports missing required collaborators.
func (d Deps) Validate() error {
	switch {
	case d.Store == nil:
		return errors.New("state store is required")
	case d.Sessions == nil:
		return errors.New("session factory is required")
	case d.Gate == nil:
		return errors.New("gate is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.Notifier == nil:
		return errors.New("notifier is required")
	case d.Blobs != nil && d.Hasher == nil:
		return errors.New("hasher is required when evidence is stored")
	}
	return nil
}

// Watcher owns one page session and checks one tracked item until the item
// disappears or its context ends.
type Watcher struct {
	id     string
	deps   Deps
	cfg    Config
	logger *zap.Logger

	session page.Session
	state   atomic.Value
}

// New builds a Watcher for itemID.
func New(itemID string, deps Deps, cfg Config) (*Watcher, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, errors.New("item id is required")
	}
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	w := &Watcher{
		id:     itemID,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.Named("watcher").With(zap.String("item_id", itemID)),
	}
	w.state.Store(StateIdle)
	return w, nil
}

// ItemID returns the id of the watched item.
func (w *Watcher) ItemID() string {
	return w.id
}

// State reports the cycle phase the watcher is in.
func (w *Watcher) State() State {
	return w.state.Load().(State)
}

func (w *Watcher) setState(s State) {
	w.state.Store(s)
}

// Run loops until the item record is gone or ctx ends. The page session is
// released on every exit path.
func (w *Watcher) Run(ctx context.Context) {
	started := w.deps.Clock.Now()
	w.emit(progress.Event{Stage: progress.StageWatcherStart, TS: started})
	w.logger.Info("watcher started")
	defer func() {
		w.closeSession()
		w.setState(StateStopped)
		stopped := w.deps.Clock.Now()
		w.emit(progress.Event{Stage: progress.StageWatcherStop, TS: stopped, Dur: stopped.Sub(started)})
		w.logger.Info("watcher stopped")
	}()

	for {
		wait, stop := w.cycle(ctx)
		if stop || ctx.Err() != nil {
			return
		}
		w.setState(StateIdle)
		if err := page.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// cycle runs one pass and returns how long to pause before the next.
func (w *Watcher) cycle(ctx context.Context) (time.Duration, bool) {
	began := w.deps.Clock.Now()
	item, ok, err := w.deps.Store.Get(ctx, w.id)
	if err != nil {
		if ctx.Err() != nil {
			return 0, true
		}
		w.logger.Warn("load item failed", zap.Error(err))
		w.record(began, progress.OutcomeErrored, offer.Verdict{}, err.Error())
		return w.cfg.PollInterval, false
	}
	if !ok {
		w.logger.Info("item no longer tracked")
		return 0, true
	}

	decision := w.deps.Gate.Decide(ctx, &item, began)
	if decision.Action == gate.Skip {
		w.setState(StateSkipped)
		wait := w.clampSkip(decision.SleepHint)
		w.logger.Debug("cooling down", zap.Duration("sleep", wait))
		w.record(began, progress.OutcomeSkipped, offer.Verdict{}, "cooling down")
		return wait, false
	}
	if decision.Action == gate.ResetAndProceed {
		w.logger.Info("cool-down expired; re-checking")
	}

	res := w.check(ctx, item)
	if ctx.Err() != nil {
		return 0, true
	}
	switch res.outcome {
	case outcomeGone:
		w.logger.Info("item removed during check")
		return 0, true
	case progress.OutcomeNotified:
		w.setState(StateNotified)
		w.record(began, res.outcome, res.verdict, "")
		return w.deps.Gate.CoolTime(), false
	case progress.OutcomeNotQualified:
		w.setState(StateNotQualified)
		w.record(began, res.outcome, res.verdict, res.verdict.Reason)
	default:
		w.setState(StateErrored)
		w.record(began, progress.OutcomeErrored, res.verdict, errText(res.err))
	}
	return w.cfg.PollInterval, false
}

const outcomeGone progress.Outcome = "gone"

type checkResult struct {
	outcome progress.Outcome
	verdict offer.Verdict
	err     error
}

// check drives the page for one Proceed decision.
func (w *Watcher) check(ctx context.Context, item watch.TrackedItem) (res checkResult) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "watcher.check")
	span.SetAttributes(attribute.String("item.id", item.ID), attribute.String("item.url", item.URL))
	defer func() {
		span.SetAttributes(attribute.String("check.outcome", string(res.outcome)))
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
		}
		span.End()
	}()

	s, err := w.acquireSession(ctx)
	if err != nil {
		w.logger.Warn("open page session failed", zap.Error(err))
		return checkResult{outcome: progress.OutcomeErrored, err: err}
	}

	w.setState(StateRegionCheck)
	if w.deps.Region != nil {
		changed, err := w.deps.Region.Ensure(ctx, s)
		switch {
		case err != nil && w.fatal(ctx, err):
			return checkResult{outcome: progress.OutcomeErrored, err: err}
		case err != nil:
			w.logger.Warn("set delivery region failed", zap.Error(err))
		case changed:
			w.logger.Info("delivery region updated")
		}
	}

	w.setState(StateChecking)
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, item.URL); err != nil {
			return checkResult{outcome: progress.OutcomeErrored, err: err}
		}
	}
	w.logger.Debug("loading page", zap.String("url", item.URL))
	if err := s.Navigate(ctx, item.URL); err != nil {
		w.fatal(ctx, err)
		w.logger.Warn("navigate failed", zap.String("url", item.URL), zap.Error(err))
		return checkResult{outcome: progress.OutcomeErrored, err: fmt.Errorf("navigate: %w", err)}
	}
	if err := page.Sleep(ctx, w.cfg.SettleDelay); err != nil {
		return checkResult{outcome: progress.OutcomeErrored, err: err}
	}

	started := time.Now()
	verdict, err := w.deps.Extractor.Evaluate(ctx, s, item)
	extractSeconds.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.Bool("matched", verdict.Matched)))
	if err != nil {
		w.fatal(ctx, err)
		w.logger.Warn("evaluate offers failed", zap.Error(err))
		return checkResult{outcome: progress.OutcomeErrored, err: err}
	}
	if !verdict.Matched {
		w.logger.Info("no qualifying offer",
			zap.String("strategy", verdict.Strategy),
			zap.String("reason", verdict.Reason),
		)
		return checkResult{outcome: progress.OutcomeNotQualified, verdict: verdict}
	}
	return w.onMatch(ctx, s, item, verdict)
}

// onMatch persists the hit, then notifies. A failed write skips the
// notification so the next cycle repeats the check instead of re-notifying
// from a state the store never saw.
func (w *Watcher) onMatch(ctx context.Context, s page.Session, item watch.TrackedItem, v offer.Verdict) checkResult {
	now := w.deps.Clock.Now()
	if err := w.deps.Store.Update(ctx, item.ID, watch.MarkAvailable(now)); err != nil {
		if errors.Is(err, watch.ErrNotFound) {
			return checkResult{outcome: outcomeGone, verdict: v}
		}
		w.logger.Error("persist availability failed", zap.Error(err))
		return checkResult{outcome: progress.OutcomeErrored, verdict: v, err: fmt.Errorf("persist availability: %w", err)}
	}

	w.logger.Info("qualifying offer found",
		zap.String("strategy", v.Strategy),
		zap.String("price", v.Offer.Price.StringFixed(2)),
		zap.String("ships_from", v.Offer.ShipsFrom),
		zap.String("sold_by", v.Offer.SoldBy),
	)
	if err := w.deps.Notifier.Send(ctx, notify.FormatMatch(item, v.Offer)); err != nil {
		metrics.ObserveNotification(false)
		w.logger.Error("send notification failed", zap.Error(err))
	} else {
		metrics.ObserveNotification(true)
	}

	uri := w.storeEvidence(ctx, s, item)
	w.publishHit(ctx, item, v, uri, now)
	return checkResult{outcome: progress.OutcomeNotified, verdict: v}
}

func (w *Watcher) storeEvidence(ctx context.Context, s page.Session, item watch.TrackedItem) string {
	if w.deps.Blobs == nil {
		return ""
	}
	html, err := s.HTML(ctx)
	if err != nil {
		w.logger.Warn("capture page html failed", zap.Error(err))
		return ""
	}
	hash, err := w.deps.Hasher.Hash([]byte(html))
	if err != nil {
		w.logger.Warn("hash page html failed", zap.Error(err))
		return ""
	}
	uri, err := w.deps.Blobs.PutObject(ctx, w.evidencePath(item.ID, hash), "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		w.logger.Warn("store evidence failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Watcher) evidencePath(itemID, hash string) string {
	prefix := strings.Trim(w.cfg.EvidencePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", itemID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, itemID, hash)
}

func (w *Watcher) publishHit(ctx context.Context, item watch.TrackedItem, v offer.Verdict, uri string, at time.Time) {
	if w.cfg.HitTopic == "" || w.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"item_id":      item.ID,
		"name":         item.Name,
		"url":          item.URL,
		"price":        v.Offer.Price.String(),
		"target_price": item.TargetPrice.String(),
		"ships_from":   v.Offer.ShipsFrom,
		"sold_by":      v.Offer.SoldBy,
		"strategy":     v.Strategy,
		"timestamp":    at.Format(time.RFC3339),
	}
	if uri != "" {
		payload["evidence_uri"] = uri
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.HitTopic, payload)
	if err != nil {
		w.logger.Warn("publish hit failed", zap.Error(err))
		return
	}
	w.logger.Debug("hit published", zap.String("message_id", id))
}

func (w *Watcher) acquireSession(ctx context.Context) (page.Session, error) {
	if w.session != nil {
		return w.session, nil
	}
	s, err := w.deps.Sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("new page session: %w", err)
	}
	metrics.ObserveSessionOpened()
	w.session = s
	return s, nil
}

// fatal drops the session when err means the driver is gone, so the next
// cycle starts a fresh one.
func (w *Watcher) fatal(ctx context.Context, err error) bool {
	if errors.Is(err, page.ErrSessionLost) {
		w.logger.Warn("page session lost; recreating next cycle", zap.Error(err))
		metrics.ObserveSessionLost()
		w.closeSession()
		return true
	}
	return ctx.Err() != nil
}

func (w *Watcher) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.logger.Debug("close page session", zap.Error(err))
	}
	w.session = nil
}

func (w *Watcher) clampSkip(hint time.Duration) time.Duration {
	return min(max(hint, w.cfg.MinSkipSleep), w.cfg.MaxSkipSleep)
}

func (w *Watcher) record(began time.Time, outcome progress.Outcome, v offer.Verdict, note string) {
	now := w.deps.Clock.Now()
	evt := progress.Event{
		CheckID:  progress.UUIDToBytes(w.newCheckID()),
		TS:       now,
		Stage:    progress.StageCheckDone,
		Outcome:  outcome,
		Strategy: v.Strategy,
		Dur:      max(now.Sub(began), 0),
		Note:     note,
	}
	if !v.Offer.Price.IsZero() {
		evt.Price = v.Offer.Price.String()
	}
	w.emit(evt)
}

func (w *Watcher) emit(evt progress.Event) {
	if w.deps.Progress == nil {
		return
	}
	evt.ItemID = w.id
	w.deps.Progress.Emit(evt)
}

func (w *Watcher) newCheckID() uuid.UUID {
	if w.deps.IDs != nil {
		if id, err := w.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return uuid.New()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
