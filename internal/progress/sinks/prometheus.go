package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/offerwatch/internal/progress"
)

// PrometheusSink exports watcher progress via Prometheus: live watchers, check
// outcomes, check latency and matches per extraction strategy.
type PrometheusSink struct {
	watchersStarted prometheus.Counter
	watchersRunning prometheus.Gauge
	checks          *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	matches         *prometheus.CounterVec

	tracker *watcherTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		watchersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_watchers_started_total",
			Help: "Total item watchers started, including restarts.",
		}),
		watchersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offerwatch_watchers_running",
			Help: "Current number of running item watchers.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerwatch_checks_total",
			Help: "Completed watcher cycles partitioned by outcome.",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offerwatch_check_duration_seconds",
			Help:    "Wall time per watcher cycle partitioned by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerwatch_matches_total",
			Help: "Qualifying offers partitioned by extraction strategy.",
		}, []string{"strategy"}),
		tracker: newWatcherTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.watchersStarted,
		s.watchersRunning,
		s.checks,
		s.checkDuration,
		s.matches,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageWatcherStart:
		s.watchersStarted.Inc()
		s.tracker.start(evt.ItemID)
		s.watchersRunning.Inc()
	case progress.StageWatcherStop:
		if s.tracker.stop(evt.ItemID) {
			s.watchersRunning.Dec()
		}
	case progress.StageCheckDone:
		outcome := string(evt.Outcome)
		s.checks.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.checkDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Outcome == progress.OutcomeNotified {
			strategy := evt.Strategy
			if strategy == "" {
				strategy = "unknown"
			}
			s.matches.WithLabelValues(strategy).Inc()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// watcherTracker counts live watchers per item so a stray stop event cannot
// push the gauge below zero.
type watcherTracker struct {
	mu      sync.Mutex
	running map[string]int
}

func newWatcherTracker() *watcherTracker {
	return &watcherTracker{running: make(map[string]int)}
}

func (t *watcherTracker) start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running[id]++
}

func (t *watcherTracker) stop(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.running[id]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.running, id)
	} else {
		t.running[id] = n - 1
	}
	return true
}
