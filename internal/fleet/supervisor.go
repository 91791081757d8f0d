// Package fleet keeps exactly one watcher task running per tracked item by
// mirroring the store's change feed.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/watch"
	"github.com/JakeFAU/offerwatch/internal/watcher"
)

// Runner is one item's watch loop.
type Runner interface {
	Run(ctx context.Context)
	State() watcher.State
}

// NewRunnerFunc builds the runner for an item id.
type NewRunnerFunc func(itemID string) (Runner, error)

// Subscriber is the change-feed part of watch.StateStore.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan watch.ChangeEvent, error)
}

type task struct {
	spec   watch.ItemSpec
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor starts, replaces and cancels runners as items come and go.
type Supervisor struct {
	source    Subscriber
	newRunner NewRunnerFunc
	logger    *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	// stopping holds removed tasks that have not returned yet.
	stopping map[string]*task
	wg       sync.WaitGroup
}

// New creates a Supervisor.
func New(source Subscriber, newRunner NewRunnerFunc, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		source:    source,
		newRunner: newRunner,
		logger:    logger.Named("fleet"),
		tasks:     make(map[string]*task),
		stopping:  make(map[string]*task),
	}
}

// Run consumes the change feed until ctx ends, then cancels every task and
// waits for all of them to return.
func (s *Supervisor) Run(ctx context.Context) error {
	feed, err := s.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to tracked items: %w", err)
	}
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-feed:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("tracked item feed closed")
			}
			s.handle(ctx, evt)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, evt watch.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := s.logger.With(zap.String("item_id", evt.ID), zap.String("kind", string(evt.Kind)))

	current := s.tasks[evt.ID]
	switch evt.Kind {
	case watch.ChangeAdded, watch.ChangeModified:
		spec := evt.Item.Spec()
		if current != nil && current.spec == spec {
			// State-only writes come from the watcher itself.
			return
		}
		prev := current
		if current != nil {
			logger.Info("item modified; replacing watcher")
			current.cancel()
		} else {
			logger.Info("starting watcher")
			prev = s.stopping[evt.ID]
		}
		s.start(ctx, evt.ID, spec, prev)
	case watch.ChangeRemoved:
		if current == nil {
			return
		}
		logger.Info("item removed; stopping watcher")
		current.cancel()
		delete(s.tasks, evt.ID)
		s.stopping[evt.ID] = current
	default:
		logger.Warn("unknown change kind")
	}
}

// start launches a runner for id. When prev is set the new runner waits for
// it to return so two sessions never serve the same item at once. A task's
// done channel closes only after its own prev has returned. Callers hold s.mu.
func (s *Supervisor) start(ctx context.Context, id string, spec watch.ItemSpec, prev *task) {
	runner, err := s.newRunner(id)
	if err != nil {
		s.logger.Error("build watcher failed", zap.String("item_id", id), zap.Error(err))
		delete(s.tasks, id)
		if prev != nil && !isDone(prev) {
			s.stopping[id] = prev
		}
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{spec: spec, runner: runner, cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer cancel()
		defer s.finished(id, t)
		if prev != nil {
			<-prev.done
			if taskCtx.Err() != nil {
				return
			}
		}
		runner.Run(taskCtx)
	}()
}

// finished drops the handle of a task that returned on its own.
func (s *Supervisor) finished(id string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping[id] == t {
		delete(s.stopping, id)
	}
	if s.tasks[id] == t {
		delete(s.tasks, id)
		s.logger.Info("watcher exited", zap.String("item_id", id))
	}
}

func isDone(t *task) bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Active returns the ids with a live task, sorted.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Status reports the state of the live task for id.
func (s *Supervisor) Status(id string) (watcher.State, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return t.runner.State(), true
}
