// Package server builds the offerwatch process from configuration and runs it
// until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/offerwatch/internal/api"
	"github.com/JakeFAU/offerwatch/internal/clock/system"
	"github.com/JakeFAU/offerwatch/internal/config"
	"github.com/JakeFAU/offerwatch/internal/fleet"
	"github.com/JakeFAU/offerwatch/internal/gate"
	"github.com/JakeFAU/offerwatch/internal/hash/sha256"
	"github.com/JakeFAU/offerwatch/internal/id/uuid"
	"github.com/JakeFAU/offerwatch/internal/notify"
	"github.com/JakeFAU/offerwatch/internal/notify/telegram"
	"github.com/JakeFAU/offerwatch/internal/offer"
	"github.com/JakeFAU/offerwatch/internal/page"
	"github.com/JakeFAU/offerwatch/internal/page/headless"
	"github.com/JakeFAU/offerwatch/internal/page/static"
	"github.com/JakeFAU/offerwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/offerwatch/internal/progress"
	progresssinks "github.com/JakeFAU/offerwatch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/offerwatch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/offerwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/offerwatch/internal/region"
	gcsstorage "github.com/JakeFAU/offerwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/offerwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/offerwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/offerwatch/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/offerwatch/internal/storage/sqlite"
	"github.com/JakeFAU/offerwatch/internal/store"
	"github.com/JakeFAU/offerwatch/internal/telemetry"
	"github.com/JakeFAU/offerwatch/internal/watch"
	"github.com/JakeFAU/offerwatch/internal/watcher"
)

const shutdownTimeout = 15 * time.Second

// ItemStore is a StateStore that operators can also write to.
type ItemStore interface {
	watch.StateStore
	Upsert(ctx context.Context, item watch.TrackedItem) error
	Delete(ctx context.Context, id string) error
}

type settingsSaver interface {
	SaveSettings(ctx context.Context, settings watch.Settings) error
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	items     ItemStore
	history   store.HistoryRepository
	ready     func(ctx context.Context) error
	fleet     *fleet.Supervisor
	apiServer *api.Server

	registerer prometheus.Registerer
	notifier   watch.Notifier
	// closers run in reverse registration order.
	closers []closer
}

// Option adjusts Build.
type Option func(*App)

// WithRegisterer registers the progress collectors on reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithNotifier sends alerts through n instead of the configured notifier.
func WithNotifier(n watch.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// Build creates the application's dependencies. On error everything built
// so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	built := false
	defer func() {
		if !built {
			app.close(context.Background())
		}
	}()

	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
		Region:      cfg.Telemetry.Region,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.onClose("telemetry", providers.Shutdown)

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}

	settings, err := app.items.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = settings.WithDefaults()

	notifier, err := app.setupNotifier(settings)
	if err != nil {
		return nil, err
	}

	sessions, err := NewPageFactory(cfg.Driver)
	if err != nil {
		return nil, err
	}
	app.onClose("page sessions", func(context.Context) error { return sessions.Close() })
	logger.Info("page driver ready", zap.String("kind", cfg.Driver.Kind))

	deps := watcher.Deps{
		Store:     app.items,
		Sessions:  sessions,
		Gate:      gate.New(app.items, settings.CoolTime, logger),
		Extractor: NewExtractor(cfg.Extractor, logger),
		Notifier:  notifier,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger,
	}
	if cfg.Driver.NavigationRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Driver.NavigationRPS,
			Burst: cfg.Driver.NavigationBurst,
		})
	}
	if cfg.Region.Enabled {
		setter, err := NewRegionSetter(cfg.Region, logger)
		if err != nil {
			return nil, err
		}
		deps.Region = setter
	}
	if err := app.setupPublisher(ctx, &deps); err != nil {
		return nil, err
	}
	if err := app.setupEvidence(ctx, &deps); err != nil {
		return nil, err
	}
	if err := app.setupProgress(ctx, &deps); err != nil {
		return nil, err
	}

	watcherCfg := watcher.Config{
		PollInterval:   cfg.Watcher.PollInterval,
		SettleDelay:    cfg.Watcher.SettleDelay,
		MinSkipSleep:   cfg.Watcher.MinSkipSleep,
		MaxSkipSleep:   cfg.Watcher.MaxSkipSleep,
		HitTopic:       cfg.PubSub.TopicID,
		EvidencePrefix: cfg.Evidence.Prefix,
	}
	newRunner := func(itemID string) (fleet.Runner, error) {
		w, err := watcher.New(itemID, deps, watcherCfg)
		if err != nil {
			return nil, fmt.Errorf("build watcher %s: %w", itemID, err)
		}
		return w, nil
	}
	app.fleet = fleet.New(app.items, newRunner, logger)

	app.apiServer = api.NewServer(api.Deps{
		Items:   app.items,
		Fleet:   app.fleet,
		History: app.history,
		Ready:   app.ready,
		Logger:  logger,
	}, cfg.Server.APIKey)

	logger.Info("application built",
		zap.String("store", cfg.Store.Backend),
		zap.Duration("poll_interval", watcherCfg.PollInterval),
		zap.Duration("cool_time", settings.CoolTime),
		zap.Bool("region", cfg.Region.Enabled),
		zap.String("notifier", cfg.Notifier.Kind),
	)
	built = true
	return app, nil
}

// Handler exposes the status API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the fleet and the status API and blocks until ctx is canceled,
// a signal arrives or the fleet fails. It always closes the App.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fleetErr := make(chan error, 1)
	go func() {
		a.logger.Info("fleet started")
		err := a.fleet.Run(ctx)
		if err != nil {
			a.logger.Error("fleet stopped", zap.Error(err))
			stop()
		}
		fleetErr <- err
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	// Watchers release their sessions before the factory and hub close.
	runErr := <-fleetErr
	a.close(shutdownCtx)
	a.logger.Info("shutdown complete")
	return runErr
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) setupStore(ctx context.Context) error {
	cfg := a.cfg.Store
	switch cfg.Backend {
	case config.StorePostgres:
		pool, err := pgstore.NewPool(ctx, pgstore.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return fmt.Errorf("postgres pool init failed: %w", err)
		}
		a.onClose("postgres pool", func(context.Context) error {
			pool.Close()
			return nil
		})
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.items = pgstore.NewItemStore(pool, a.logger)
		a.history = pgstore.NewHistoryStore(pool)
		a.ready = pool.Ping
		a.logger.Info("using postgres store")
	case config.StoreSQLite:
		db, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLitePath, PollInterval: cfg.PollInterval}, a.logger)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.onClose("sqlite store", func(context.Context) error { return db.Close() })
		a.items = db
		a.history = memorystorage.NewHistoryStore()
		a.logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
	default:
		mem := memorystorage.NewItemStore(a.cfg.Notifier.Settings())
		for _, decl := range a.cfg.Items {
			item, err := decl.TrackedItem()
			if err != nil {
				return err
			}
			if err := mem.Upsert(ctx, item); err != nil {
				return fmt.Errorf("seed item %s: %w", item.ID, err)
			}
		}
		a.items = mem
		a.history = memorystorage.NewHistoryStore()
		a.logger.Info("using in-memory store", zap.Int("items", len(a.cfg.Items)))
		return nil
	}

	// Credentials from config take precedence over an empty stored singleton.
	if saver, ok := a.items.(settingsSaver); ok && a.cfg.Notifier.Token != "" {
		if err := saver.SaveSettings(ctx, a.cfg.Notifier.Settings()); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	return nil
}

func (a *App) setupNotifier(settings watch.Settings) (watch.Notifier, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	if a.cfg.Notifier.Kind == config.NotifierLog {
		a.logger.Warn("dry run: notifications are logged, not sent")
		return notify.NewLogNotifier(a.logger), nil
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	n, err := telegram.New(telegram.Config{
		Token:     settings.Token,
		ChatID:    settings.ChatID,
		ServerURL: a.cfg.Notifier.ServerURL,
		Timeout:   a.cfg.Notifier.Timeout,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return n, nil
}

func (a *App) setupPublisher(ctx context.Context, deps *watcher.Deps) error {
	if a.cfg.PubSub.TopicID == "" {
		a.logger.Info("no Pub/Sub topic configured, hit publication disabled")
		return nil
	}
	if a.cfg.Notifier.Kind == config.NotifierLog {
		deps.Publisher = memorypublisher.New(a.logger.Named("publisher"))
		a.logger.Warn("dry run: hits are logged, not published", zap.String("topic", a.cfg.PubSub.TopicID))
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicID:   a.cfg.PubSub.TopicID,
	})
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub publisher", func(context.Context) error { return pub.Close() })
	deps.Publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicID),
	)
	return nil
}

func (a *App) setupEvidence(ctx context.Context, deps *watcher.Deps) error {
	cfg := a.cfg.Evidence
	switch cfg.Backend {
	case config.EvidenceGCS:
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs client", func(context.Context) error { return blobs.Close() })
		deps.Blobs = blobs
		a.logger.Info("using GCS evidence store", zap.String("bucket", cfg.GCSBucket))
	case config.EvidenceLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		deps.Blobs = blobs
		a.logger.Info("using local evidence store", zap.String("path", cfg.BaseDir))
	case config.EvidenceMemory:
		deps.Blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory evidence store")
	default:
		a.logger.Info("evidence snapshots disabled")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context, deps *watcher.Deps) error {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewStoreSink(a.history, a.logger.Named("progress_store")),
	}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		SinkTimeout:    cfg.SinkTimeout,
		HitWait:        cfg.HitWait,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	a.onClose("progress hub", hub.Close)
	deps.Progress = hub
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// NewPageFactory builds the configured session driver.
func NewPageFactory(cfg config.DriverConfig) (page.Factory, error) {
	if cfg.Kind == config.DriverStatic {
		return static.NewFactory(static.Config{
			UserAgent:      cfg.UserAgent,
			RequestTimeout: cfg.RequestTimeout,
		}), nil
	}
	f, err := headless.NewFactory(headless.Config{
		ExecPath:          cfg.ChromePath,
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout,
		ActionTimeout:     cfg.ActionTimeout,
		MaxParallel:       cfg.MaxParallel,
	})
	if err != nil {
		return nil, fmt.Errorf("headless driver init failed: %w", err)
	}
	return f, nil
}

// NewExtractor builds the offer extractor.
func NewExtractor(cfg config.ExtractorConfig, logger *zap.Logger) *offer.Extractor {
	return offer.New(offer.Config{
		WaitTimeout:         cfg.WaitTimeout,
		SettleDelay:         cfg.SettleDelay,
		ScrollDuration:      cfg.ScrollDuration,
		ScrollStep:          cfg.ScrollStep,
		Platform:            cfg.Platform,
		FallThroughOnReject: cfg.FallThroughOnReject,
	}, logger)
}

// NewRegionSetter builds the delivery-region step.
func NewRegionSetter(cfg config.RegionConfig, logger *zap.Logger) (*region.Setter, error) {
	s, err := region.NewSetter(region.Config{
		HomeURL:     cfg.HomeURL,
		PostalCode:  cfg.PostalCode,
		WaitTimeout: cfg.WaitTimeout,
		LoadDelay:   cfg.LoadDelay,
		StepDelay:   cfg.StepDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("region setter init failed: %w", err)
	}
	return s, nil
}
