// Package config loads and validates offerwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/JakeFAU/offerwatch/internal/watch"
)

// Backends and drivers understood by the wiring in cmd/offerwatch.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	DriverHeadless = "headless"
	DriverStatic   = "static"

	NotifierTelegram = "telegram"
	NotifierLog      = "log"

	EvidenceNone   = "none"
	EvidenceMemory = "memory"
	EvidenceLocal  = "local"
	EvidenceGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Region    RegionConfig    `mapstructure:"region"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	// Items seeds the memory backend.
	Items []ItemConfig `mapstructure:"items"`
}

// StoreConfig selects and configures the tracked-item store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	// MaxConns caps the Postgres pool.
	MaxConns   int32  `mapstructure:"max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
	// PollInterval paces the change feed of stores without push support.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DriverConfig configures page sessions.
type DriverConfig struct {
	Kind              string        `mapstructure:"kind"`
	ChromePath        string        `mapstructure:"chrome_path"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	// NavigationRPS caps product page loads per host across the fleet;
	// zero means unlimited.
	NavigationRPS   float64 `mapstructure:"navigation_rps"`
	NavigationBurst int     `mapstructure:"navigation_burst"`
}

// RegionConfig controls the delivery-region step.
type RegionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	HomeURL     string        `mapstructure:"home_url"`
	PostalCode  string        `mapstructure:"postal_code"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	LoadDelay   time.Duration `mapstructure:"load_delay"`
	StepDelay   time.Duration `mapstructure:"step_delay"`
}

// ExtractorConfig tunes offer extraction.
type ExtractorConfig struct {
	WaitTimeout         time.Duration `mapstructure:"wait_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	ScrollDuration      time.Duration `mapstructure:"scroll_duration"`
	ScrollStep          time.Duration `mapstructure:"scroll_step"`
	Platform            string        `mapstructure:"platform"`
	FallThroughOnReject bool          `mapstructure:"fall_through_on_reject"`
}

// WatcherConfig paces each watcher.
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	MinSkipSleep time.Duration `mapstructure:"min_skip_sleep"`
	MaxSkipSleep time.Duration `mapstructure:"max_skip_sleep"`
}

// NotifierConfig selects the notification sink. Token, ChatID and CoolTime
// seed the persisted settings of the memory backend; other backends read
// them from the store.
type NotifierConfig struct {
	Kind      string        `mapstructure:"kind"`
	Token     string        `mapstructure:"token"`
	ChatID    string        `mapstructure:"chat_id"`
	CoolTime  time.Duration `mapstructure:"cool_time"`
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PubSubConfig enables hit publication when TopicID is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// EvidenceConfig selects where HTML snapshots of hits are written.
type EvidenceConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey protects the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap output.
type LoggingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	Region      string  `mapstructure:"region"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProgressConfig controls the check-event hub and its sinks.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	HitWait        time.Duration `mapstructure:"hit_wait"`
}

// ItemConfig is a tracked item declared in the config file.
type ItemConfig struct {
	ID           string `mapstructure:"id"`
	URL          string `mapstructure:"url"`
	Name         string `mapstructure:"name"`
	TargetPrice  string `mapstructure:"target_price"`
	CheckShipped bool   `mapstructure:"check_shipped"`
	CheckSold    bool   `mapstructure:"check_sold"`
}

// TrackedItem converts the declaration into a fresh, unavailable item.
func (c ItemConfig) TrackedItem() (watch.TrackedItem, error) {
	target, err := decimal.NewFromString(strings.TrimSpace(c.TargetPrice))
	if err != nil {
		return watch.TrackedItem{}, fmt.Errorf("item %q: parse target_price: %w", c.ID, err)
	}
	return watch.TrackedItem{
		ID:                       c.ID,
		URL:                      c.URL,
		Name:                     c.Name,
		TargetPrice:              target,
		RequireShippedByPlatform: c.CheckShipped,
		RequireSoldByPlatform:    c.CheckSold,
	}, nil
}

// Settings returns the persisted-settings seed for the memory backend.
func (c NotifierConfig) Settings() watch.Settings {
	return watch.Settings{Token: c.Token, ChatID: c.ChatID, CoolTime: c.CoolTime}.WithDefaults()
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.sqlite_path", "offerwatch.db")
	v.SetDefault("store.poll_interval", "5s")
	v.SetDefault("driver.kind", DriverHeadless)
	v.SetDefault("driver.headless", true)
	v.SetDefault("driver.navigation_timeout", "45s")
	v.SetDefault("driver.action_timeout", "15s")
	v.SetDefault("driver.max_parallel", 0)
	v.SetDefault("driver.request_timeout", "30s")
	v.SetDefault("driver.navigation_rps", 0)
	v.SetDefault("driver.navigation_burst", 1)
	v.SetDefault("region.enabled", true)
	v.SetDefault("region.home_url", "https://www.amazon.it")
	v.SetDefault("region.postal_code", "00049")
	v.SetDefault("region.wait_timeout", "10s")
	v.SetDefault("region.load_delay", "3s")
	v.SetDefault("region.step_delay", "2s")
	v.SetDefault("extractor.wait_timeout", "10s")
	v.SetDefault("extractor.settle_delay", "3s")
	v.SetDefault("extractor.scroll_duration", "5s")
	v.SetDefault("extractor.scroll_step", "500ms")
	v.SetDefault("extractor.platform", "amazon")
	v.SetDefault("extractor.fall_through_on_reject", false)
	v.SetDefault("watcher.poll_interval", "60s")
	v.SetDefault("watcher.settle_delay", "4s")
	v.SetDefault("watcher.min_skip_sleep", "1s")
	v.SetDefault("notifier.kind", NotifierTelegram)
	v.SetDefault("notifier.timeout", "10s")
	v.SetDefault("evidence.backend", EvidenceNone)
	v.SetDefault("evidence.prefix", "evidence")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("telemetry.service_name", "offerwatch")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.hit_wait", "250ms")

	// Keys without a meaningful default are still registered so AutomaticEnv
	// can supply them during Unmarshal.
	for _, key := range []string{
		"store.dsn",
		"driver.chrome_path",
		"driver.user_agent",
		"notifier.token",
		"notifier.chat_id",
		"notifier.server_url",
		"pubsub.project_id",
		"pubsub.topic_id",
		"evidence.base_dir",
		"evidence.gcs_bucket",
		"telemetry.project_id",
		"telemetry.region",
		"logging.level",
		"server.api_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("notifier.cool_time", 0)
	v.SetDefault("watcher.max_skip_sleep", 0)
	v.SetDefault("telemetry.sample_ratio", 0)
}

// bindLegacyEnv keeps the environment names of earlier deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"watcher.poll_interval": "CHECK_INTERVAL",
		"logging.enabled":       "LOG",
		"driver.chrome_path":    "CHROMEDRIVER_PATH",
	}
	for key, env := range legacy {
		primary := "OFFERWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsHook(),
		legacyBoolHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Store.Backend != StoreMemory && len(c.Items) > 0 {
		return fmt.Errorf("items can only seed the memory backend")
	}
	if c.Driver.Kind != DriverHeadless && c.Driver.Kind != DriverStatic {
		return fmt.Errorf("driver.kind %q is not supported", c.Driver.Kind)
	}
	if c.Driver.MaxParallel < 0 {
		return fmt.Errorf("driver.max_parallel must be >= 0")
	}
	if c.Driver.NavigationRPS < 0 || c.Driver.NavigationBurst < 0 {
		return fmt.Errorf("driver.navigation_rps and driver.navigation_burst must be >= 0")
	}
	if c.Region.Enabled && (c.Region.HomeURL == "" || c.Region.PostalCode == "") {
		return fmt.Errorf("region.home_url and region.postal_code must be set when region is enabled")
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be > 0")
	}
	if c.Watcher.MaxSkipSleep > 0 && c.Watcher.MaxSkipSleep < c.Watcher.MinSkipSleep {
		return fmt.Errorf("watcher.max_skip_sleep must be >= watcher.min_skip_sleep")
	}
	if c.Notifier.Kind != NotifierTelegram && c.Notifier.Kind != NotifierLog {
		return fmt.Errorf("notifier.kind %q is not supported", c.Notifier.Kind)
	}
	if c.Notifier.CoolTime < 0 {
		return fmt.Errorf("notifier.cool_time must be >= 0")
	}
	if c.PubSub.TopicID != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_id is set")
	}
	switch c.Evidence.Backend {
	case EvidenceNone, EvidenceMemory:
	case EvidenceLocal:
		if c.Evidence.BaseDir == "" {
			return fmt.Errorf("evidence.base_dir must be set for the local backend")
		}
	case EvidenceGCS:
		if c.Evidence.GCSBucket == "" {
			return fmt.Errorf("evidence.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("evidence.backend %q is not supported", c.Evidence.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Progress.Enabled && c.Progress.BufferSize < 0 {
		return fmt.Errorf("progress.buffer_size must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	seen := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		if item.ID == "" || item.URL == "" {
			return fmt.Errorf("items need an id and a url")
		}
		if seen[item.ID] {
			return fmt.Errorf("item %q declared twice", item.ID)
		}
		seen[item.ID] = true
		if _, err := item.TrackedItem(); err != nil {
			return err
		}
	}
	return nil
}
