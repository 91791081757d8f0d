package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
store:
  backend: memory
driver:
  kind: static
  request_timeout: 12s
region:
  enabled: false
extractor:
  platform: Amazon
  fall_through_on_reject: true
watcher:
  poll_interval: 90s
  max_skip_sleep: 120
notifier:
  kind: log
  cool_time: 600
evidence:
  backend: local
  base_dir: /tmp/evidence
server:
  port: 9090
logging:
  development: true
items:
  - id: ps5
    url: https://www.amazon.it/dp/B0CLTBHXWQ
    name: PS5 Slim
    target_price: "449.99"
    check_shipped: true
    check_sold: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Driver.Kind != DriverStatic || cfg.Driver.RequestTimeout != 12*time.Second {
		t.Fatalf("expected static driver overrides, got %+v", cfg.Driver)
	}
	if cfg.Region.Enabled {
		t.Fatalf("expected region step disabled")
	}
	if cfg.Extractor.Platform != "Amazon" || !cfg.Extractor.FallThroughOnReject {
		t.Fatalf("expected extractor overrides, got %+v", cfg.Extractor)
	}
	if cfg.Watcher.PollInterval != 90*time.Second {
		t.Fatalf("expected poll interval 90s, got %v", cfg.Watcher.PollInterval)
	}
	if cfg.Watcher.MaxSkipSleep != 2*time.Minute {
		t.Fatalf("expected bare number read as seconds, got %v", cfg.Watcher.MaxSkipSleep)
	}
	if got := cfg.Notifier.Settings().CoolTime; got != 10*time.Minute {
		t.Fatalf("expected cool time 10m, got %v", got)
	}
	if cfg.Evidence.Backend != EvidenceLocal || cfg.Evidence.BaseDir != "/tmp/evidence" {
		t.Fatalf("expected local evidence, got %+v", cfg.Evidence)
	}
	if cfg.Server.Port != 9090 || !cfg.Logging.Development {
		t.Fatalf("expected server/logging overrides")
	}
	if len(cfg.Items) != 1 {
		t.Fatalf("expected one seeded item, got %d", len(cfg.Items))
	}
	item, err := cfg.Items[0].TrackedItem()
	if err != nil {
		t.Fatalf("TrackedItem() error = %v", err)
	}
	if item.ID != "ps5" || item.TargetPrice.String() != "449.99" || !item.RequireShippedByPlatform || !item.RequireSoldByPlatform {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.Available || item.AvailableSince != nil {
		t.Fatalf("seeded items start unavailable")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != StoreMemory || cfg.Driver.Kind != DriverHeadless || !cfg.Driver.Headless {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.Store, cfg.Driver)
	}
	if cfg.Watcher.PollInterval != time.Minute || cfg.Watcher.SettleDelay != 4*time.Second {
		t.Fatalf("unexpected watcher defaults: %+v", cfg.Watcher)
	}
	if cfg.Region.PostalCode != "00049" || cfg.Region.HomeURL != "https://www.amazon.it" {
		t.Fatalf("unexpected region defaults: %+v", cfg.Region)
	}
	if cfg.Extractor.Platform != "amazon" || cfg.Extractor.FallThroughOnReject {
		t.Fatalf("unexpected extractor defaults: %+v", cfg.Extractor)
	}
	if cfg.Notifier.Kind != NotifierTelegram || cfg.Notifier.Timeout != 10*time.Second {
		t.Fatalf("unexpected notifier defaults: %+v", cfg.Notifier)
	}
	if !cfg.Logging.Enabled || !cfg.Server.Enabled || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected logging/server defaults")
	}
	if cfg.Evidence.Backend != EvidenceNone {
		t.Fatalf("expected evidence disabled by default")
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("CHECK_INTERVAL", "300")
	t.Setenv("LOG", "no")
	t.Setenv("CHROMEDRIVER_PATH", "/usr/bin/chromium")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watcher.PollInterval != 5*time.Minute {
		t.Fatalf("expected CHECK_INTERVAL in seconds, got %v", cfg.Watcher.PollInterval)
	}
	if cfg.Logging.Enabled {
		t.Fatalf("expected LOG=no to disable logging")
	}
	if cfg.Driver.ChromePath != "/usr/bin/chromium" {
		t.Fatalf("expected chrome path from CHROMEDRIVER_PATH, got %q", cfg.Driver.ChromePath)
	}
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	t.Setenv("CHECK_INTERVAL", "300")
	t.Setenv("OFFERWATCH_WATCHER_POLL_INTERVAL", "2m")
	t.Setenv("OFFERWATCH_STORE_BACKEND", "postgres")
	t.Setenv("OFFERWATCH_STORE_DSN", "postgres://watch@localhost/offers")
	t.Setenv("OFFERWATCH_NOTIFIER_TOKEN", "123:abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watcher.PollInterval != 2*time.Minute {
		t.Fatalf("expected prefixed variable to win, got %v", cfg.Watcher.PollInterval)
	}
	if cfg.Store.Backend != StorePostgres || cfg.Store.DSN != "postgres://watch@localhost/offers" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Notifier.Token != "123:abc" {
		t.Fatalf("expected token from environment, got %q", cfg.Notifier.Token)
	}
}

func TestLoadRejectsBadBoolean(t *testing.T) {
	t.Setenv("LOG", "sometimes")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unparsable LOG")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const fileOnly = "OFFERWATCH_DOTENV_TEST_ONLY"
	t.Setenv("OFFERWATCH_PUBSUB_PROJECT_ID", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv(fileOnly) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := fileOnly + "=from-file\nOFFERWATCH_PUBSUB_PROJECT_ID=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv(fileOnly); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("OFFERWATCH_PUBSUB_PROJECT_ID"); got != "from-env" {
		t.Fatalf("expected existing variable to be kept, got %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Store:    StoreConfig{Backend: StoreMemory},
		Driver:   DriverConfig{Kind: DriverHeadless},
		Region:   RegionConfig{Enabled: true, HomeURL: "https://www.amazon.it", PostalCode: "00049"},
		Watcher:  WatcherConfig{PollInterval: time.Minute, MinSkipSleep: time.Second},
		Notifier: NotifierConfig{Kind: NotifierTelegram},
		Evidence: EvidenceConfig{Backend: EvidenceNone},
		Server:   ServerConfig{Enabled: true, Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Backend = "firestore" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "store.dsn"},
		{"sqlite without path", func(c *Config) { c.Store.Backend = StoreSQLite }, "store.sqlite_path"},
		{"items on postgres", func(c *Config) {
			c.Store = StoreConfig{Backend: StorePostgres, DSN: "postgres://x"}
			c.Items = []ItemConfig{{ID: "a", URL: "u", TargetPrice: "1"}}
		}, "items"},
		{"unknown driver", func(c *Config) { c.Driver.Kind = "selenium" }, "driver.kind"},
		{"negative navigation rate", func(c *Config) { c.Driver.NavigationRPS = -1 }, "driver.navigation_rps"},
		{"region without postal code", func(c *Config) { c.Region.PostalCode = "" }, "region.postal_code"},
		{"zero poll interval", func(c *Config) { c.Watcher.PollInterval = 0 }, "watcher.poll_interval"},
		{"skip bounds inverted", func(c *Config) { c.Watcher.MaxSkipSleep = time.Millisecond }, "watcher.max_skip_sleep"},
		{"unknown notifier", func(c *Config) { c.Notifier.Kind = "email" }, "notifier.kind"},
		{"negative cool time", func(c *Config) { c.Notifier.CoolTime = -time.Second }, "notifier.cool_time"},
		{"topic without project", func(c *Config) { c.PubSub.TopicID = "hits" }, "pubsub.project_id"},
		{"local evidence without dir", func(c *Config) { c.Evidence.Backend = EvidenceLocal }, "evidence.base_dir"},
		{"gcs evidence without bucket", func(c *Config) { c.Evidence.Backend = EvidenceGCS }, "evidence.gcs_bucket"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
		{"item without url", func(c *Config) { c.Items = []ItemConfig{{ID: "a", TargetPrice: "1"}} }, "url"},
		{"duplicate item", func(c *Config) {
			c.Items = []ItemConfig{{ID: "a", URL: "u", TargetPrice: "1"}, {ID: "a", URL: "v", TargetPrice: "2"}}
		}, "declared twice"},
		{"bad target price", func(c *Config) { c.Items = []ItemConfig{{ID: "a", URL: "u", TargetPrice: "cheap"}} }, "target_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
