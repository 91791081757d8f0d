// Package main hosts the offerwatch entrypoint.
//
// Architecture overview:
//   - Fleet: internal/fleet.Supervisor keeps exactly one internal/watcher.Watcher per tracked item. It
//     follows the item store through a change feed (Postgres LISTEN/NOTIFY, SQLite polling or in-process
//     signals) and starts, restarts or stops watchers as items are added, edited or removed.
//   - Watcher: each watcher owns one page.Session (chromedp or static colly/goquery), applies the delivery
//     region once, then loops: consult the AvailabilityGate, navigate, run the offer strategies, and on a
//     qualifying offer persist availability before sending one Telegram alert.
//   - Persistence & fanout: items and settings live in memory, SQLite or Postgres. Check history is fed by
//     the progress Hub through its store sink. Match hits can be published to Pub/Sub and page snapshots
//     written to a blob store (memory/local/GCS).
//   - Configuration & plumbing: Viper reads YAML and OFFERWATCH_* variables (plus the legacy CHECK_INTERVAL,
//     LOG and CHROMEDRIVER_PATH names); zap provides structured logging; Prometheus metrics and OpenTelemetry
//     traces cover checks and HTTP traffic.
//
// Quick checklist:
//   - Configure OFFERWATCH_NOTIFIER_TOKEN and OFFERWATCH_NOTIFIER_CHAT_ID, or set notifier.kind=log for a dry run.
//   - Run locally: go run ./cmd/offerwatch run --config offerwatch.yaml
//   - Try one page: go run ./cmd/offerwatch check --url https://www.amazon.it/dp/... --target 449.99
package main
