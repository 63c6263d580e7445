// Package main hosts the bidwatch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and monitor control
//     endpoints. Operators start and stop the loop, trigger single rounds, and
//     edit keywords, sites, and contacts at runtime.
//   - Monitoring loop: internal/round.Orchestrator runs one round at a time.
//     Each round walks the enabled source adapters in order, fetches their
//     listing pages, filters candidates through the keyword policy and the
//     optional AI relevance guard, and stores deduplicated records.
//   - Fetch pipeline: the Colly-based engine performs plain HTTP fetches with
//     identity rotation, retry backoff, and anti-bot page detection. When
//     use_browser is set, pages render through a single shared headless Chrome
//     first, falling back to the plain engine if the browser cannot start.
//   - Persistence: records land in SQLite by default; Postgres and an
//     in-memory store are selectable via storage.provider. The unique ID is
//     derived from the record URL, so re-crawls are idempotent.
//   - Notifications: after a round with new records, the dispatcher fans a
//     capped batch out to every enabled contact over email, Aliyun SMS and
//     voice, and PushPlus chat. Per-contact and per-channel failures are
//     isolated; the batch is marked notified once all sends were attempted.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one round in flight at a time, fetches within a round
//     are sequential with politeness delays. Shutdown is coordinated via
//     context cancellation; a stop request takes effect at the next adapter
//     boundary and already-stored records survive.
//   - Rate limiting/backoff: failed fetches retry with exponential backoff and
//     jitter; 401/403 responses are terminal for the page. Anti-bot
//     interstitials are detected by signature and counted as blocked.
//
// Quick checklist:
//   - Configure env vars: BIDWATCH_SERVER_PORT, BIDWATCH_MONITOR_INTERVAL_MINUTES,
//     BIDWATCH_STORAGE_PROVIDER/DSN, BIDWATCH_AI_* for the guard, and channel
//     credentials (BIDWATCH_SMS_*, BIDWATCH_VOICE_*) when enabled.
//   - Run locally: go run ./cmd/bidwatch -config config.yaml (or rely solely
//     on env overrides).
package main
