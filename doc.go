// Package main hosts the jobcrawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /search, the Apollo proxy routes, cache inspection, health, and metrics.
//     Query parameters are validated and turned into crawler.SearchQuery values for the pipeline.
//   - Pipeline: internal/pipeline.Service answers from the cache when it can. On a miss it builds the listing URL,
//     submits a task to the dispatcher, and waits. Filters are applied to the result, never to the cached entry.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by crawler.queue_depth and are fanned out
//     to a fixed worker pool sized by crawler.workers. A shared limiter spaces task starts by crawler.min_interval.
//   - Sources: the headless source renders with chromedp and extracts JSON-LD first. The static source fetches with
//     colly and reads the DOM. The auto source tries static and promotes to headless when the detector says so.
//   - Cache: one JSON file per term under cache.dir, guarded by a directory lock, trimmed largest-first to
//     cache.max_bytes. The memory backend keeps the same semantics in process.
//   - Fanout: every fresh crawl publishes a crawl-completed event to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper reads config.yaml, .env, and JOBCRAWLER_* variables; zap provides structured
//     logging; Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - The HTTP server listens on server.port (overridable via PORT) and drains on SIGTERM: in-flight crawls finish,
//     queued tasks are rejected, and the cache lock is released.
//   - The cache commands open the cache directly; stop the server first when using the disk backend.
//
// Quick checklist:
//   - Run locally: go run . serve --config config.yaml
//   - One-off search: go run . search golang --location berlin
//   - Inspect cache: go run . cache ls; trim it with go run . cache prune
package main
