// Command harvester mirrors a logged-in forum into Postgres and object storage.
//
// Architecture overview:
//   - Partitioning: each process is one worker of a fixed pool (worker.index of
//     worker.count) and only touches threads whose id maps to its index.
//   - Orchestration: internal/worker selects owned threads that have activity
//     past their checkpoint, walks their pages in order through the headless
//     browser, and checkpoints after every persisted page.
//   - Media: internal/ingest resolves and uploads post media in bounded
//     sub-batches, using auxiliary browser tabs for attachment pages.
//   - Resources: internal/guardian recycles the browser every N pages and
//     before page retries, and requests a host restart when memory runs low.
//   - Plumbing: Viper config (HARVESTER_* env overrides), zap logs, Prometheus
//     metrics and a chi ops server on server.port.
//
// Subcommands:
//   - run: scheduled passes (worker.schedule, cron syntax or @every) plus the
//     ops server and memory watchdog. SIGINT/SIGTERM stop it between operations.
//   - sync: one pass, report printed as JSON.
//   - schema: create the Postgres tables.
//   - owns: print the owning worker of thread ids.
package main
