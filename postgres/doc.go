// Package postgres is the sole database-backed implementation of
// pgtask.Connector and pgtask.Store.
//
// # Overview
//
// The backend keeps two access paths side by side, each used for what it
// is best at:
//
//   - Connector wraps a jackc/pgx/v5 pgxpool.Pool for the hot-path
//     operations (Defer, FetchOne, Finish, DeferPeriodic) and one
//     dedicated connection per listened channel for LISTEN/NOTIFY, each
//     reconnected with vgarvardt/backoff on disconnect.
//   - Store layers uptrace/bun (via the pgx stdlib bridge and its
//     pgdialect) on a separate database/sql pool, opened by OpenBun
//     from the same DSN, for schema bootstrap and the
//     query-builder-shaped operations: ListJobs, CancelJob,
//     DeleteFinishedJobs, ListEvents, ReapStale, Heartbeat. The
//     hot-path operations go straight through the Connector as raw SQL
//     instead, since they are fixed statements that gain nothing from a
//     query builder and must run inside the same transaction as their
//     surrounding locks.
//
// # Schema
//
// Bootstrap creates four tables: procrastinate_jobs, the periodic-defer
// dedup table, the append-only event log, and the worker liveness
// table, plus the partial unique index enforcing queueing locks and the
// trigger that NOTIFYs on insert. See Bootstrap.
//
// # Concurrency Model
//
// FetchOne calls procrastinate_fetch_job, which picks a candidate id
// with `SELECT ... FOR UPDATE SKIP LOCKED` and then claims it with
// `UPDATE ... RETURNING`, so that any number of workers can poll
// concurrently without serializing on one another.
package postgres
