// Package pgtask provides a distributed task-processing system that uses
// PostgreSQL as its sole broker.
//
// # Overview
//
// Producers defer jobs through a Store; one or more Worker processes fetch
// and execute them by dispatching to task handlers registered in a
// Registry. Delivery is at-least-once: handlers must be idempotent.
//
// pgtask separates transport (Connector), persistence (Store), execution
// (Worker) and scheduling (the periodic package) into independent layers.
// The database is the single source of truth; all cross-worker
// coordination — the queueing-lock admission check, the SKIP LOCKED fetch,
// the periodic-slot dedupe — happens inside Postgres, not in process
// memory.
//
// # State Machine
//
// Jobs follow this lifecycle:
//
//	todo  -> doing
//	doing -> succeeded
//	doing -> failed
//	doing -> todo   (retry, via Store.Finish with a Retry outcome)
//
// succeeded and failed are terminal. Attempts is incremented only when a
// job leaves doing.
//
// # Queueing Locks
//
// A job may carry a QueueingLock key. While any job with that key is in
// todo or doing, Store.Defer rejects a second job sharing the key with
// ErrAlreadyEnqueued. This is an admission-side constraint, distinct from
// the per-fetch row lock that lets concurrent workers cooperate.
//
// # Retry Policy
//
// A Task's RetryPolicy decides, given the attempt count and the error a
// handler returned, whether to retry (and after what delay) or to give
// up. Handlers may also request a specific retry delay by returning a
// RetryableError, or force immediate failure with no retry by returning
// JobAborted — typically in response to a canceled context.
//
// # Concurrency Model
//
// A Worker runs N concurrent sub-workers (goroutines), each looping:
// fetch, dispatch-or-wait, repeat. Waiting is interrupted by either a
// LISTEN/NOTIFY wake-up carried by the Connector or a bounded polling
// timer — NOTIFY is advisory only, correctness never depends on it.
// Handlers are assumed to be I/O-bound; CPU-bound work should run in a
// separate process.
//
// # Summary
//
// pgtask is a minimal, Postgres-native foundation for durable background
// job processing with per-resource serialization, cron-style scheduling
// and crash recovery via a heartbeat-driven janitor.
package pgtask
