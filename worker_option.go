package pgtask

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Config configures a Worker's runtime behavior (spec §6 "Configuration
// options recognized by the core").
type Config struct {
	// Concurrency is the number of sub-workers (N >= 1). Zero defaults
	// to 1.
	Concurrency int

	// Queues restricts FetchOne to this subset of queue names. Empty
	// means all queues.
	Queues []string

	// PollingInterval bounds how long an idle sub-worker sleeps between
	// fetch attempts when no NOTIFY arrives. Zero defaults to 5s.
	PollingInterval time.Duration

	// ShutdownGracePeriod is how long Stop waits for in-flight jobs
	// before cancelling their context. Zero defaults to 30s.
	ShutdownGracePeriod time.Duration

	// HeartbeatInterval is how often the worker refreshes its liveness
	// row for the janitor. Zero defaults to 10s.
	HeartbeatInterval time.Duration
}

// Option further tunes a Worker beyond Config, following the
// functional-options idiom used by this corpus's Postgres queue
// libraries for optional, rarely-changed knobs (worker identity,
// logging).
type Option func(*Worker)

// WithID assigns a fixed worker identifier instead of a randomly
// generated one. Useful for tests and for operators who want stable IDs
// across restarts of the same logical worker slot.
func WithID(id uuid.UUID) Option {
	return func(w *Worker) { w.id = id }
}

// WithLogger sets the *slog.Logger a Worker reports to. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}
