package pgtask

import (
	"context"
	"time"

	"github.com/hollowroad/pgtask/job"
)

// JobSpec describes a job to be deferred. Queue and Task must be
// non-empty. ScheduledFor, when non-nil, delays eligibility until that
// instant. QueueingLock, when non-nil, is checked for admission per
// Store.Defer's contract.
type JobSpec struct {
	Queue        string
	Task         string
	Args         map[string]any
	ScheduledFor *time.Time
	QueueingLock *string
}

// outcomeKind is the discriminant of Outcome's three variants.
type outcomeKind uint8

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomeRetry
)

// Outcome is the result a Worker reports to Store.Finish: success,
// failure, or a retry scheduled for a specific instant. Build one with
// Success, Failure, or RetryAt.
type Outcome struct {
	kind  outcomeKind
	retry time.Time
}

// Success finishes a job as succeeded.
func Success() Outcome { return Outcome{kind: outcomeSuccess} }

// Failure finishes a job as failed with no further retry.
func Failure() Outcome { return Outcome{kind: outcomeFailure} }

// RetryAt finishes a job by returning it to todo with ScheduledFor set
// to at, incrementing Attempts.
func RetryAt(at time.Time) Outcome { return Outcome{kind: outcomeRetry, retry: at} }

// Visit dispatches to exactly one of the three callbacks depending on
// the outcome's kind, giving a Store implementation access to an
// Outcome's data without exposing its fields.
func (o Outcome) Visit(onSuccess func(), onFailure func(), onRetry func(at time.Time)) {
	switch o.kind {
	case outcomeSuccess:
		onSuccess()
	case outcomeFailure:
		onFailure()
	case outcomeRetry:
		onRetry(o.retry)
	}
}

// ListFilter narrows Store.ListJobs. The zero value matches every job.
type ListFilter struct {
	Queue  string
	Task   string
	Status job.Status
	Limit  int
}

// EventType names a row appended to the audit log by Store operations
// (spec §12 supplemented feature: procrastinate_events).
type EventType string

const (
	EventDeferred EventType = "deferred"
	EventStarted  EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	EventRetried   EventType = "retried"
	EventCanceled  EventType = "canceled"
	EventAbandoned EventType = "abandoned" // reaped by the janitor
)

// Event is one append-only audit row for a job's lifecycle transitions.
type Event struct {
	JobID int64
	Type  EventType
	At    time.Time
}

// Store is the stateless façade over the fixed set of database
// operations described in spec §4.2. All SQL lives behind an
// implementation of this interface; callers speak only in domain terms.
type Store interface {
	// Defer inserts spec as a new todo job and returns its ID. If
	// spec.QueueingLock is set and already held by a todo/doing job,
	// Defer returns ErrAlreadyEnqueued and no row is inserted.
	Defer(ctx context.Context, spec JobSpec) (int64, error)

	// FetchOne atomically claims and returns the oldest eligible todo
	// job in queues (or any queue, if queues is empty), or (nil, nil)
	// if none is eligible. The claimed row transitions to doing and is
	// owned by workerID.
	FetchOne(ctx context.Context, workerID [16]byte, queues []string) (*job.Job, error)

	// Finish commits the outcome of a job previously returned by
	// FetchOne. The update is conditional on the row currently being
	// doing; if it is not, ErrUnexpectedJobStatus is returned and the
	// row is left untouched.
	Finish(ctx context.Context, jobID int64, outcome Outcome) error

	// ListJobs returns jobs matching filter, most recent first.
	ListJobs(ctx context.Context, filter ListFilter) ([]*job.Job, error)

	// CancelJob transitions a todo job to failed with a cancellation
	// marker. It is a no-op (returns nil, changes nothing) if the job is
	// doing or already terminal.
	CancelJob(ctx context.Context, jobID int64) error

	// DeleteFinishedJobs deletes succeeded/failed jobs whose UpdatedAt is
	// at or before before, and returns the count removed.
	DeleteFinishedJobs(ctx context.Context, before time.Time) (int64, error)

	// DeferPeriodic inserts a periodic-slot marker for (taskName,
	// cronExpr, slot) and defers a job onto queue for it, atomically.
	// If the slot was already recorded, no job is enqueued and enqueued
	// is false.
	DeferPeriodic(ctx context.Context, taskName, cronExpr, queue string, slot time.Time, args map[string]any) (jobID int64, enqueued bool, err error)

	// ListEvents returns the audit trail for a single job, oldest first.
	ListEvents(ctx context.Context, jobID int64) ([]Event, error)

	// ReapStale transitions doing jobs owned by workers whose heartbeat
	// is older than olderThan back to todo, leaving Attempts unchanged,
	// and returns how many were reaped. This is the janitor operation
	// from spec §4.3.
	ReapStale(ctx context.Context, olderThan time.Time) (int64, error)

	// Heartbeat records that workerID is still alive. Workers call this
	// periodically so ReapStale can tell a slow job from an abandoned
	// one.
	Heartbeat(ctx context.Context, workerID [16]byte) error
}
