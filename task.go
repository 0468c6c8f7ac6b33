package pgtask

import "context"

// Handler is the user-provided function that executes a job's task.
//
// Returning nil finishes the job as succeeded. Returning a RetryableError
// (see Retry/RetryAfter) or any other error consults the task's
// RetryPolicy. Returning an error satisfying errors.Is(err, ErrJobAborted)
// (see Abort) finishes the job as failed with no retry, regardless of
// policy.
//
// Handlers must be idempotent: pgtask provides at-least-once delivery,
// and a job may run more than once if a worker crashes or a lease is
// reaped before it finishes.
type Handler func(ctx context.Context, args map[string]any) error

// PeriodicSchedule pairs a task with the cron expression the periodic
// deferrer should enqueue it on (spec §4.4).
type PeriodicSchedule struct {
	CronExpr string
	Args     map[string]any

	// Queue names the queue periodic jobs for this task are deferred
	// into (spec §6 requires queue_name on every row). Empty defaults
	// to "default".
	Queue string
}

// Task is a named handler a Worker can dispatch to. Tasks are registered
// in-process by the application; the Store never learns task
// definitions, only the name a Job carries (spec §3 "Task").
type Task struct {
	// Name must be unique within a Registry and matches the Task field
	// jobs are deferred with.
	Name string

	// Handler executes the job.
	Handler Handler

	// Retry decides whether a failed attempt should be retried. The
	// zero value never retries (MaxAttempts of 0 means "no retries" —
	// see RetryPolicy.Next).
	Retry RetryPolicy

	// Periodic, if non-nil, registers this task with the periodic
	// deferrer under the given cron expression.
	Periodic *PeriodicSchedule

	// PassContext controls whether cancellation of the Worker's
	// shutdown/grace-period context reaches the handler. When false
	// (the default), the handler receives a context detached from the
	// Worker's context (context.WithoutCancel: no deadline, never
	// canceled), so handlers that never check ctx.Done() cannot be
	// interrupted mid-run — they run to completion, and once the grace
	// period elapses Stop returns without waiting for them.
	PassContext bool
}
