package job

import (
	"time"

	"github.com/google/uuid"
)

// Job represents a single unit of work managed by a Store.
//
// ID is assigned by the store on insert and is immutable thereafter.
// Queue and Task name the partition and the registered handler this job
// is destined for. Args is the task's arguments, already decoded from the
// store's JSON representation.
//
// ScheduledFor, when non-nil, is the earliest instant the job becomes
// eligible for Fetch; a nil value means the job is eligible immediately.
// QueueingLock, when non-nil, is the admission-side key enforcing
// at-most-one-live-job semantics (see Store.Defer).
//
// Attempts counts finished runs: a Finish that moves the job out of
// Doing increments it for every outcome (success, failure, retry);
// Fetch and the janitor's reap back to Todo leave it unchanged. WorkerID identifies
// the worker instance currently holding the job while Status is Doing; it
// is the zero UUID otherwise.
//
// Job values are snapshots. Mutating them does not affect stored state.
type Job struct {
	ID           int64
	Queue        string
	Task         string
	Args         map[string]any
	ScheduledFor *time.Time
	QueueingLock *string

	Attempts uint32
	Status   Status
	WorkerID uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the job's ScheduledFor gate has opened as of now.
func (j *Job) Due(now time.Time) bool {
	return j.ScheduledFor == nil || !j.ScheduledFor.After(now)
}
