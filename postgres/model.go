package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/hollowroad/pgtask/job"
)

// jobModel mirrors procrastinate_jobs, adapted from the teacher's single
// sqlite jobs table into the spec's fixed column set (§6): a bigserial
// id, queueing lock, and worker_id in place of a lease token.
type jobModel struct {
	bun.BaseModel `bun:"table:procrastinate_jobs,alias:j"`

	ID           int64      `bun:"id,pk,autoincrement"`
	Queue        string     `bun:"queue_name,notnull"`
	Task         string     `bun:"task_name,notnull"`
	Args         []byte     `bun:"args,type:jsonb"`
	Status       string     `bun:"status,notnull,default:'todo'"`
	Attempts     uint32     `bun:"attempts,notnull,default:0"`
	ScheduledFor *time.Time `bun:"scheduled_for"`
	QueueingLock *string    `bun:"queueing_lock"`
	WorkerID     *uuid.UUID `bun:"worker_id,type:uuid"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (jm *jobModel) toJob() (*job.Job, error) {
	var args map[string]any
	if len(jm.Args) > 0 {
		if err := json.Unmarshal(jm.Args, &args); err != nil {
			return nil, err
		}
	}
	jb := &job.Job{
		ID:           jm.ID,
		Queue:        jm.Queue,
		Task:         jm.Task,
		Args:         args,
		ScheduledFor: jm.ScheduledFor,
		QueueingLock: jm.QueueingLock,
		Attempts:     jm.Attempts,
		CreatedAt:    jm.CreatedAt,
		UpdatedAt:    jm.UpdatedAt,
	}
	jb.Status, _ = job.ParseStatus(jm.Status)
	if jm.WorkerID != nil {
		jb.WorkerID = *jm.WorkerID
	}
	return jb, nil
}

// eventModel mirrors procrastinate_events, the append-only audit log
// supplemented from the original implementation (SPEC_FULL §12).
type eventModel struct {
	bun.BaseModel `bun:"table:procrastinate_events,alias:e"`

	ID    int64     `bun:"id,pk,autoincrement"`
	JobID int64     `bun:"job_id,notnull"`
	Type  string    `bun:"type,notnull"`
	At    time.Time `bun:"at,notnull,default:current_timestamp"`
}

// workerModel mirrors procrastinate_workers, the heartbeat table that
// backs Store.ReapStale (SPEC_FULL §12).
type workerModel struct {
	bun.BaseModel `bun:"table:procrastinate_workers,alias:w"`

	ID       uuid.UUID `bun:"id,pk,type:uuid"`
	LastSeen time.Time `bun:"last_seen,notnull,default:current_timestamp"`
}
