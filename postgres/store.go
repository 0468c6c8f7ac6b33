package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/hollowroad/pgtask"
	"github.com/hollowroad/pgtask/job"
)

// Store is the Postgres-backed implementation of pgtask.Store. It splits
// its work between two access paths, each grounded in a different part
// of the corpus (see package doc): the fixed, contract-named stored
// procedures behind Defer/FetchOne/Finish/DeferPeriodic run through conn
// as raw SQL function calls (que-go/gue's calling convention), while the
// auxiliary, query-shaped operations (ListJobs, CancelJob,
// DeleteFinishedJobs, ListEvents, ReapStale, Heartbeat) run through db,
// a bun query builder on its own database/sql pool to the same
// database, in the teacher's Observer/Cleaner style.
type Store struct {
	conn pgtask.Connector
	db   *bun.DB
}

// NewStore wires a Store to conn (for the hot-path stored procedures)
// and db (for the query-builder paths). Both must point at the same
// database; Bootstrap(ctx, db) must have been called at least once
// before Store is used.
func NewStore(conn pgtask.Connector, db *bun.DB) *Store {
	return &Store{conn: conn, db: db}
}

var _ pgtask.Store = (*Store)(nil)

// Defer implements pgtask.Store.
func (s *Store) Defer(ctx context.Context, spec pgtask.JobSpec) (int64, error) {
	if spec.Queue == "" || spec.Task == "" {
		return 0, fmt.Errorf("pgtask/postgres: queue and task must be non-empty")
	}
	argsJSON, err := marshalArgs(spec.Args)
	if err != nil {
		return 0, err
	}

	rows, err := s.conn.Execute(ctx,
		`SELECT procrastinate_defer_job($1, $2, $3::jsonb, $4, $5)`,
		spec.Queue, spec.Task, argsJSON, spec.ScheduledFor, spec.QueueingLock,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var id *int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("pgtask/postgres: procrastinate_defer_job returned no row")
	}
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if id == nil {
		return 0, pgtask.ErrAlreadyEnqueued
	}
	return *id, nil
}

// FetchOne implements pgtask.Store.
func (s *Store) FetchOne(ctx context.Context, workerID [16]byte, queues []string) (*job.Job, error) {
	var queuesArg any
	if len(queues) > 0 {
		queuesArg = queues
	}

	rows, err := s.conn.Execute(ctx,
		`SELECT * FROM procrastinate_fetch_job($1, $2)`,
		queuesArg, uuid.UUID(workerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	jb, err := scanJobRow(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jb, nil
}

// Finish implements pgtask.Store.
func (s *Store) Finish(ctx context.Context, jobID int64, outcome pgtask.Outcome) error {
	var (
		rows pgtask.Rows
		err  error
	)
	outcome.Visit(
		func() {
			rows, err = s.conn.Execute(ctx, `SELECT procrastinate_finish_job($1, 'succeeded')`, jobID)
		},
		func() {
			rows, err = s.conn.Execute(ctx, `SELECT procrastinate_finish_job($1, 'failed')`, jobID)
		},
		func(at time.Time) {
			rows, err = s.conn.Execute(ctx, `SELECT procrastinate_retry_job($1, $2)`, jobID, at)
		},
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("pgtask/postgres: finish returned no row for job %d", jobID)
	}
	var ok bool
	if err := rows.Scan(&ok); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !ok {
		return pgtask.ErrUnexpectedJobStatus
	}
	return nil
}

// DeferPeriodic implements pgtask.Store.
func (s *Store) DeferPeriodic(ctx context.Context, taskName, cronExpr, queue string, slot time.Time, args map[string]any) (int64, bool, error) {
	argsJSON, err := marshalArgs(args)
	if err != nil {
		return 0, false, err
	}
	if queue == "" {
		queue = "default"
	}

	rows, err := s.conn.Execute(ctx,
		`SELECT * FROM procrastinate_defer_periodic_job($1, $2, $3, $4, $5::jsonb)`,
		taskName, cronExpr, slot, queue, argsJSON,
	)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("pgtask/postgres: procrastinate_defer_periodic_job returned no row")
	}
	var id *int64
	var enqueued bool
	if err := rows.Scan(&id, &enqueued); err != nil {
		return 0, false, err
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, enqueued, nil
}

// ListJobs implements pgtask.Store using bun's query builder, in the
// teacher's Observer.List style.
func (s *Store) ListJobs(ctx context.Context, filter pgtask.ListFilter) ([]*job.Job, error) {
	var models []*jobModel
	q := s.db.NewSelect().Model(&models).Order("id DESC")
	if filter.Queue != "" {
		q = q.Where("queue_name = ?", filter.Queue)
	}
	if filter.Task != "" {
		q = q.Where("task_name = ?", filter.Task)
	}
	if filter.Status != job.Unknown {
		q = q.Where("status = ?", filter.Status.String())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*job.Job, 0, len(models))
	for _, m := range models {
		jb, err := m.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, jb)
	}
	return out, nil
}

// CancelJob implements pgtask.Store. It is a no-op for a doing or
// already-terminal job (spec §4.2, §8 "cancel on a doing job is a
// no-op").
func (s *Store) CancelJob(ctx context.Context, jobID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*jobModel)(nil)).
			Set("status = ?", job.Failed.String()).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", jobID).
			Where("status = ?", job.Todo.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err = tx.NewInsert().
			Model(&eventModel{JobID: jobID, Type: string(pgtask.EventCanceled)}).
			Exec(ctx)
		return err
	})
}

// DeleteFinishedJobs implements pgtask.Store. Deleting a job cascades to
// its events and periodic-defer rows (schema.go foreign keys).
func (s *Store) DeleteFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("status IN (?)", bun.In([]string{job.Succeeded.String(), job.Failed.String()})).
		Where("updated_at <= ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListEvents implements pgtask.Store.
func (s *Store) ListEvents(ctx context.Context, jobID int64) ([]pgtask.Event, error) {
	var models []*eventModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("job_id = ?", jobID).
		Order("at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]pgtask.Event, 0, len(models))
	for _, m := range models {
		out = append(out, pgtask.Event{JobID: m.JobID, Type: pgtask.EventType(m.Type), At: m.At})
	}
	return out, nil
}

// ReapStale implements pgtask.Store, the janitor operation from spec
// §4.3 / §8 scenario 6. It reclaims doing rows owned by a worker whose
// heartbeat is older than olderThan, leaving Attempts untouched, and
// records one "abandoned" event per reaped job.
func (s *Store) ReapStale(ctx context.Context, olderThan time.Time) (int64, error) {
	var ids []int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewRaw(`
			UPDATE procrastinate_jobs
			SET status = 'todo', worker_id = NULL, updated_at = now()
			WHERE status = 'doing'
			  AND worker_id IN (SELECT id FROM procrastinate_workers WHERE last_seen < ?)
			RETURNING id
		`, olderThan).Scan(ctx, &ids)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		events := make([]*eventModel, len(ids))
		for i, id := range ids {
			events[i] = &eventModel{JobID: id, Type: string(pgtask.EventAbandoned)}
		}
		_, err = tx.NewInsert().Model(&events).Exec(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Heartbeat implements pgtask.Store as an upsert into
// procrastinate_workers, the liveness table ReapStale consults.
func (s *Store) Heartbeat(ctx context.Context, workerID [16]byte) error {
	_, err := s.db.NewInsert().
		Model(&workerModel{ID: uuid.UUID(workerID), LastSeen: time.Now()}).
		On("CONFLICT (id) DO UPDATE").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	return err
}

func marshalArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("pgtask/postgres: marshal args: %w", err)
	}
	return b, nil
}

func scanJobRow(rows pgtask.Rows) (*job.Job, error) {
	var (
		id           int64
		queue        string
		task         string
		args         []byte
		status       string
		attempts     uint32
		scheduledFor *time.Time
		queueingLock *string
		workerID     *uuid.UUID
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := rows.Scan(&id, &queue, &task, &args, &status, &attempts,
		&scheduledFor, &queueingLock, &workerID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var decodedArgs map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decodedArgs); err != nil {
			return nil, err
		}
	}

	st, err := job.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	jb := &job.Job{
		ID:           id,
		Queue:        queue,
		Task:         task,
		Args:         decodedArgs,
		ScheduledFor: scheduledFor,
		QueueingLock: queueingLock,
		Attempts:     attempts,
		Status:       st,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if workerID != nil {
		jb.WorkerID = *workerID
	}
	return jb, nil
}
