package postgres

import (
	"context"

	"github.com/uptrace/bun"
)

// schemaStatements are run in order by Bootstrap. They are plain DDL,
// executed as one statement per call since bun's driver does not
// support multi-statement Exec reliably across drivers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS procrastinate_jobs (
		id BIGSERIAL PRIMARY KEY,
		queue_name TEXT NOT NULL,
		task_name TEXT NOT NULL,
		args JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'todo',
		attempts INTEGER NOT NULL DEFAULT 0,
		scheduled_for TIMESTAMPTZ,
		queueing_lock TEXT,
		worker_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS procrastinate_jobs_queueing_lock_idx
		ON procrastinate_jobs (queueing_lock)
		WHERE queueing_lock IS NOT NULL AND status IN ('todo', 'doing')`,
	`CREATE INDEX IF NOT EXISTS procrastinate_jobs_fetch_idx
		ON procrastinate_jobs (queue_name, status, scheduled_for)
		WHERE status = 'todo'`,
	`CREATE INDEX IF NOT EXISTS procrastinate_jobs_worker_idx
		ON procrastinate_jobs (worker_id)
		WHERE status = 'doing'`,
	`CREATE TABLE IF NOT EXISTS procrastinate_periodic_defers (
		id BIGSERIAL PRIMARY KEY,
		task_name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		defer_slot TIMESTAMPTZ NOT NULL,
		job_id BIGINT NOT NULL REFERENCES procrastinate_jobs (id) ON DELETE CASCADE,
		UNIQUE (task_name, cron_expr, defer_slot)
	)`,
	`CREATE TABLE IF NOT EXISTS procrastinate_events (
		id BIGSERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES procrastinate_jobs (id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS procrastinate_events_job_idx
		ON procrastinate_events (job_id, at)`,
	`CREATE TABLE IF NOT EXISTS procrastinate_workers (
		id UUID PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE OR REPLACE FUNCTION procrastinate_notify_queue() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('pgtask_any_queue', NEW.queue_name);
		PERFORM pg_notify('pgtask_queue_' || NEW.queue_name, '');
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS procrastinate_jobs_notify_trigger ON procrastinate_jobs`,
	`CREATE TRIGGER procrastinate_jobs_notify_trigger
		AFTER INSERT ON procrastinate_jobs
		FOR EACH ROW
		WHEN (NEW.status = 'todo')
		EXECUTE FUNCTION procrastinate_notify_queue()`,

	// procrastinate_defer_job is the one contract-named stored procedure
	// behind Store.Defer (spec §4.2, §6). The queueing-lock admission
	// check and the insert happen in the same statement: the partial
	// unique index on (queueing_lock) WHERE status IN ('todo','doing')
	// turns a conflicting defer into a unique_violation, which this
	// function catches and reports as a NULL id rather than an error.
	`CREATE OR REPLACE FUNCTION procrastinate_defer_job(
		p_queue text, p_task text, p_args jsonb,
		p_scheduled_for timestamptz, p_queueing_lock text
	) RETURNS bigint AS $$
	DECLARE
		new_id bigint;
	BEGIN
		INSERT INTO procrastinate_jobs (queue_name, task_name, args, scheduled_for, queueing_lock, status)
		VALUES (p_queue, p_task, p_args, p_scheduled_for, p_queueing_lock, 'todo')
		RETURNING id INTO new_id;

		INSERT INTO procrastinate_events (job_id, type) VALUES (new_id, 'deferred');

		RETURN new_id;
	EXCEPTION WHEN unique_violation THEN
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,

	// procrastinate_fetch_job is the hot-path stored procedure behind
	// Store.FetchOne. The candidate row is chosen under FOR UPDATE SKIP
	// LOCKED so concurrent fetchers never block on one another, and the
	// queueing-lock predicate excludes any row whose lock key is already
	// held by a doing row. The claiming UPDATE happens only once a
	// candidate id is in hand, so the id selection and the claim are
	// each a single, cheap statement.
	`CREATE OR REPLACE FUNCTION procrastinate_fetch_job(p_queues text[], p_worker uuid)
	RETURNS SETOF procrastinate_jobs AS $$
	DECLARE
		found_id bigint;
	BEGIN
		SELECT id INTO found_id
		FROM procrastinate_jobs
		WHERE status = 'todo'
		  AND (scheduled_for IS NULL OR scheduled_for <= now())
		  AND (p_queues IS NULL OR array_length(p_queues, 1) IS NULL OR queue_name = ANY (p_queues))
		  AND (
			queueing_lock IS NULL
			OR NOT EXISTS (
				SELECT 1 FROM procrastinate_jobs locked
				WHERE locked.status = 'doing' AND locked.queueing_lock = procrastinate_jobs.queueing_lock
			)
		  )
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1;

		IF found_id IS NULL THEN
			RETURN;
		END IF;

		INSERT INTO procrastinate_events (job_id, type) VALUES (found_id, 'started');

		RETURN QUERY
		UPDATE procrastinate_jobs
		SET status = 'doing', worker_id = p_worker, updated_at = now()
		WHERE id = found_id
		RETURNING *;
	END;
	$$ LANGUAGE plpgsql`,

	// procrastinate_finish_job and procrastinate_retry_job are the two
	// stored procedures behind Store.Finish (spec §4.2): the former for
	// the success/failure branches, the latter for the one branch that
	// re-opens a terminal-looking row. Both are conditional on the row
	// currently being doing and both increment attempts, since attempts
	// counts transitions out of doing regardless of outcome (spec §3,
	// §8 scenario 1).
	`CREATE OR REPLACE FUNCTION procrastinate_finish_job(p_job_id bigint, p_status text)
	RETURNS boolean AS $$
	DECLARE
		affected integer;
	BEGIN
		UPDATE procrastinate_jobs
		SET status = p_status, attempts = attempts + 1, worker_id = NULL, updated_at = now()
		WHERE id = p_job_id AND status = 'doing';

		GET DIAGNOSTICS affected = ROW_COUNT;
		IF affected = 0 THEN
			RETURN false;
		END IF;

		INSERT INTO procrastinate_events (job_id, type) VALUES (p_job_id, p_status);
		RETURN true;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE FUNCTION procrastinate_retry_job(p_job_id bigint, p_scheduled_for timestamptz)
	RETURNS boolean AS $$
	DECLARE
		affected integer;
	BEGIN
		UPDATE procrastinate_jobs
		SET status = 'todo', scheduled_for = p_scheduled_for, attempts = attempts + 1, worker_id = NULL, updated_at = now()
		WHERE id = p_job_id AND status = 'doing';

		GET DIAGNOSTICS affected = ROW_COUNT;
		IF affected = 0 THEN
			RETURN false;
		END IF;

		INSERT INTO procrastinate_events (job_id, type) VALUES (p_job_id, 'retried');
		RETURN true;
	END;
	$$ LANGUAGE plpgsql`,

	// procrastinate_defer_periodic_job backs Store.DeferPeriodic (spec
	// §4.4): the job insert and the periodic-slot dedup insert happen in
	// one function invocation, so either both commit or neither does. A
	// unique_violation on the slot means some other deferrer already won
	// this (task, cron, slot) triple; plpgsql rolls the whole BEGIN block
	// back to its implicit savepoint when the exception is caught, which
	// undoes the job insert along with the slot insert, so there is
	// nothing left to clean up by hand.
	`CREATE OR REPLACE FUNCTION procrastinate_defer_periodic_job(
		p_task text, p_cron text, p_slot timestamptz, p_queue text, p_args jsonb
	) RETURNS TABLE(job_id bigint, enqueued boolean) AS $$
	DECLARE
		new_id bigint;
	BEGIN
		INSERT INTO procrastinate_jobs (queue_name, task_name, args, status)
		VALUES (p_queue, p_task, p_args, 'todo')
		RETURNING id INTO new_id;

		INSERT INTO procrastinate_periodic_defers (task_name, cron_expr, defer_slot, job_id)
		VALUES (p_task, p_cron, p_slot, new_id);

		INSERT INTO procrastinate_events (job_id, type) VALUES (new_id, 'deferred');

		RETURN QUERY SELECT new_id, true;
	EXCEPTION WHEN unique_violation THEN
		RETURN QUERY SELECT NULL::bigint, false;
	END;
	$$ LANGUAGE plpgsql`,
}

// Bootstrap creates every table, index, and the notify trigger
// described in spec §6, if they do not already exist. It is safe to
// call on every process startup.
func Bootstrap(ctx context.Context, db *bun.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
