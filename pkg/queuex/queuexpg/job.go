package queuexpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chatdesk/courier/pkg/queuex"
)

// Enqueue inserts a job in created state. A singleton-key conflict with a
// non-terminal job returns the existing job's ID instead of creating a row.
func (s *PgStore) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts queuex.EnqueueOptions) (string, error) {
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now().UTC()
	}

	// Two passes cover the race where the conflicting job reaches a
	// terminal state between the insert and the duplicate lookup.
	for attempt := 0; attempt < 2; attempt++ {
		var id string
		err := s.db.QueryRowxContext(ctx, `
			INSERT INTO courier_jobs (
				id, queue, payload, state, priority, retry_limit,
				retry_delay_seconds, retry_backoff, singleton_key,
				start_after, expire_in_seconds
			) VALUES ($1, $2, $3, 'created', $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (singleton_key) WHERE state IN `+nonTerminalStates+` DO NOTHING
			RETURNING id`,
			uuid.New().String(), queue, []byte(payload), opts.Priority,
			opts.RetryLimit, opts.RetryDelaySeconds, opts.RetryBackoff,
			nullable(opts.SingletonKey), startAfter, opts.ExpireInSeconds,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", queue)
		}

		// Insert skipped: an active singleton holds the key.
		err = s.db.QueryRowxContext(ctx, `
			SELECT id FROM courier_jobs
			WHERE singleton_key = $1 AND state IN `+nonTerminalStates+`
			LIMIT 1`,
			opts.SingletonKey,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", queue)
		}
	}

	return "", pgErrors.NewWithMessage(ErrEnqueue, "singleton conflict could not be resolved").
		WithDetail("singleton_key", opts.SingletonKey)
}

// EnqueueBatch inserts all payloads inside one transaction; a failing
// insert rolls back the whole batch.
func (s *PgStore) EnqueueBatch(ctx context.Context, queue string, payloads []json.RawMessage, opts queuex.EnqueueOptions) ([]string, error) {
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrEnqueue, err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO courier_jobs (
				id, queue, payload, state, priority, retry_limit,
				retry_delay_seconds, retry_backoff,
				start_after, expire_in_seconds
			) VALUES ($1, $2, $3, 'created', $4, $5, $6, $7, $8, $9)`,
			id, queue, []byte(payload), opts.Priority,
			opts.RetryLimit, opts.RetryDelaySeconds, opts.RetryBackoff,
			startAfter, opts.ExpireInSeconds,
		); err != nil {
			return nil, pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", queue)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", queue)
	}
	return ids, nil
}

// LeaseBatch atomically claims up to batchSize eligible jobs. SKIP LOCKED
// keeps concurrent lease calls from handing out the same row.
func (s *PgStore) LeaseBatch(ctx context.Context, queue string, batchSize int) ([]*queuex.Job, error) {
	rows, err := s.db.QueryxContext(ctx, `
		WITH leased AS (
			UPDATE courier_jobs
			SET state = 'active', started_at = NOW()
			WHERE id IN (
				SELECT id FROM courier_jobs
				WHERE queue = $1
				  AND state IN ('created', 'retry_pending')
				  AND start_after <= NOW()
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM leased ORDER BY priority DESC, created_at ASC`,
		queue, batchSize,
	)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrLease, err).WithDetail("queue", queue)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Complete marks an active job completed.
func (s *PgStore) Complete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE courier_jobs
		SET state = 'completed', completed_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		jobID,
	)
	if err != nil {
		return pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	return requireRow(res, jobID)
}

// FailRetry records a failed attempt. The CASE expressions evaluate
// against the pre-update retry_count, so attempt n waits
// retry_delay_seconds * 2^(n-1) when backoff is enabled.
func (s *PgStore) FailRetry(ctx context.Context, jobID string, errMsg string) (*queuex.Job, error) {
	var row jobRow
	err := s.db.QueryRowxContext(ctx, `
		UPDATE courier_jobs
		SET retry_count = retry_count + 1,
			last_error = $2,
			state = CASE WHEN retry_count + 1 >= retry_limit
				THEN 'failed_terminal' ELSE 'retry_pending' END,
			completed_at = CASE WHEN retry_count + 1 >= retry_limit
				THEN NOW() ELSE NULL END,
			started_at = NULL,
			start_after = NOW() + (retry_delay_seconds *
				CASE WHEN retry_backoff THEN POWER(2, retry_count) ELSE 1 END
			) * INTERVAL '1 second'
		WHERE id = $1 AND state = 'active'
		RETURNING `+jobColumns,
		jobID, errMsg,
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pgErrors.New(ErrNotFound).WithDetail("job_id", jobID)
		}
		return nil, pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	return row.toJob(), nil
}

// FailTerminal bypasses the retry budget and finalizes the job.
func (s *PgStore) FailTerminal(ctx context.Context, jobID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE courier_jobs
		SET state = 'failed_terminal', last_error = $2, completed_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		jobID, errMsg,
	)
	if err != nil {
		return pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	return requireRow(res, jobID)
}

// Cancel cancels a job that has not been leased yet.
func (s *PgStore) Cancel(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE courier_jobs
		SET state = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND state IN ('created', 'retry_pending')`,
		jobID,
	)
	if err != nil {
		return false, pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	return affected > 0, nil
}

// DeleteQueued removes every not-yet-leased job from a queue.
func (s *PgStore) DeleteQueued(ctx context.Context, queue string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM courier_jobs
		WHERE queue = $1 AND state IN ('created', 'retry_pending')`,
		queue,
	)
	if err != nil {
		return pgErrors.NewWithCause(ErrQuery, err).WithDetail("queue", queue)
	}
	return nil
}

// ExpireStale force-fails active jobs past their expiration, counting the
// attempt as a timeout.
func (s *PgStore) ExpireStale(ctx context.Context) ([]*queuex.Job, error) {
	rows, err := s.db.QueryxContext(ctx, `
		UPDATE courier_jobs
		SET retry_count = retry_count + 1,
			last_error = 'job expired while active',
			state = CASE WHEN retry_count + 1 >= retry_limit
				THEN 'failed_terminal' ELSE 'retry_pending' END,
			completed_at = CASE WHEN retry_count + 1 >= retry_limit
				THEN NOW() ELSE NULL END,
			started_at = NULL,
			start_after = NOW() + (retry_delay_seconds *
				CASE WHEN retry_backoff THEN POWER(2, retry_count) ELSE 1 END
			) * INTERVAL '1 second'
		WHERE state = 'active'
		  AND started_at IS NOT NULL
		  AND started_at + expire_in_seconds * INTERVAL '1 second' <= NOW()
		RETURNING ` + jobColumns,
	)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Stats aggregates job counts by state for one queue.
func (s *PgStore) Stats(ctx context.Context, queue string) (*queuex.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM courier_jobs
		WHERE queue = $1
		GROUP BY state`,
		queue,
	)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err).WithDetail("queue", queue)
	}
	defer rows.Close()

	stats := &queuex.QueueStats{Queue: queue}
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, pgErrors.NewWithCause(ErrQuery, err).WithDetail("queue", queue)
		}
		switch queuex.JobState(state) {
		case queuex.StateCreated:
			stats.Created = count
		case queuex.StateActive:
			stats.Active = count
		case queuex.StateRetryPending:
			stats.RetryPending = count
		case queuex.StateCompleted:
			stats.Completed = count
		case queuex.StateFailedTerminal:
			stats.FailedTerminal = count
		case queuex.StateCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err).WithDetail("queue", queue)
	}
	return stats, nil
}

// GetJob retrieves a job by ID.
func (s *PgStore) GetJob(ctx context.Context, jobID string) (*queuex.Job, error) {
	var row jobRow
	err := s.db.QueryRowxContext(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs WHERE id = $1`,
		jobID,
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pgErrors.New(ErrNotFound).WithDetail("job_id", jobID)
		}
		return nil, pgErrors.NewWithCause(ErrQuery, err).WithDetail("job_id", jobID)
	}
	return row.toJob(), nil
}

func collectJobs(rows *sqlx.Rows) ([]*queuex.Job, error) {
	var jobs []*queuex.Job
	for rows.Next() {
		var row jobRow
		if err := rows.StructScan(&row); err != nil {
			return nil, pgErrors.NewWithCause(ErrQuery, err)
		}
		jobs = append(jobs, row.toJob())
	}
	if err := rows.Err(); err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err)
	}
	return jobs, nil
}

func requireRow(res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrResolve, err).WithDetail("job_id", jobID)
	}
	if affected == 0 {
		return pgErrors.New(ErrNotFound).WithDetail("job_id", jobID)
	}
	return nil
}
