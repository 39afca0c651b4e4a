package queuex

import (
	"context"
	"encoding/json"
)

// Store is the durable backend for jobs and dead letters. Implementations
// must make LeaseBatch an atomic claim: two concurrent callers never
// receive the same job.
type Store interface {
	// Enqueue inserts a job in created state and returns its ID. When the
	// options carry a singleton key that is already attached to a
	// non-terminal job, the existing job's ID is returned and no row is
	// created.
	Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts EnqueueOptions) (string, error)

	// EnqueueBatch inserts all payloads as one atomic unit. Either every
	// job is created or none are.
	EnqueueBatch(ctx context.Context, queue string, payloads []json.RawMessage, opts EnqueueOptions) ([]string, error)

	// LeaseBatch atomically claims up to batchSize eligible jobs (created,
	// or retry_pending past their start_after) and marks them active.
	LeaseBatch(ctx context.Context, queue string, batchSize int) ([]*Job, error)

	// Complete marks an active job completed.
	Complete(ctx context.Context, jobID string) error

	// FailRetry records a failed attempt. It increments retry_count and
	// either schedules the next attempt (retry_pending) or, when the retry
	// budget is exhausted, promotes the job to failed_terminal. The
	// updated job is returned so callers can observe the promotion.
	FailRetry(ctx context.Context, jobID string, errMsg string) (*Job, error)

	// FailTerminal moves an active job straight to failed_terminal,
	// bypassing the retry budget.
	FailTerminal(ctx context.Context, jobID string, errMsg string) error

	// Cancel moves a created or retry_pending job to cancelled. It
	// returns false when the job was already leased or terminal.
	Cancel(ctx context.Context, jobID string) (bool, error)

	// DeleteQueued removes all not-yet-leased jobs from a queue.
	DeleteQueued(ctx context.Context, queue string) error

	// ExpireStale force-fails active jobs that outlived their expiration,
	// counting the attempt as a timeout. The affected jobs are returned in
	// their post-sweep state.
	ExpireStale(ctx context.Context) ([]*Job, error)

	// Stats aggregates job counts by state for one queue.
	Stats(ctx context.Context, queue string) (*QueueStats, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// PushDeadLetter persists a dead-letter record.
	PushDeadLetter(ctx context.Context, rec *DeadLetterRecord) error

	// LeaseDeadLetters atomically claims up to limit un-notified records,
	// marking them notified.
	LeaseDeadLetters(ctx context.Context, limit int) ([]*DeadLetterRecord, error)

	// ListDeadLetters returns records newest-first plus the total count.
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*DeadLetterRecord, int, error)
}
