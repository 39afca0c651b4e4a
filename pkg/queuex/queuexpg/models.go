package queuexpg

import (
	"database/sql"
	"time"

	"github.com/chatdesk/courier/pkg/queuex"
)

// jobColumns is the canonical column list for courier_jobs queries.
const jobColumns = `id, queue, payload, state, priority, retry_count, retry_limit,
	retry_delay_seconds, retry_backoff, singleton_key, last_error,
	start_after, expire_in_seconds, created_at, started_at, completed_at`

// jobRow mirrors a courier_jobs row with nullable columns.
type jobRow struct {
	ID                string         `db:"id"`
	Queue             string         `db:"queue"`
	Payload           []byte         `db:"payload"`
	State             string         `db:"state"`
	Priority          int            `db:"priority"`
	RetryCount        int            `db:"retry_count"`
	RetryLimit        int            `db:"retry_limit"`
	RetryDelaySeconds int            `db:"retry_delay_seconds"`
	RetryBackoff      bool           `db:"retry_backoff"`
	SingletonKey      sql.NullString `db:"singleton_key"`
	LastError         sql.NullString `db:"last_error"`
	StartAfter        time.Time      `db:"start_after"`
	ExpireInSeconds   int            `db:"expire_in_seconds"`
	CreatedAt         time.Time      `db:"created_at"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toJob() *queuex.Job {
	job := &queuex.Job{
		ID:                r.ID,
		Queue:             r.Queue,
		Payload:           r.Payload,
		State:             queuex.JobState(r.State),
		Priority:          r.Priority,
		RetryCount:        r.RetryCount,
		RetryLimit:        r.RetryLimit,
		RetryDelaySeconds: r.RetryDelaySeconds,
		RetryBackoff:      r.RetryBackoff,
		SingletonKey:      r.SingletonKey.String,
		LastError:         r.LastError.String,
		StartAfter:        r.StartAfter,
		ExpireInSeconds:   r.ExpireInSeconds,
		CreatedAt:         r.CreatedAt,
	}
	if r.StartedAt.Valid {
		started := r.StartedAt.Time
		job.StartedAt = &started
	}
	if r.CompletedAt.Valid {
		completed := r.CompletedAt.Time
		job.CompletedAt = &completed
	}
	return job
}

// deadLetterColumns is the canonical column list for courier_dead_letters.
const deadLetterColumns = `id, queue, payload, error_message, error_detail,
	attempt_count, failed_at, notified_at`

// deadLetterRow mirrors a courier_dead_letters row.
type deadLetterRow struct {
	ID           string         `db:"id"`
	Queue        string         `db:"queue"`
	Payload      []byte         `db:"payload"`
	ErrorMessage string         `db:"error_message"`
	ErrorDetail  sql.NullString `db:"error_detail"`
	AttemptCount int            `db:"attempt_count"`
	FailedAt     time.Time      `db:"failed_at"`
	NotifiedAt   sql.NullTime   `db:"notified_at"`
}

func (r *deadLetterRow) toRecord() *queuex.DeadLetterRecord {
	rec := &queuex.DeadLetterRecord{
		ID:           r.ID,
		Queue:        r.Queue,
		Payload:      r.Payload,
		ErrorMessage: r.ErrorMessage,
		ErrorDetail:  r.ErrorDetail.String,
		AttemptCount: r.AttemptCount,
		FailedAt:     r.FailedAt,
	}
	if r.NotifiedAt.Valid {
		notified := r.NotifiedAt.Time
		rec.NotifiedAt = &notified
	}
	return rec
}

// nullable returns a NULL when the string is empty.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
