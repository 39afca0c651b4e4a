package queuex

import (
	"encoding/json"
	"time"
)

// JobState represents the current state of a job. A job is in exactly one
// state; completed, failed_terminal and cancelled are terminal.
type JobState string

const (
	StateCreated        JobState = "created"
	StateActive         JobState = "active"
	StateRetryPending   JobState = "retry_pending"
	StateCompleted      JobState = "completed"
	StateFailedTerminal JobState = "failed_terminal"
	StateCancelled      JobState = "cancelled"
)

// Terminal reports whether the state is final and immutable.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailedTerminal, StateCancelled:
		return true
	}
	return false
}

// Job is one durable unit of outbound work.
type Job struct {
	ID      string          `json:"id" db:"id"`
	Queue   string          `json:"queue" db:"queue"`
	Payload json.RawMessage `json:"payload" db:"payload"`
	State   JobState        `json:"state" db:"state"`

	// Priority orders leasing within a queue, higher first.
	Priority int `json:"priority" db:"priority"`

	RetryCount int `json:"retry_count" db:"retry_count"`
	RetryLimit int `json:"retry_limit" db:"retry_limit"`

	// RetryDelaySeconds is the base delay before a retry becomes eligible.
	// With RetryBackoff set the delay doubles on every attempt.
	RetryDelaySeconds int  `json:"retry_delay_seconds" db:"retry_delay_seconds"`
	RetryBackoff      bool `json:"retry_backoff" db:"retry_backoff"`

	// SingletonKey is the idempotency key. At most one non-terminal job
	// per key may exist at any time.
	SingletonKey string `json:"singleton_key,omitempty" db:"singleton_key"`

	LastError string `json:"last_error,omitempty" db:"last_error"`

	// StartAfter is the earliest time the job may be leased.
	StartAfter time.Time `json:"start_after" db:"start_after"`

	// ExpireInSeconds bounds how long the job may stay active before the
	// sweeper counts the attempt as failed.
	ExpireInSeconds int `json:"expire_in_seconds" db:"expire_in_seconds"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// EnqueueOptions tunes a single enqueue. Zero values fall back to the
// client defaults.
type EnqueueOptions struct {
	Priority          int
	RetryLimit        int
	RetryDelaySeconds int
	RetryBackoff      bool
	StartAfter        time.Time
	ExpireInSeconds   int
	SingletonKey      string
}

// DeadLetterRecord preserves a terminally failed job for human follow-up.
type DeadLetterRecord struct {
	ID           string          `json:"id" db:"id"`
	Queue        string          `json:"queue" db:"queue"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	ErrorMessage string          `json:"error_message" db:"error_message"`
	ErrorDetail  string          `json:"error_detail,omitempty" db:"error_detail"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	FailedAt     time.Time       `json:"failed_at" db:"failed_at"`

	// NotifiedAt is set once the dead-letter worker has raised the alert.
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
}

// QueueStats aggregates job counts by state for one queue.
type QueueStats struct {
	Queue          string `json:"queue"`
	Created        int64  `json:"created"`
	Active         int64  `json:"active"`
	RetryPending   int64  `json:"retry_pending"`
	Completed      int64  `json:"completed"`
	FailedTerminal int64  `json:"failed"`
	Cancelled      int64  `json:"cancelled"`
}
