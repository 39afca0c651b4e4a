// Package queuexmem implements queuex.Store in process memory. It carries
// the exact state-machine semantics of the durable store and backs unit
// tests and local development.
package queuexmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatdesk/courier/pkg/queuex"
)

// MemoryStore is a mutex-guarded in-memory queuex.Store.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*queuex.Job
	singletons  map[string]string // singleton key -> non-terminal job ID
	deadLetters []*queuex.DeadLetterRecord

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*queuex.Job),
		singletons: make(map[string]string),
		now:        time.Now,
	}
}

// SetClock overrides the store clock. Tests use it to fast-forward retry
// delays and expirations.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue inserts a job, honoring the singleton-key guarantee.
func (s *MemoryStore) Enqueue(_ context.Context, queue string, payload json.RawMessage, opts queuex.EnqueueOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(queue, payload, opts)
}

// EnqueueBatch inserts all payloads or none. Singleton keys are not
// supported on batches; each payload gets its own row.
func (s *MemoryStore) EnqueueBatch(_ context.Context, queue string, payloads []json.RawMessage, opts queuex.EnqueueOptions) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts.SingletonKey = ""
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := s.insert(queue, p, opts)
		if err != nil {
			for _, inserted := range ids {
				delete(s.jobs, inserted)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// insert must be called with the lock held. Malformed payloads are
// rejected the way the durable store's jsonb column rejects them.
func (s *MemoryStore) insert(queue string, payload json.RawMessage, opts queuex.EnqueueOptions) (string, error) {
	if !json.Valid(payload) {
		return "", memErrors.New(ErrInvalidPayload).WithDetail("queue", queue)
	}
	if opts.SingletonKey != "" {
		if existing, ok := s.singletons[opts.SingletonKey]; ok {
			return existing, nil
		}
	}

	now := s.now()
	startAfter := opts.StartAfter
	if startAfter.IsZero() {
		startAfter = now
	}

	job := &queuex.Job{
		ID:                uuid.New().String(),
		Queue:             queue,
		Payload:           payload,
		State:             queuex.StateCreated,
		Priority:          opts.Priority,
		RetryLimit:        opts.RetryLimit,
		RetryDelaySeconds: opts.RetryDelaySeconds,
		RetryBackoff:      opts.RetryBackoff,
		SingletonKey:      opts.SingletonKey,
		StartAfter:        startAfter,
		ExpireInSeconds:   opts.ExpireInSeconds,
		CreatedAt:         now,
	}
	s.jobs[job.ID] = job
	if job.SingletonKey != "" {
		s.singletons[job.SingletonKey] = job.ID
	}
	return job.ID, nil
}

// LeaseBatch claims up to batchSize eligible jobs. The whole operation
// runs under the store lock, so two concurrent callers can never claim
// the same job.
func (s *MemoryStore) LeaseBatch(_ context.Context, queue string, batchSize int) ([]*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	eligible := make([]*queuex.Job, 0, batchSize)
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		if job.State != queuex.StateCreated && job.State != queuex.StateRetryPending {
			continue
		}
		if job.StartAfter.After(now) {
			continue
		}
		eligible = append(eligible, job)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	leased := make([]*queuex.Job, 0, len(eligible))
	for _, job := range eligible {
		started := now
		job.State = queuex.StateActive
		job.StartedAt = &started
		leased = append(leased, copyJob(job))
	}
	return leased, nil
}

// Complete marks an active job completed.
func (s *MemoryStore) Complete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getActive(jobID)
	if err != nil {
		return err
	}
	s.finish(job, queuex.StateCompleted, "")
	return nil
}

// FailRetry records a failed attempt, scheduling the next one or
// promoting to failed_terminal on budget exhaustion.
func (s *MemoryStore) FailRetry(_ context.Context, jobID string, errMsg string) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getActive(jobID)
	if err != nil {
		return nil, err
	}
	s.failRetryLocked(job, errMsg)
	return copyJob(job), nil
}

// failRetryLocked must be called with the lock held.
func (s *MemoryStore) failRetryLocked(job *queuex.Job, errMsg string) {
	job.RetryCount++
	job.LastError = errMsg

	if job.RetryCount >= job.RetryLimit {
		s.finish(job, queuex.StateFailedTerminal, errMsg)
		return
	}

	delay := time.Duration(job.RetryDelaySeconds) * time.Second
	if job.RetryBackoff {
		delay <<= uint(job.RetryCount - 1)
	}
	job.State = queuex.StateRetryPending
	job.StartAfter = s.now().Add(delay)
	job.StartedAt = nil
}

// FailTerminal bypasses the retry budget entirely.
func (s *MemoryStore) FailTerminal(_ context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getActive(jobID)
	if err != nil {
		return err
	}
	s.finish(job, queuex.StateFailedTerminal, errMsg)
	return nil
}

// Cancel cancels a created or retry_pending job.
func (s *MemoryStore) Cancel(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(jobID)
	if err != nil {
		return false, err
	}
	if job.State != queuex.StateCreated && job.State != queuex.StateRetryPending {
		return false, nil
	}
	s.finish(job, queuex.StateCancelled, "")
	return true, nil
}

// DeleteQueued removes all not-yet-leased jobs from a queue.
func (s *MemoryStore) DeleteQueued(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		if job.State == queuex.StateCreated || job.State == queuex.StateRetryPending {
			if job.SingletonKey != "" {
				delete(s.singletons, job.SingletonKey)
			}
			delete(s.jobs, id)
		}
	}
	return nil
}

// ExpireStale force-fails active jobs past their expiration.
func (s *MemoryStore) ExpireStale(_ context.Context) ([]*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*queuex.Job
	for _, job := range s.jobs {
		if job.State != queuex.StateActive || job.StartedAt == nil {
			continue
		}
		deadline := job.StartedAt.Add(time.Duration(job.ExpireInSeconds) * time.Second)
		if deadline.After(now) {
			continue
		}
		s.failRetryLocked(job, "job expired while active")
		expired = append(expired, copyJob(job))
	}
	return expired, nil
}

// Stats aggregates job counts by state.
func (s *MemoryStore) Stats(_ context.Context, queue string) (*queuex.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &queuex.QueueStats{Queue: queue}
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		switch job.State {
		case queuex.StateCreated:
			stats.Created++
		case queuex.StateActive:
			stats.Active++
		case queuex.StateRetryPending:
			stats.RetryPending++
		case queuex.StateCompleted:
			stats.Completed++
		case queuex.StateFailedTerminal:
			stats.FailedTerminal++
		case queuex.StateCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(jobID)
	if err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

// PushDeadLetter persists a dead-letter record.
func (s *MemoryStore) PushDeadLetter(_ context.Context, rec *queuex.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.deadLetters = append(s.deadLetters, &clone)
	return nil
}

// LeaseDeadLetters claims up to limit un-notified records.
func (s *MemoryStore) LeaseDeadLetters(_ context.Context, limit int) ([]*queuex.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var leased []*queuex.DeadLetterRecord
	for _, rec := range s.deadLetters {
		if rec.NotifiedAt != nil {
			continue
		}
		notified := now
		rec.NotifiedAt = &notified
		clone := *rec
		leased = append(leased, &clone)
		if len(leased) >= limit {
			break
		}
	}
	return leased, nil
}

// ListDeadLetters returns records newest-first.
func (s *MemoryStore) ListDeadLetters(_ context.Context, limit, offset int) ([]*queuex.DeadLetterRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]*queuex.DeadLetterRecord, len(s.deadLetters))
	copy(ordered, s.deadLetters)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].FailedAt.After(ordered[j].FailedAt)
	})

	total := len(ordered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*queuex.DeadLetterRecord, 0, end-offset)
	for _, rec := range ordered[offset:end] {
		clone := *rec
		page = append(page, &clone)
	}
	return page, total, nil
}

// get must be called with the lock held.
func (s *MemoryStore) get(jobID string) (*queuex.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, memErrors.New(ErrNotFound).WithDetail("job_id", jobID)
	}
	return job, nil
}

// getActive resolves a job that is still leased. Resolving a job in any
// other state reports ErrNotFound, the same outcome the durable store's
// state-guarded UPDATEs produce. Must be called with the lock held.
func (s *MemoryStore) getActive(jobID string) (*queuex.Job, error) {
	job, err := s.get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State != queuex.StateActive {
		return nil, memErrors.New(ErrNotFound).WithDetail("job_id", jobID).WithDetail("state", string(job.State))
	}
	return job, nil
}

// finish moves a job into a terminal state and releases its singleton key.
// Must be called with the lock held.
func (s *MemoryStore) finish(job *queuex.Job, state queuex.JobState, errMsg string) {
	now := s.now()
	job.State = state
	job.CompletedAt = &now
	if errMsg != "" {
		job.LastError = errMsg
	}
	if job.SingletonKey != "" {
		delete(s.singletons, job.SingletonKey)
	}
}

func copyJob(job *queuex.Job) *queuex.Job {
	clone := *job
	if job.StartedAt != nil {
		started := *job.StartedAt
		clone.StartedAt = &started
	}
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
