// Package queuex implements the reliable outbound delivery queue: a durable
// job store with at-least-once execution, singleton keys, per-queue polling
// workers, rate-limit admission, error classification and a dead-letter
// channel for terminal failures.
package queuex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/chatdesk/courier/pkg/errx"
	"github.com/chatdesk/courier/pkg/kernel"
	"github.com/chatdesk/courier/pkg/logx"
	"github.com/chatdesk/courier/pkg/ratex"
)

// DeadLetterQueueName is the reserved queue name of the terminal sink.
const DeadLetterQueueName = "dead-letter"

// HandlerFunc processes one leased job. Return nil on success; any error
// is classified into a retry decision. Handlers must be idempotent enough
// to be re-invoked on retry.
type HandlerFunc func(ctx context.Context, job *Job) error

// WorkerConfig tunes the polling loop of one queue. Zero values fall back
// to the client defaults.
type WorkerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	HandlerTimeout time.Duration

	// RateLimited marks queues whose handler calls the throttled external
	// API; their workers pass the shared admission gate before every call.
	RateLimited bool
}

type registration struct {
	handler HandlerFunc
	cfg     WorkerConfig
}

// Client is the entry point for producing and processing jobs.
type Client struct {
	store   Store
	opts    ClientOptions
	limiter ratex.Limiter
	emitter Emitter
	cron    *cron.Cron

	mu       sync.RWMutex
	handlers map[string]registration
	running  bool
}

// NewClient creates a queue client over the given store.
func NewClient(store Store, options ...ClientOption) *Client {
	c := &Client{
		store:    store,
		opts:     defaultClientOptions(),
		emitter:  NewLogEmitter(),
		cron:     cron.New(),
		handlers: make(map[string]registration),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// RegisterHandler adds a handler for a queue. Each registered queue gets
// its own polling loop when the client starts.
func (c *Client) RegisterHandler(queue string, handler HandlerFunc, cfg WorkerConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = c.opts.DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = c.opts.DefaultPollInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = c.opts.DefaultHandlerTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queue] = registration{handler: handler, cfg: cfg}
}

// ---------------------------------------------------------------------------
// Producer API
// ---------------------------------------------------------------------------

// Enqueue durably accepts a job. The external side effect happens later,
// on a worker; the only guarantee at return time is durable acceptance.
func (c *Client) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts EnqueueOptions) (string, error) {
	if err := c.validate(queue, payload); err != nil {
		return "", err
	}
	return c.store.Enqueue(ctx, queue, payload, c.applyDefaults(opts))
}

// EnqueueBatch accepts all payloads as one atomic unit.
func (c *Client) EnqueueBatch(ctx context.Context, queue string, payloads []json.RawMessage, opts EnqueueOptions) ([]string, error) {
	if queue == "" {
		return nil, queuexErrors.NewWithMessage(ErrInvalidJob, "queue name is required")
	}
	for _, p := range payloads {
		if len(p) == 0 {
			return nil, queuexErrors.NewWithMessage(ErrInvalidJob, "empty payload in batch")
		}
	}
	return c.store.EnqueueBatch(ctx, queue, payloads, c.applyDefaults(opts))
}

// Schedule enqueues a job that becomes eligible at runAt.
func (c *Client) Schedule(ctx context.Context, queue string, payload json.RawMessage, runAt time.Time, opts EnqueueOptions) (string, error) {
	opts.StartAfter = runAt
	return c.Enqueue(ctx, queue, payload, opts)
}

// ScheduleRecurring enqueues a copy of the payload on every tick of the
// cron expression. tz may be empty for the local timezone.
func (c *Client) ScheduleRecurring(queue string, payload json.RawMessage, cronExpr, tz string, opts EnqueueOptions) error {
	if err := c.validate(queue, payload); err != nil {
		return err
	}
	if tz != "" {
		cronExpr = fmt.Sprintf("CRON_TZ=%s %s", tz, cronExpr)
	}

	_, err := c.cron.AddFunc(cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.Enqueue(ctx, queue, payload, opts); err != nil {
			logx.WithError(err).Warnf("queuex: recurring enqueue on %q failed", queue)
		}
	})
	if err != nil {
		return queuexErrors.NewWithCause(ErrInvalidSchedule, err).WithDetail("expr", cronExpr)
	}
	return nil
}

// Cancel moves a created or retry_pending job to cancelled. Active and
// terminal jobs are left alone and false is returned.
func (c *Client) Cancel(ctx context.Context, queue, jobID string) (bool, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Queue != queue {
		return false, queuexErrors.New(ErrJobNotFound).WithDetail("job_id", jobID).WithDetail("queue", queue)
	}
	return c.store.Cancel(ctx, jobID)
}

// GetStats aggregates job counts by state for one queue.
func (c *Client) GetStats(ctx context.Context, queue string) (*QueueStats, error) {
	stats, err := c.store.Stats(ctx, queue)
	if err != nil {
		return nil, queuexErrors.NewWithCause(ErrStoreFailure, err).WithDetail("queue", queue)
	}
	return stats, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// DeleteQueuedJobs removes every not-yet-leased job from a queue.
func (c *Client) DeleteQueuedJobs(ctx context.Context, queue string) error {
	if err := c.store.DeleteQueued(ctx, queue); err != nil {
		return queuexErrors.NewWithCause(ErrStoreFailure, err).WithDetail("queue", queue)
	}
	return nil
}

// ListDeadLetters pages through dead-letter records, newest first.
func (c *Client) ListDeadLetters(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[*DeadLetterRecord], error) {
	opts = opts.Normalize()
	items, total, err := c.store.ListDeadLetters(ctx, opts.PageSize, opts.Offset())
	if err != nil {
		return kernel.Paginated[*DeadLetterRecord]{}, errx.Wrap(err, "listing dead letters failed", errx.TypeInternal)
	}
	return kernel.NewPaginated(items, opts.Page, opts.PageSize, total), nil
}

func (c *Client) validate(queue string, payload json.RawMessage) error {
	if queue == "" {
		return queuexErrors.NewWithMessage(ErrInvalidJob, "queue name is required")
	}
	if len(payload) == 0 {
		return queuexErrors.NewWithMessage(ErrInvalidJob, "payload is required")
	}
	return nil
}

func (c *Client) applyDefaults(opts EnqueueOptions) EnqueueOptions {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = c.opts.DefaultRetryLimit
	}
	if opts.RetryDelaySeconds <= 0 {
		opts.RetryDelaySeconds = c.opts.DefaultRetryDelaySeconds
	}
	if opts.ExpireInSeconds <= 0 {
		opts.ExpireInSeconds = c.opts.DefaultExpireSeconds
	}
	return opts
}

// ---------------------------------------------------------------------------
// Worker engine
// ---------------------------------------------------------------------------

// Start runs one polling loop per registered queue plus the expiration
// sweeper and the dead-letter worker. It blocks until ctx is cancelled,
// then drains in-flight jobs up to the shutdown timeout. ACTIVE jobs left
// behind by a hard stop are recovered by the sweeper after restart.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return queuexErrors.New(ErrAlreadyRunning)
	}
	if len(c.handlers) == 0 {
		c.mu.Unlock()
		return queuexErrors.New(ErrNoHandler)
	}
	c.running = true
	queues := make(map[string]registration, len(c.handlers))
	for q, reg := range c.handlers {
		queues[q] = reg
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logx.Infof("queuex: starting workers for %d queues", len(queues))
	c.cron.Start()

	var wg sync.WaitGroup
	for q, reg := range queues {
		wg.Add(1)
		go func(queue string, reg registration) {
			defer wg.Done()
			c.queueLoop(ctx, queue, reg)
		}(q, reg)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sweepLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.deadLetterLoop(ctx)
	}()

	<-ctx.Done()
	logx.Info("queuex: shutting down workers...")
	<-c.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("queuex: all workers stopped")
	case <-time.After(c.opts.ShutdownTimeout):
		logx.Warn("queuex: shutdown timed out, leftover active jobs will be expired on restart")
	}

	return nil
}

func (c *Client) queueLoop(ctx context.Context, queue string, reg registration) {
	ticker := time.NewTicker(reg.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := c.store.LeaseBatch(ctx, queue, reg.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("queuex: lease on %q failed", queue)
			continue
		}

		// Jobs in one lease batch run sequentially: the singleton-key
		// guarantee holds trivially within a queue.
		for _, job := range jobs {
			c.processJob(ctx, reg, job)
		}
	}
}

func (c *Client) processJob(ctx context.Context, reg registration, job *Job) {
	if reg.cfg.RateLimited && c.limiter != nil {
		if err := c.limiter.Admit(ctx); err != nil {
			// Shutdown while waiting for budget. The job stays active
			// and is recovered by the expiration sweep.
			return
		}
	}

	attempt := job.RetryCount + 1
	start := time.Now()
	err := c.runHandler(ctx, reg, job)
	c.resolve(ctx, job, attempt, time.Since(start).Milliseconds(), err)
}

// runHandler invokes the handler under a hard timeout. Exceeding the
// timeout counts as a failed attempt; a panicking handler never crashes
// the worker.
func (c *Client) runHandler(ctx context.Context, reg registration, job *Job) error {
	// In-flight jobs get to finish during graceful shutdown; the timeout
	// is the only bound on execution.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reg.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- queuexErrors.NewWithMessage(ErrHandlerPanic, fmt.Sprintf("handler panic: %v", r)).
					WithDetail("job_id", job.ID)
			}
		}()
		done <- reg.handler(hctx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return queuexErrors.NewWithCause(ErrHandlerTimeout, hctx.Err()).WithDetail("job_id", job.ID)
	}
}

// resolve settles one attempt against the store. Store resolution must
// survive shutdown, so it runs on an uncancellable context.
func (c *Client) resolve(ctx context.Context, job *Job, attempt int, durationMs int64, handlerErr error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if handlerErr == nil {
		if err := c.store.Complete(rctx, job.ID); err != nil {
			logx.WithError(err).Errorf("queuex: failed to complete job %s", job.ID)
			return
		}
		c.emitter.Emit(rctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: OutcomeCompleted, DurationMs: durationMs, Attempt: attempt})
		return
	}

	class := Classify(handlerErr)
	logx.WithError(handlerErr).
		WithField("classification", class.String()).
		Warnf("queuex: job %s on %q failed (attempt %d)", job.ID, job.Queue, attempt)

	if class == NonRetryable {
		if err := c.store.FailTerminal(rctx, job.ID, handlerErr.Error()); err != nil {
			logx.WithError(err).Errorf("queuex: failed to terminal-fail job %s", job.ID)
			return
		}
		c.routeDeadLetter(rctx, job, handlerErr, attempt)
		c.emitter.Emit(rctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: OutcomeDeadLetter, DurationMs: durationMs, Attempt: attempt})
		return
	}

	updated, err := c.store.FailRetry(rctx, job.ID, handlerErr.Error())
	if err != nil {
		logx.WithError(err).Errorf("queuex: failed to retry-fail job %s", job.ID)
		return
	}

	if updated.State == StateFailedTerminal {
		// Retry budget exhausted: the store promoted the job.
		c.routeDeadLetter(rctx, updated, handlerErr, updated.RetryCount)
		c.emitter.Emit(rctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: OutcomeDeadLetter, DurationMs: durationMs, Attempt: attempt})
		return
	}

	outcome := OutcomeRetry
	if class == RateLimited {
		outcome = OutcomeRateLimit
	}
	c.emitter.Emit(rctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: outcome, DurationMs: durationMs, Attempt: attempt})
}

// routeDeadLetter persists the terminal failure for human follow-up.
// Dead letters are never resubmitted to their origin queue.
func (c *Client) routeDeadLetter(ctx context.Context, job *Job, cause error, attempts int) {
	rec := &DeadLetterRecord{
		ID:           uuid.New().String(),
		Queue:        job.Queue,
		Payload:      job.Payload,
		ErrorMessage: cause.Error(),
		ErrorDetail:  errorDetail(cause),
		AttemptCount: attempts,
		FailedAt:     time.Now().UTC(),
	}
	if err := c.store.PushDeadLetter(ctx, rec); err != nil {
		logx.WithError(err).
			WithField("job_id", job.ID).
			Error("queuex: failed to persist dead-letter record")
	}
}

// errorDetail serializes the structured part of an errx error, if any.
func errorDetail(err error) string {
	e := errx.AsError(err)
	if e == nil {
		return ""
	}
	detail, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		return ""
	}
	return string(detail)
}

// sweepLoop periodically force-fails active jobs past their expiration so
// no job stays active forever.
func (c *Client) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		expired, err := c.store.ExpireStale(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warn("queuex: expiration sweep failed")
			continue
		}
		if len(expired) == 0 {
			continue
		}

		logx.Warnf("queuex: expired %d stale jobs", len(expired))
		for _, job := range expired {
			cause := queuexErrors.New(ErrJobExpired).WithDetail("job_id", job.ID)
			if job.State == StateFailedTerminal {
				c.routeDeadLetter(ctx, job, cause, job.RetryCount)
				c.emitter.Emit(ctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: OutcomeDeadLetter, Attempt: job.RetryCount})
				continue
			}
			c.emitter.Emit(ctx, Event{Queue: job.Queue, JobID: job.ID, Outcome: OutcomeRetry, Attempt: job.RetryCount})
		}
	}
}

// deadLetterLoop is the log/alert-only worker on the dead-letter channel.
// It never retries and never resubmits to the origin queue.
func (c *Client) deadLetterLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.DefaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := c.store.LeaseDeadLetters(ctx, c.opts.DeadLetterBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warn("queuex: dead-letter lease failed")
			continue
		}

		for _, rec := range records {
			logx.WithFields(logx.Fields{
				"dead_letter_id": rec.ID,
				"queue":          rec.Queue,
				"attempts":       rec.AttemptCount,
				"failed_at":      rec.FailedAt.Format(time.RFC3339),
				"error":          rec.ErrorMessage,
			}).Error("queuex: job requires operator attention")
		}
	}
}
