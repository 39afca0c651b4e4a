package queuexmem_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/chatdesk/courier/pkg/errx"
	"github.com/chatdesk/courier/pkg/queuex"
	"github.com/chatdesk/courier/pkg/queuex/queuexmem"
)

// fakeClock lets tests fast-forward retry delays and expirations.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*queuexmem.MemoryStore, *fakeClock) {
	t.Helper()
	store := queuexmem.NewMemoryStore()
	clock := newFakeClock()
	store.SetClock(clock.Now)
	return store, clock
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

// --- Enqueue / Lease ---

func TestEnqueueAndLease(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "send-text", payload(t, map[string]string{"text": "hi"}), queuex.EnqueueOptions{RetryLimit: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := store.LeaseBatch(ctx, "send-text", 10)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("expected 1 leased job %s, got %+v", id, jobs)
	}
	if jobs[0].State != queuex.StateActive {
		t.Fatalf("expected active state, got %s", jobs[0].State)
	}
	if jobs[0].StartedAt == nil {
		t.Fatal("expected StartedAt to be set on lease")
	}

	// A second lease must find nothing.
	jobs, _ = store.LeaseBatch(ctx, "send-text", 10)
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs on second lease, got %d", len(jobs))
	}
}

func TestLeaseOrdersByPriorityThenAge(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	low1, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{Priority: 0})
	clock.Advance(time.Second)
	high, _ := store.Enqueue(ctx, "q", payload(t, 2), queuex.EnqueueOptions{Priority: 5})
	clock.Advance(time.Second)
	low2, _ := store.Enqueue(ctx, "q", payload(t, 3), queuex.EnqueueOptions{Priority: 0})

	jobs, err := store.LeaseBatch(ctx, "q", 10)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	got := []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}
	want := []string{high, low1, low2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lease order: got %v, want %v", got, want)
		}
	}
}

func TestLeaseRespectsStartAfter(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{
		StartAfter: clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if jobs, _ := store.LeaseBatch(ctx, "q", 10); len(jobs) != 0 {
		t.Fatalf("expected scheduled job to stay hidden, leased %d", len(jobs))
	}

	clock.Advance(time.Hour + time.Second)
	if jobs, _ := store.LeaseBatch(ctx, "q", 10); len(jobs) != 1 {
		t.Fatalf("expected scheduled job to become eligible, leased %d", len(jobs))
	}
}

func TestEnqueueBatchCreatesAllJobs(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	payloads := []json.RawMessage{payload(t, 1), payload(t, 2), payload(t, 3)}
	ids, err := store.EnqueueBatch(ctx, "q", payloads, queuex.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	stats, _ := store.Stats(ctx, "q")
	if stats.Created != 3 {
		t.Fatalf("expected 3 created jobs, got %d", stats.Created)
	}
}

func TestEnqueueBatchRollsBackOnBadPayload(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	payloads := []json.RawMessage{
		payload(t, 1),
		payload(t, 2),
		json.RawMessage(`{"broken`),
	}
	_, err := store.EnqueueBatch(ctx, "q", payloads, queuex.EnqueueOptions{})
	if !errx.IsCode(err, queuexmem.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload error, got %v", err)
	}

	stats, _ := store.Stats(ctx, "q")
	if stats.Created != 0 {
		t.Fatalf("expected no jobs after rollback, got %d created", stats.Created)
	}
}

func TestConcurrentLeaseNeverDoubleClaims(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := store.Enqueue(ctx, "q", payload(t, "x"), queuex.EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := store.LeaseBatch(ctx, "q", 5)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("expected all 50 jobs leased, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s leased %d times", id, n)
		}
	}
}

// --- Singleton keys ---

func TestSingletonKeyReturnsExistingJob(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	opts := queuex.EnqueueOptions{SingletonKey: "case:7:message:42"}
	first, err := store.Enqueue(ctx, "send-text", payload(t, 1), opts)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := store.Enqueue(ctx, "send-text", payload(t, 1), opts)
	if err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if first != second {
		t.Fatalf("expected duplicate to return existing ID %s, got %s", first, second)
	}

	stats, _ := store.Stats(ctx, "send-text")
	if stats.Created != 1 {
		t.Fatalf("expected a single created job, got %d", stats.Created)
	}
}

func TestSingletonKeyReleasedOnCompletion(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	opts := queuex.EnqueueOptions{SingletonKey: "case:7:message:42"}
	first, _ := store.Enqueue(ctx, "send-text", payload(t, 1), opts)

	jobs, _ := store.LeaseBatch(ctx, "send-text", 1)
	if err := store.Complete(ctx, jobs[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	second, err := store.Enqueue(ctx, "send-text", payload(t, 1), opts)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh job once the previous one completed")
	}
}

// --- Retry state machine ---

func TestFailRetrySchedulesExponentialBackoff(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{
		RetryLimit:        3,
		RetryDelaySeconds: 10,
		RetryBackoff:      true,
	})

	// Attempt 1 fails: next try after base delay.
	store.LeaseBatch(ctx, "q", 1)
	job, err := store.FailRetry(ctx, id, "boom")
	if err != nil {
		t.Fatalf("fail retry: %v", err)
	}
	if job.State != queuex.StateRetryPending || job.RetryCount != 1 {
		t.Fatalf("after 1st failure: state=%s count=%d", job.State, job.RetryCount)
	}
	if want := clock.Now().Add(10 * time.Second); !job.StartAfter.Equal(want) {
		t.Fatalf("after 1st failure: start_after=%v want %v", job.StartAfter, want)
	}

	// Attempt 2 fails: delay doubles.
	clock.Advance(11 * time.Second)
	store.LeaseBatch(ctx, "q", 1)
	job, _ = store.FailRetry(ctx, id, "boom")
	if want := clock.Now().Add(20 * time.Second); !job.StartAfter.Equal(want) {
		t.Fatalf("after 2nd failure: start_after=%v want %v", job.StartAfter, want)
	}

	// Attempt 3 fails: budget exhausted.
	clock.Advance(21 * time.Second)
	store.LeaseBatch(ctx, "q", 1)
	job, _ = store.FailRetry(ctx, id, "boom")
	if job.State != queuex.StateFailedTerminal {
		t.Fatalf("after 3rd failure: expected failed_terminal, got %s", job.State)
	}
	if job.RetryCount != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", job.RetryCount)
	}
}

func TestFailTerminalBypassesRetryBudget(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{RetryLimit: 3})
	store.LeaseBatch(ctx, "q", 1)

	if err := store.FailTerminal(ctx, id, "invalid recipient"); err != nil {
		t.Fatalf("fail terminal: %v", err)
	}
	job, _ := store.GetJob(ctx, id)
	if job.State != queuex.StateFailedTerminal {
		t.Fatalf("expected failed_terminal, got %s", job.State)
	}
	if job.LastError != "invalid recipient" {
		t.Fatalf("expected last error recorded, got %q", job.LastError)
	}
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{
		RetryLimit:      1,
		ExpireInSeconds: 60,
	})
	store.LeaseBatch(ctx, "q", 1)

	// Sweep past the expiration deadline. The single-attempt budget
	// promotes the job straight to failed_terminal.
	clock.Advance(61 * time.Second)
	if expired, _ := store.ExpireStale(ctx); len(expired) != 1 {
		t.Fatalf("expected 1 expired job, got %d", len(expired))
	}

	// A handler that was still running when the sweeper fired must not
	// be able to resurrect the job.
	if err := store.Complete(ctx, id); !errx.IsCode(err, queuexmem.ErrNotFound) {
		t.Fatalf("expected not-found on completing a terminal job, got %v", err)
	}
	if _, err := store.FailRetry(ctx, id, "late failure"); !errx.IsCode(err, queuexmem.ErrNotFound) {
		t.Fatalf("expected not-found on retry-failing a terminal job, got %v", err)
	}
	if err := store.FailTerminal(ctx, id, "late failure"); !errx.IsCode(err, queuexmem.ErrNotFound) {
		t.Fatalf("expected not-found on terminal-failing a terminal job, got %v", err)
	}

	job, _ := store.GetJob(ctx, id)
	if job.State != queuex.StateFailedTerminal {
		t.Fatalf("expected failed_terminal, got %s", job.State)
	}
	if job.LastError != "job expired while active" {
		t.Fatalf("expected the expiration error to survive, got %q", job.LastError)
	}
}

// --- Cancel / purge ---

func TestCancelOnlyAffectsQueuedJobs(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{})
	ok, err := store.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("expected created job to cancel, ok=%v err=%v", ok, err)
	}

	id2, _ := store.Enqueue(ctx, "q", payload(t, 2), queuex.EnqueueOptions{})
	store.LeaseBatch(ctx, "q", 1)
	ok, err = store.Cancel(ctx, id2)
	if err != nil {
		t.Fatalf("cancel active: %v", err)
	}
	if ok {
		t.Fatal("expected active job to refuse cancellation")
	}
}

func TestDeleteQueuedReleasesSingletonKeys(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	opts := queuex.EnqueueOptions{SingletonKey: "refund:pay_9"}
	first, _ := store.Enqueue(ctx, "process-refund", payload(t, 1), opts)

	if err := store.DeleteQueued(ctx, "process-refund"); err != nil {
		t.Fatalf("delete queued: %v", err)
	}

	second, err := store.Enqueue(ctx, "process-refund", payload(t, 1), opts)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if second == first {
		t.Fatal("expected purge to release the singleton key")
	}
}

// --- Expiration sweep ---

func TestExpireStaleCountsAttempt(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	id, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{
		RetryLimit:        3,
		RetryDelaySeconds: 5,
		ExpireInSeconds:   60,
	})
	store.LeaseBatch(ctx, "q", 1)

	clock.Advance(30 * time.Second)
	if expired, _ := store.ExpireStale(ctx); len(expired) != 0 {
		t.Fatalf("job expired too early: %d", len(expired))
	}

	clock.Advance(31 * time.Second)
	expired, err := store.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != id {
		t.Fatalf("expected job %s to expire, got %+v", id, expired)
	}
	if expired[0].State != queuex.StateRetryPending || expired[0].RetryCount != 1 {
		t.Fatalf("expected expiration to count as a failed attempt: state=%s count=%d",
			expired[0].State, expired[0].RetryCount)
	}
}

// --- Stats ---

func TestStatsCountsByState(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	a, _ := store.Enqueue(ctx, "q", payload(t, 1), queuex.EnqueueOptions{RetryLimit: 3})
	store.Enqueue(ctx, "q", payload(t, 2), queuex.EnqueueOptions{})
	store.Enqueue(ctx, "other", payload(t, 3), queuex.EnqueueOptions{})

	store.LeaseBatch(ctx, "q", 1)
	store.Complete(ctx, a)

	stats, err := store.Stats(ctx, "q")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 1 || stats.Created != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// --- Dead letters ---

func TestDeadLetterLeaseAndList(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	store.PushDeadLetter(ctx, &queuex.DeadLetterRecord{
		ID: "dl-1", Queue: "send-text", ErrorMessage: "boom", FailedAt: clock.Now(),
	})
	clock.Advance(time.Minute)
	store.PushDeadLetter(ctx, &queuex.DeadLetterRecord{
		ID: "dl-2", Queue: "send-text", ErrorMessage: "boom", FailedAt: clock.Now(),
	})

	leased, err := store.LeaseDeadLetters(ctx, 1)
	if err != nil {
		t.Fatalf("lease dead letters: %v", err)
	}
	if len(leased) != 1 || leased[0].NotifiedAt == nil {
		t.Fatalf("expected 1 notified record, got %+v", leased)
	}

	// Leasing again skips the already-notified record.
	leased, _ = store.LeaseDeadLetters(ctx, 10)
	if len(leased) != 1 {
		t.Fatalf("expected only the remaining record, got %d", len(leased))
	}

	page, total, err := store.ListDeadLetters(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	if len(page) != 1 || page[0].ID != "dl-2" {
		t.Fatalf("expected newest record first, got %+v", page)
	}
}
