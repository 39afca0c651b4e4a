// Package ratexredis implements ratex.Limiter on Redis so several service
// instances share one outbound budget. It keeps the same fixed-window
// semantics as the local limiter: one counter per wall-clock window,
// blocked callers wake at the window boundary.
package ratexredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow is a Redis-backed fixed-window limiter.
type FixedWindow struct {
	rdb     *redis.Client
	key     string
	ceiling int
	window  time.Duration
}

// NewFixedWindow creates a distributed limiter. key namespaces the counter
// so independent API surfaces can carry independent budgets.
func NewFixedWindow(rdb *redis.Client, key string, ceiling int, window time.Duration) *FixedWindow {
	if ceiling < 1 {
		ceiling = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{
		rdb:     rdb,
		key:     key,
		ceiling: ceiling,
		window:  window,
	}
}

func (l *FixedWindow) windowKey(start time.Time) string {
	return fmt.Sprintf("ratex:%s:%d", l.key, start.UnixNano())
}

// Admit blocks until the shared window has budget, then consumes one unit.
func (l *FixedWindow) Admit(ctx context.Context) error {
	for {
		now := time.Now()
		start := now.Truncate(l.window)
		key := l.windowKey(start)

		pipe := l.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		// Keep the counter around for one extra window so a slow reader
		// never resurrects an expired key at zero.
		pipe.Expire(ctx, key, 2*l.window)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("ratexredis: admit: %w", err)
		}

		if incr.Val() <= int64(l.ceiling) {
			return nil
		}

		wait := start.Add(l.window).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset deletes the counter for the current window.
func (l *FixedWindow) Reset() {
	start := time.Now().Truncate(l.window)
	l.rdb.Del(context.Background(), l.windowKey(start))
}
