package ratex

import (
	"context"
	"sync"
	"time"
)

// FixedWindow is a process-local fixed-window counter. Window boundaries
// are aligned to the wall clock (time truncated to the window length), not
// to the first admit, so every instance observing the same clock agrees on
// where a window starts.
type FixedWindow struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration

	windowStart time.Time
	count       int

	now func() time.Time
}

// NewFixedWindow creates a limiter allowing ceiling admits per window.
func NewFixedWindow(ceiling int, window time.Duration) *FixedWindow {
	if ceiling < 1 {
		ceiling = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindow{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}
}

// Admit blocks until the current window has budget, then consumes one unit.
func (l *FixedWindow) Admit(ctx context.Context) error {
	for {
		l.mu.Lock()

		now := l.now()
		start := now.Truncate(l.window)
		if !start.Equal(l.windowStart) {
			l.windowStart = start
			l.count = 0
		}

		if l.count < l.ceiling {
			l.count++
			l.mu.Unlock()
			return nil
		}

		wait := start.Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := waitOrDone(ctx, wait); err != nil {
			return err
		}
	}
}

// Reset clears the current window counter.
func (l *FixedWindow) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.windowStart = time.Time{}
}
