// Package ratex provides the admission gate that throttles outbound calls
// to the WhatsApp API. The gate never rejects work, it only delays it:
// Admit blocks until the current window has budget or the context ends.
package ratex

import (
	"context"
	"time"
)

// Limiter gates outbound calls against an external rate ceiling.
type Limiter interface {
	// Admit blocks until one unit of budget is available, then consumes
	// it. It returns an error only when ctx is cancelled while waiting.
	Admit(ctx context.Context) error

	// Reset clears the current window. Intended for tests and for
	// operators after a ceiling change.
	Reset()
}

// waitOrDone sleeps for d unless ctx ends first.
func waitOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
