package queuex

import (
	"context"

	"github.com/chatdesk/courier/pkg/logx"
)

// Outcome is the resolved result of one processing attempt.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeRetry      Outcome = "retry"
	OutcomeRateLimit  Outcome = "rate_limited"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// Event is the structured record emitted after every resolved attempt.
// An external observability collaborator consumes these; the queue itself
// only records the dead-letter entry.
type Event struct {
	Queue      string  `json:"queue"`
	JobID      string  `json:"job_id"`
	Outcome    Outcome `json:"outcome"`
	DurationMs int64   `json:"duration_ms"`
	Attempt    int     `json:"attempt"`
}

// Emitter receives attempt events.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events through logx. It is the default collaborator
// when no external metrics sink is wired.
type LogEmitter struct{}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{}
}

// Emit logs the event with structured fields.
func (e *LogEmitter) Emit(_ context.Context, event Event) {
	entry := logx.WithFields(logx.Fields{
		"queue":       event.Queue,
		"job_id":      event.JobID,
		"outcome":     string(event.Outcome),
		"duration_ms": event.DurationMs,
		"attempt":     event.Attempt,
	})

	if event.Outcome == OutcomeDeadLetter {
		entry.Warn("queuex: job routed to dead-letter")
		return
	}
	entry.Debug("queuex: attempt resolved")
}
