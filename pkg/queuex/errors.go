package queuex

import "github.com/chatdesk/courier/pkg/errx"

var queuexErrors = errx.NewRegistry("QUEUEX")

var (
	ErrJobNotFound     = queuexErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrInvalidJob      = queuexErrors.Register("INVALID_JOB", errx.TypeValidation, 400, "Invalid job definition")
	ErrInvalidSchedule = queuexErrors.Register("INVALID_SCHEDULE", errx.TypeValidation, 400, "Invalid cron expression")
	ErrNoHandler       = queuexErrors.Register("NO_HANDLER", errx.TypeValidation, 400, "No handler registered for queue")
	ErrAlreadyRunning  = queuexErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Queue client is already running")
	ErrStoreFailure    = queuexErrors.Register("STORE_FAILURE", errx.TypeInternal, 500, "Job store operation failed")
	ErrHandlerTimeout  = queuexErrors.Register("HANDLER_TIMEOUT", errx.TypeTimeout, 504, "Handler exceeded its execution timeout")
	ErrHandlerPanic    = queuexErrors.Register("HANDLER_PANIC", errx.TypeInternal, 500, "Handler panicked")
	ErrJobExpired      = queuexErrors.Register("JOB_EXPIRED", errx.TypeTimeout, 504, "Job exceeded its expiration while active")
)
