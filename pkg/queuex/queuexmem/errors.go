package queuexmem

import "github.com/chatdesk/courier/pkg/errx"

var memErrors = errx.NewRegistry("QUEUEX_MEM")

var (
	ErrNotFound       = memErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrInvalidPayload = memErrors.Register("INVALID_PAYLOAD", errx.TypeValidation, 400, "Payload is not valid JSON")
)
