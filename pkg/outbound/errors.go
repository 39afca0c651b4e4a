package outbound

import "github.com/chatdesk/courier/pkg/errx"

var outboundErrors = errx.NewRegistry("OUTBOUND")

var (
	ErrInvalidPayload = outboundErrors.Register("INVALID_PAYLOAD", errx.TypeValidation, 400, "Invalid outbound payload")

	// ErrBadJobPayload marks a stored payload that no longer unmarshals.
	// It is a validation error so the classifier short-circuits it to the
	// dead-letter channel instead of burning retries.
	ErrBadJobPayload = outboundErrors.Register("BAD_JOB_PAYLOAD", errx.TypeValidation, 400, "Stored job payload is malformed")
)
