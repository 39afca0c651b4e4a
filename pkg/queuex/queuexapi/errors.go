package queuexapi

import "github.com/chatdesk/courier/pkg/errx"

var apiErrors = errx.NewRegistry("QUEUEX_API")

var (
	ErrUnauthorized = apiErrors.Register("UNAUTHORIZED", errx.TypeAuthorization, 401, "Missing or invalid bearer token")
	ErrBadRequest   = apiErrors.Register("BAD_REQUEST", errx.TypeValidation, 400, "Invalid request")
)
