package wapp

import (
	"encoding/json"
	"net/http"

	"github.com/chatdesk/courier/pkg/errx"
)

var wappErrors = errx.NewRegistry("WAPP")

var (
	ErrAPIRequest = wappErrors.Register(
		"API_REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Failed to reach the WhatsApp API",
	)

	ErrAPIResponse = wappErrors.Register(
		"API_RESPONSE_INVALID",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Invalid response from the WhatsApp API",
	)

	ErrAPIUnauthorized = wappErrors.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"Invalid or expired WhatsApp access token",
	)

	ErrAPIRateLimit = wappErrors.Register(
		"API_RATE_LIMIT",
		errx.TypeExternal,
		http.StatusTooManyRequests,
		"WhatsApp API rate limit exceeded",
	)

	ErrInvalidRecipient = wappErrors.Register(
		"INVALID_RECIPIENT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Recipient phone number rejected by the WhatsApp API",
	)

	ErrAPIServer = wappErrors.Register(
		"API_SERVER_ERROR",
		errx.TypeExternal,
		http.StatusBadGateway,
		"WhatsApp API server error",
	)

	ErrInvalidInput = wappErrors.Register(
		"INVALID_INPUT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Invalid message parameters",
	)

	ErrNotFound = wappErrors.Register(
		"API_NOT_FOUND",
		errx.TypeNotFound,
		http.StatusNotFound,
		"WhatsApp API resource not found",
	)
)

// apiErrorBody mirrors the Graph API error envelope.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ParseAPIError maps an HTTP failure from the Graph API onto the error
// taxonomy the classifier consumes. The HTTP status ends up in the
// "status_code" detail.
func ParseAPIError(statusCode int, body []byte) *errx.Error {
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)

	var code *errx.ErrorCode
	switch {
	case statusCode == http.StatusTooManyRequests:
		code = ErrAPIRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = ErrAPIUnauthorized
	case statusCode == http.StatusNotFound:
		code = ErrNotFound
	case statusCode == http.StatusBadRequest:
		code = ErrInvalidRecipient
	case statusCode >= 500:
		code = ErrAPIServer
	default:
		code = ErrAPIResponse
	}

	err := wappErrors.New(code).
		WithDetail("status_code", statusCode)
	if parsed.Error.Message != "" {
		err = err.WithDetail("api_message", parsed.Error.Message).
			WithDetail("api_code", parsed.Error.Code)
	}
	// Classification matches on the original status, not the registered one.
	err.HTTPStatus = statusCode
	return err
}
