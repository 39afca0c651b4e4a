package queuex_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chatdesk/courier/pkg/queuex"
	"github.com/chatdesk/courier/pkg/wapp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want queuex.Classification
	}{
		{
			name: "plain error defaults to retryable",
			err:  errors.New("connection reset by peer"),
			want: queuex.Retryable,
		},
		{
			name: "deadline exceeded is retryable",
			err:  context.DeadlineExceeded,
			want: queuex.Retryable,
		},
		{
			name: "wrapped cancellation is retryable",
			err:  fmt.Errorf("send: %w", context.Canceled),
			want: queuex.Retryable,
		},
		{
			name: "whatsapp 429 is rate limited",
			err:  wapp.ParseAPIError(429, []byte(`{"error":{"message":"Too many requests"}}`)),
			want: queuex.RateLimited,
		},
		{
			name: "whatsapp invalid recipient is non-retryable",
			err:  wapp.ParseAPIError(400, []byte(`{"error":{"message":"Invalid recipient","code":131026}}`)),
			want: queuex.NonRetryable,
		},
		{
			name: "whatsapp server error is retryable",
			err:  wapp.ParseAPIError(500, []byte(`{"error":{"message":"Service temporarily unavailable"}}`)),
			want: queuex.Retryable,
		},
		{
			name: "rate limit message heuristic",
			err:  errors.New("api error: rate limit hit, slow down"),
			want: queuex.RateLimited,
		},
		{
			name: "invalid parameter message heuristic",
			err:  errors.New("graph api: invalid parameter"),
			want: queuex.NonRetryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queuex.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
