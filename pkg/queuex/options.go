package queuex

import (
	"time"

	"github.com/chatdesk/courier/pkg/ratex"
)

// ClientOptions configures the queue client.
type ClientOptions struct {
	DefaultBatchSize         int
	DefaultPollInterval      time.Duration
	DefaultHandlerTimeout    time.Duration
	DefaultRetryLimit        int
	DefaultRetryDelaySeconds int
	DefaultExpireSeconds     int
	ShutdownTimeout          time.Duration
	ExpireInterval           time.Duration
	DeadLetterBatchSize      int
}

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		DefaultBatchSize:         10,
		DefaultPollInterval:      2 * time.Second,
		DefaultHandlerTimeout:    30 * time.Second,
		DefaultRetryLimit:        3,
		DefaultRetryDelaySeconds: 30,
		DefaultExpireSeconds:     300,
		ShutdownTimeout:          30 * time.Second,
		ExpireInterval:           time.Minute,
		DeadLetterBatchSize:      20,
	}
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*Client)

// WithRateLimiter sets the shared admission gate used by every queue whose
// handler targets the throttled external API.
func WithRateLimiter(l ratex.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithEmitter sets the observability collaborator for attempt events.
func WithEmitter(e Emitter) ClientOption {
	return func(c *Client) { c.emitter = e }
}

// WithDefaultBatchSize sets the lease batch size for queues that do not
// override it.
func WithDefaultBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.opts.DefaultBatchSize = n
		}
	}
}

// WithDefaultPollInterval sets the polling interval for queues that do not
// override it.
func WithDefaultPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.opts.DefaultPollInterval = d
		}
	}
}

// WithDefaultHandlerTimeout bounds handler execution for queues that do
// not override it.
func WithDefaultHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.opts.DefaultHandlerTimeout = d
		}
	}
}

// WithDefaultRetryPolicy sets the fallback retry budget and base delay.
func WithDefaultRetryPolicy(limit, delaySeconds int) ClientOption {
	return func(c *Client) {
		if limit > 0 {
			c.opts.DefaultRetryLimit = limit
		}
		if delaySeconds > 0 {
			c.opts.DefaultRetryDelaySeconds = delaySeconds
		}
	}
}

// WithShutdownTimeout sets the grace period for in-flight jobs on shutdown.
func WithShutdownTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.opts.ShutdownTimeout = d
		}
	}
}

// WithExpireInterval sets how often the stale-job sweeper runs.
func WithExpireInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.opts.ExpireInterval = d
		}
	}
}
