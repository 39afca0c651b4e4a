package config

import "time"

// RateLimitConfig configures the outbound admission gate.
type RateLimitConfig struct {
	// Ceiling is the maximum number of outbound calls per window.
	Ceiling int

	// Window is the fixed window length. WhatsApp business accounts are
	// throttled per second, so the default window is 1s.
	Window time.Duration

	// Distributed switches the limiter to the Redis-backed implementation
	// so multiple instances share one budget.
	Distributed bool
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Ceiling:     getEnvInt("RATE_LIMIT_CEILING", 50),
		Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Second),
		Distributed: getEnvBool("RATE_LIMIT_DISTRIBUTED", false),
	}
}
