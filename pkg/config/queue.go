package config

import "time"

// QueueConfig configures the background queue engine.
type QueueConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	HandlerTimeout    time.Duration
	ShutdownTimeout   time.Duration
	ExpireInterval    time.Duration
	DefaultRetryLimit int
	DefaultRetryDelay time.Duration
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		BatchSize:         getEnvInt("QUEUE_BATCH_SIZE", 10),
		PollInterval:      getEnvDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
		HandlerTimeout:    getEnvDuration("QUEUE_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownTimeout:   getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		ExpireInterval:    getEnvDuration("QUEUE_EXPIRE_INTERVAL", time.Minute),
		DefaultRetryLimit: getEnvInt("QUEUE_DEFAULT_RETRY_LIMIT", 3),
		DefaultRetryDelay: getEnvDuration("QUEUE_DEFAULT_RETRY_DELAY", 30*time.Second),
	}
}
