package config

import "time"

// CoreConfig points at the internal API of the main support backend,
// which receives delivery feedback and executes refunds and bot flows.
type CoreConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func loadCoreConfig() CoreConfig {
	return CoreConfig{
		BaseURL: getEnv("CORE_BASE_URL", "http://localhost:9090"),
		APIKey:  getEnv("CORE_API_KEY", ""),
		Timeout: getEnvDuration("CORE_TIMEOUT", 15*time.Second),
	}
}
