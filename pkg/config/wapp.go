package config

import "time"

// WhatsAppConfig configures the WhatsApp Cloud API client.
type WhatsAppConfig struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

func loadWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{
		BaseURL:       getEnv("WAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
		AccessToken:   getEnv("WAPP_ACCESS_TOKEN", ""),
		PhoneNumberID: getEnv("WAPP_PHONE_NUMBER_ID", ""),
		Timeout:       getEnvDuration("WAPP_TIMEOUT", 20*time.Second),
	}
}
