package config

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port      int
	JWTSecret string
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:      getEnvInt("SERVER_PORT", 8080),
		JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}
