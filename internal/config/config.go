package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	MongoURI        string
	PostgresURI     string
	RedisURI        string
	Port            string
	FrontendURL     string
	AllowedOrigins  []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL
	Environment     string   // ENV: production, development, etc.
	TypingWindow    time.Duration
	DeliveryTimeout time.Duration // per-connection websocket write deadline
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		if u := strings.TrimSpace(getEnv("FRONTEND_URL", "http://localhost:3000")); u != "" {
			allowedOrigins = append(allowedOrigins, u)
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	return &Config{
		MongoURI:        getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/relay")),
		PostgresURI:     getEnv("POSTGRES_URI", "postgres://localhost:5432/relay?sslmode=disable"),
		RedisURI:        getEnv("REDIS_URI", "redis://localhost:6379/0"),
		Environment:     env,
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins:  allowedOrigins,
		TypingWindow:    getDuration("TYPING_WINDOW", 2*time.Second),
		DeliveryTimeout: getDuration("DELIVERY_TIMEOUT", 10*time.Second),
	}
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
