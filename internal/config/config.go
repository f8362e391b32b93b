package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// AuthConfig holds the hosted auth service configuration.
type AuthConfig struct {
	URL       string // e.g., "https://project.supabase.co/auth/v1"
	AnonKey   string
	JWTSecret string // Optional: legacy HS256 secret for token verification
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

// SessionConfig holds browser session configuration.
type SessionConfig struct {
	Secret      []byte // cookie signing key, at least 32 bytes
	IdleMinutes int
	MaxBrowsers int    // live browser sessions kept in memory
	RedisURL    string // Optional: shared session storage across instances
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	AppOrigin   string
	Database    DatabaseConfig
	Auth        AuthConfig
	Session     SessionConfig
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from environment variables.
// It fails fast with clear errors for missing required values.
func Load() (*Config, error) {
	var missing []string

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "staging" && env != "production" {
		return nil, fmt.Errorf("invalid ENV value %q: must be development, staging, or production", env)
	}

	// Database configuration (required)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	// Hosted auth configuration (required)
	authURL := os.Getenv("AUTH_URL")
	if authURL == "" {
		missing = append(missing, "AUTH_URL")
	}

	anonKey := os.Getenv("AUTH_ANON_KEY")
	if anonKey == "" {
		missing = append(missing, "AUTH_ANON_KEY")
	}

	// Cookie signing secret (required)
	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	// Validate database URL format
	if err := validateDatabaseURL(databaseURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	if err := validateHTTPURL(authURL); err != nil {
		return nil, fmt.Errorf("invalid AUTH_URL: %w", err)
	}

	if len(sessionSecret) < 32 {
		return nil, fmt.Errorf("invalid SESSION_SECRET: must be at least 32 bytes, got %d", len(sessionSecret))
	}

	appOrigin := os.Getenv("APP_ORIGIN")
	if appOrigin == "" {
		appOrigin = "http://localhost:" + port
	}
	if err := validateHTTPURL(appOrigin); err != nil {
		return nil, fmt.Errorf("invalid APP_ORIGIN: %w", err)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		if err := validateRedisURL(redisURL); err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
	}

	dbConfig := DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		Port:        port,
		Environment: env,
		LogLevel:    logLevel,
		AppOrigin:   strings.TrimSuffix(appOrigin, "/"),
		Database:    dbConfig,
		Auth: AuthConfig{
			URL:       strings.TrimSuffix(authURL, "/"),
			AnonKey:   anonKey,
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Session: SessionConfig{
			Secret:      []byte(sessionSecret),
			IdleMinutes: getEnvInt("SESSION_IDLE_MINUTES", 30),
			MaxBrowsers: getEnvInt("SESSION_MAX_BROWSERS", 10000),
			RedisURL:    redisURL,
		},
	}, nil
}

// validateDatabaseURL ensures the database URL is a valid PostgreSQL connection string.
func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

// validateHTTPURL ensures an absolute http(s) URL.
func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

func validateRedisURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "redis" && parsed.Scheme != "rediss" {
		return fmt.Errorf("URL must use redis or rediss scheme, got %q", parsed.Scheme)
	}

	return nil
}

// getEnvInt reads an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}
