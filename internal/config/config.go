package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type ServerConfig struct {
	Port          int
	Host          string
	MetricsPort   int
	ExposedDomain string // The domain where this service is exposed, used for WebSocket origin checks
}

type ProviderConfig struct {
	// BaseURL is the bracket provider's API root.
	BaseURL string

	// LegacyAPIKey is the long-lived v1 API key. Used when no OAuth bearer
	// token is stored, and as the fallback when a bearer request returns 401.
	LegacyAPIKey string

	// OAuth client credentials for the authorization-code flow.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string

	// RequestTimeout is the hard timeout applied to every provider HTTP call.
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	// DatabaseURL selects PostgreSQL when set. When empty the embedded
	// SQLite store at SQLitePath is used.
	DatabaseURL string
	SQLitePath  string
}

type RedisConfig struct {
	RedisURL       string
	RedisKeyPrefix string
}

type RateControlConfig struct {
	// Per-mode provider request budgets, requests per minute, each in [1, 60].
	IdleRate     int
	UpcomingRate int
	ActiveRate   int

	// ManualCap bounds every mode rate actually used, in [1, 60].
	ManualCap int

	// CheckInterval is how often the adaptive controller re-classifies
	// tournaments. Bounded to [1h, 24h].
	CheckInterval time.Duration

	// UpcomingWindow is how far ahead a scheduled tournament moves the
	// controller into UPCOMING mode. Bounded to [1h, 168h].
	UpcomingWindow time.Duration
}

type Config struct {
	Server      ServerConfig
	Provider    ProviderConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RateControl RateControlConfig
}

func Load() (*Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return nil, err
	}

	cfg.Server = ServerConfig{
		Port:          getEnvAsInt("PORT", 8080),
		Host:          getEnv("HOST", "0.0.0.0"),
		MetricsPort:   getEnvAsInt("METRICS_PORT", 9090),
		ExposedDomain: getEnv("EXPOSED_DOMAIN", ""),
	}

	cfg.Provider = ProviderConfig{
		BaseURL:           getEnv("CHALLONGE_API_URL", "https://api.challonge.com/v2.1"),
		LegacyAPIKey:      getEnv("CHALLONGE_API_KEY", ""),
		OAuthClientID:     getEnv("CHALLONGE_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("CHALLONGE_CLIENT_SECRET", ""),
		OAuthRedirectURI:  getEnv("CHALLONGE_REDIRECT_URI", ""),
		RequestTimeout:    time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 15)) * time.Second,
	}

	cfg.RateControl = RateControlConfig{
		IdleRate:       clampInt(getEnvAsInt("RATE_IDLE_PER_MINUTE", 2), 1, 60),
		UpcomingRate:   clampInt(getEnvAsInt("RATE_UPCOMING_PER_MINUTE", 10), 1, 60),
		ActiveRate:     clampInt(getEnvAsInt("RATE_ACTIVE_PER_MINUTE", 30), 1, 60),
		ManualCap:      clampInt(getEnvAsInt("RATE_MANUAL_CAP", 60), 1, 60),
		CheckInterval:  clampDuration(getEnvAsDuration("RATE_CHECK_INTERVAL", 8*time.Hour), time.Hour, 24*time.Hour),
		UpcomingWindow: clampDuration(getEnvAsDuration("RATE_UPCOMING_WINDOW", 48*time.Hour), time.Hour, 168*time.Hour),
	}

	// The provider is unreachable without at least one credential.
	if cfg.Provider.LegacyAPIKey == "" && cfg.Provider.OAuthClientID == "" {
		return nil, fmt.Errorf("CHALLONGE_API_KEY or CHALLONGE_CLIENT_ID is required")
	}
	if cfg.Provider.OAuthClientID != "" && cfg.Provider.OAuthClientSecret == "" {
		return nil, fmt.Errorf("CHALLONGE_CLIENT_SECRET is required when CHALLONGE_CLIENT_ID is set")
	}
	if cfg.Server.ExposedDomain == "" {
		return nil, fmt.Errorf("EXPOSED_DOMAIN is required")
	}
	if cfg.Provider.OAuthClientID != "" && cfg.Provider.OAuthRedirectURI == "" {
		cfg.Provider.OAuthRedirectURI = fmt.Sprintf("%s/oauth/callback", cfg.Server.ExposedDomain)
	}

	return cfg, nil
}

// LoadMinimal loads only the database and Redis configuration. Used by the
// cleanup command which never talks to the provider.
func LoadMinimal() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
			SQLitePath:  getEnv("SQLITE_PATH", "data/bracketd.db"),
		},
		Redis: RedisConfig{
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),
			RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
