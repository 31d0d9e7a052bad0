package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment   string
	HTTPPort      string
	DatabasePath  string
	LogDir        string
	JWTSecret     string
	WebhookSecret string

	// NotifyURLs holds shoutrrr destination URLs for the email/chat
	// notification channel, comma separated in SENTINEL_NOTIFY_URLS.
	NotifyURLs []string

	// Event bus batching knobs for the asynchronous delivery path.
	FlushInterval time.Duration
	BatchSize     int
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:   getEnv("SENTINEL_ENV", "development"),
		HTTPPort:      getEnv("SENTINEL_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("SENTINEL_DB_PATH", filepath.Join("data", "sentinel.db")),
		LogDir:        getEnv("SENTINEL_LOG_DIR", filepath.Join("data", "logs")),
		JWTSecret:     getEnv("SENTINEL_JWT_SECRET", ""),
		WebhookSecret: getEnv("SENTINEL_WEBHOOK_SECRET", ""),
		NotifyURLs:    splitList(getEnv("SENTINEL_NOTIFY_URLS", "")),
		FlushInterval: getDuration("SENTINEL_FLUSH_INTERVAL", 10*time.Second),
		BatchSize:     getInt("SENTINEL_BATCH_SIZE", 50),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
