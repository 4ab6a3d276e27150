package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates service configuration loaded from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	DedupTTL      time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string
	ReviewerJID       string

	MediaDir         string
	MediaMaxBytes    int64
	LedgerPath       string
	AdminToken       string
	OrganizationName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	redisDB, err := parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisTLS, err := parseBoolEnv("REDIS_TLS", false)
	if err != nil {
		return nil, err
	}
	dedupTTL, err := parseDurationEnv("DEDUP_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	maxBytes, err := parseIntEnv("MEDIA_MAX_BYTES", 16<<20)
	if err != nil {
		return nil, err
	}
	if maxBytes < 0 {
		return nil, fmt.Errorf("invalid MEDIA_MAX_BYTES value %d: must not be negative", maxBytes)
	}

	cfg := &Config{
		AppEnv:           getEnvOrDefault("APP_ENV", "development"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
		HTTPListenAddr:   getEnvOrDefault("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   strings.TrimSpace(os.Getenv("PUBLIC_BASE_PATH")),
		MetricsNamespace: getEnvOrDefault("METRICS_NAMESPACE", "intake_bot"),

		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseSchema: getEnvOrDefault("DATABASE_SCHEMA", "public"),
		SQLitePath:     getEnvOrDefault("SQLITE_PATH", "data/intake.db"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisTLS:      redisTLS,
		DedupTTL:      dedupTTL,

		WhatsAppStorePath: getEnvOrDefault("WHATSAPP_STORE_PATH", "data/whatsmeow.db"),
		WhatsAppLogLevel:  getEnvOrDefault("WHATSAPP_LOG_LEVEL", "WARN"),
		ReviewerJID:       strings.TrimSpace(os.Getenv("REVIEWER_JID")),

		MediaDir:         getEnvOrDefault("MEDIA_DIR", "data/media"),
		MediaMaxBytes:    int64(maxBytes),
		LedgerPath:       strings.TrimSpace(os.Getenv("LEDGER_PATH")),
		AdminToken:       strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		OrganizationName: getEnvOrDefault("ORGANIZATION_NAME", "our organization"),
	}
	return cfg, nil
}

// UsePostgres reports whether a Postgres connection string was configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
