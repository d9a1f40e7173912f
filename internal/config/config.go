package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	JWTSecret          string
	RateLimitPerMinute int
	SummaryCacheTTL    time.Duration

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP, optional for the API server
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Locking, in-process unless REDIS_ADDR is set
	RedisAddr string
	LockTTL   time.Duration

	// Outbox relay worker
	OutboxBatchSize int
	OutboxInterval  time.Duration

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		SummaryCacheTTL:    getEnvDuration("SUMMARY_CACHE_TTL", time.Minute),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/pasanaco.db"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "pasanaco"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "settlement_events"),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		LockTTL:   getEnvDuration("LOCK_TTL", 30*time.Second),

		OutboxBatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:  getEnvDuration("OUTBOX_INTERVAL", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate checks everything the API server needs.
func (c *Config) Validate() error {
	return report(append(c.serverErrors(), c.sharedErrors()...))
}

// ValidateWorker checks what the outbox relay needs. It has no HTTP side
// but cannot run without a broker or the shared database.
func (c *Config) ValidateWorker() error {
	errs := c.sharedErrors()
	if c.AMQPURL == "" {
		errs = append(errs, "AMQP_URL is required for the outbox relay")
	}
	if c.DataBackend != "sqlite" {
		errs = append(errs, fmt.Sprintf("the outbox relay needs the sqlite backend, got '%s'", c.DataBackend))
	}
	return report(errs)
}

func report(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
}

func (c *Config) serverErrors() []string {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 16 {
		errs = append(errs, "JWT_SECRET must be at least 16 characters")
	}

	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if c.SummaryCacheTTL < 0 || c.SummaryCacheTTL > time.Hour {
		errs = append(errs, fmt.Sprintf("invalid summary cache TTL %v: must be between 0 and 1 hour", c.SummaryCacheTTL))
	}

	return errs
}

func (c *Config) sharedErrors() []string {
	var errs []string

	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errs = append(errs, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.LockTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid lock TTL %v: must be at least 1 second", c.LockTTL))
	}

	if c.OutboxBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid outbox batch size %d: must be at least 1", c.OutboxBatchSize))
	} else if c.OutboxBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid outbox batch size %d: must be at most 1000", c.OutboxBatchSize))
	}

	if c.OutboxInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid outbox interval %v: must be at least 1 second", c.OutboxInterval))
	} else if c.OutboxInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid outbox interval %v: must be at most 24 hours", c.OutboxInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	return errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
