package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration values.
type Config struct {
	// Platform connection
	APIURL         string        `validate:"required,url"`
	APIKey         string        `validate:"required"`
	RequestTimeout time.Duration `validate:"gt=0"`
	RateLimit      int           `validate:"gte=0"`

	// Job waiting
	PollInterval time.Duration `validate:"gt=0"`
	WaitTimeout  time.Duration `validate:"gt=0"`

	// Filesystem retries
	RetryAttempts     int           `validate:"gte=1,lte=20"`
	RetryDelay        time.Duration `validate:"gte=0"`
	CleanupRetryDelay time.Duration `validate:"gte=0"`
	UnzipBinary       string        `validate:"required"`

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// Unparseable numeric values fall back to their defaults.
func Load() Config {
	return Config{
		// Platform
		APIURL:         strings.TrimRight(getEnv("GEARFLOW_API_URL", ""), "/"),
		APIKey:         getEnv("GEARFLOW_API_KEY", ""),
		RequestTimeout: getDuration("GEARFLOW_REQUEST_TIMEOUT", 100*time.Minute),
		RateLimit:      getInt("GEARFLOW_RATE_LIMIT", 10),

		// Waiting
		PollInterval: getDuration("GEARFLOW_POLL_INTERVAL", 30*time.Second),
		WaitTimeout:  getDuration("GEARFLOW_WAIT_TIMEOUT", 24*time.Hour),

		// Retries
		RetryAttempts:     getInt("GEARFLOW_RETRY_ATTEMPTS", 3),
		RetryDelay:        getDuration("GEARFLOW_RETRY_DELAY", time.Second),
		CleanupRetryDelay: getDuration("GEARFLOW_CLEANUP_RETRY_DELAY", 5*time.Second),
		UnzipBinary:       getEnv("GEARFLOW_UNZIP", "unzip"),

		// Logging
		LogFile:  getEnv("GEARFLOW_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("GEARFLOW_LOG_LEVEL", "INFO")),
	}
}

var validate = validator.New()

// Validate checks that the configuration is usable for talking to the platform.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
