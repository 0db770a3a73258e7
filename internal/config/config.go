// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// OptimizePublishedPolicy controls what optimize does with already-published content.
type OptimizePublishedPolicy string

const (
	// PolicyReject fails the request with an invalid-state error.
	PolicyReject OptimizePublishedPolicy = "reject"
	// PolicyWarn records the optimization, keeps the status and returns a warning.
	PolicyWarn OptimizePublishedPolicy = "warn"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	LogLevel       slog.Level
	AllowedOrigins []string
	AgentsFile     string // empty = embedded agent table
	CapabilityAddr string // gRPC address of a remote content capability; empty = built-in producer

	DB       DBConfig
	Pipeline PipelineConfig
	Schedule ScheduleConfig
	Retry    RetryConfig
	Timeout  TimeoutConfig
}

// DBConfig controls the SQLite connection pools.
type DBConfig struct {
	Path                 string
	MaxOpenConns         int
	SnapshotMaxOpenConns int
}

// PipelineConfig holds stage defaults and policies.
type PipelineConfig struct {
	DefaultTargetAudience   string
	DefaultPublishChannels  []string
	OptimizePublishedPolicy OptimizePublishedPolicy
	MaxIdentityAttempts     int
}

// ScheduleConfig holds background job cadences.
type ScheduleConfig struct {
	SnapshotInterval  time.Duration
	ReconcileInterval time.Duration
}

// RetryConfig controls retries on SQLite lock contention.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// TimeoutConfig holds operation timeouts.
type TimeoutConfig struct {
	StageWrite  time.Duration
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8001"),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		AgentsFile:     getEnv("AGENTS_FILE", ""),
		CapabilityAddr: getEnv("CAPABILITY_ADDR", ""),
		DB: DBConfig{
			Path:                 getEnv("DB_PATH", "./data/content.db"),
			MaxOpenConns:         getEnvInt("DB_MAX_OPEN_CONNS", 20),
			SnapshotMaxOpenConns: getEnvInt("SNAPSHOT_DB_MAX_OPEN_CONNS", 2),
		},
		Pipeline: PipelineConfig{
			DefaultTargetAudience:   getEnv("DEFAULT_TARGET_AUDIENCE", "business_professionals"),
			DefaultPublishChannels:  getEnvList("DEFAULT_PUBLISH_CHANNELS", []string{"website", "social_media"}),
			OptimizePublishedPolicy: OptimizePublishedPolicy(strings.ToLower(getEnv("OPTIMIZE_PUBLISHED_POLICY", string(PolicyReject)))),
			MaxIdentityAttempts:     getEnvInt("MAX_IDENTITY_ATTEMPTS", 5),
		},
		Schedule: ScheduleConfig{
			SnapshotInterval:  time.Duration(getEnvInt("SNAPSHOT_INTERVAL_SECONDS", 900)) * time.Second,
			ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 3600)) * time.Second,
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: time.Duration(getEnvInt("DB_RETRY_BASE_DELAY_MS", 50)) * time.Millisecond,
		},
		Timeout: TimeoutConfig{
			StageWrite:  time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DB.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be > 0")
	}
	if c.DB.SnapshotMaxOpenConns <= 0 {
		return fmt.Errorf("SNAPSHOT_DB_MAX_OPEN_CONNS must be > 0")
	}
	if c.Schedule.SnapshotInterval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL_SECONDS must be > 0")
	}
	if c.Schedule.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL_SECONDS must be > 0")
	}
	if strings.TrimSpace(c.Pipeline.DefaultTargetAudience) == "" {
		return fmt.Errorf("DEFAULT_TARGET_AUDIENCE cannot be empty")
	}
	if len(c.Pipeline.DefaultPublishChannels) == 0 {
		return fmt.Errorf("DEFAULT_PUBLISH_CHANNELS cannot be empty")
	}
	switch c.Pipeline.OptimizePublishedPolicy {
	case PolicyReject, PolicyWarn:
	default:
		return fmt.Errorf("OPTIMIZE_PUBLISHED_POLICY must be %q or %q, got %q", PolicyReject, PolicyWarn, c.Pipeline.OptimizePublishedPolicy)
	}
	if c.Pipeline.MaxIdentityAttempts <= 0 {
		return fmt.Errorf("MAX_IDENTITY_ATTEMPTS must be > 0")
	}
	if c.Retry.DatabaseMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	if c.Timeout.StageWrite <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// Default returns the configuration Load produces with an empty environment.
func Default() *Config {
	return &Config{
		Port:           "8001",
		LogLevel:       slog.LevelInfo,
		AllowedOrigins: []string{"*"},
		DB: DBConfig{
			Path:                 "./data/content.db",
			MaxOpenConns:         20,
			SnapshotMaxOpenConns: 2,
		},
		Pipeline: PipelineConfig{
			DefaultTargetAudience:   "business_professionals",
			DefaultPublishChannels:  []string{"website", "social_media"},
			OptimizePublishedPolicy: PolicyReject,
			MaxIdentityAttempts:     5,
		},
		Schedule: ScheduleConfig{
			SnapshotInterval:  900 * time.Second,
			ReconcileInterval: time.Hour,
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     3,
			DatabaseRetryBaseDelay: 50 * time.Millisecond,
		},
		Timeout: TimeoutConfig{
			StageWrite:  10 * time.Second,
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
