package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "ALLOWED_ORIGINS", "AGENTS_FILE", "CAPABILITY_ADDR",
	"DB_PATH", "DB_MAX_OPEN_CONNS", "SNAPSHOT_DB_MAX_OPEN_CONNS",
	"DEFAULT_TARGET_AUDIENCE", "DEFAULT_PUBLISH_CHANNELS", "OPTIMIZE_PUBLISHED_POLICY", "MAX_IDENTITY_ATTEMPTS",
	"SNAPSHOT_INTERVAL_SECONDS", "RECONCILE_INTERVAL_SECONDS",
	"DB_MAX_RETRIES", "DB_RETRY_BASE_DELAY_MS", "WRITE_TIMEOUT_SECONDS",
}

// clearEnv unsets every configuration variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		if prev, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, prev) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Port)
	assert.Equal(t, 900*time.Second, cfg.Schedule.SnapshotInterval)
	assert.Equal(t, "business_professionals", cfg.Pipeline.DefaultTargetAudience)
	assert.Equal(t, []string{"website", "social_media"}, cfg.Pipeline.DefaultPublishChannels)
	assert.Equal(t, PolicyReject, cfg.Pipeline.OptimizePublishedPolicy)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SNAPSHOT_INTERVAL_SECONDS", "60")
	t.Setenv("DEFAULT_TARGET_AUDIENCE", "developers")
	t.Setenv("DEFAULT_PUBLISH_CHANNELS", " blog , newsletter ,, ")
	t.Setenv("OPTIMIZE_PUBLISHED_POLICY", "WARN")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_PATH", "/tmp/content.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Schedule.SnapshotInterval)
	assert.Equal(t, "developers", cfg.Pipeline.DefaultTargetAudience)
	assert.Equal(t, []string{"blog", "newsletter"}, cfg.Pipeline.DefaultPublishChannels)
	assert.Equal(t, PolicyWarn, cfg.Pipeline.OptimizePublishedPolicy)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "/tmp/content.db", cfg.DB.Path)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"SNAPSHOT_INTERVAL_SECONDS": "0",
		"OPTIMIZE_PUBLISHED_POLICY": "ignore",
		"DB_PATH":                   "",
		"DEFAULT_PUBLISH_CHANNELS":  " , ",
		"DB_MAX_OPEN_CONNS":         "-1",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestInvalidIntegerFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SNAPSHOT_INTERVAL_SECONDS", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 900*time.Second, cfg.Schedule.SnapshotInterval)
}
