package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gigwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/var/lib/gigwatch/gigwatch.db"

[pool]
workers = 4
poll_interval = "2s"

[retry]
max_attempts = 5

[sweep]
schedule = "*/30 * * * *"

[[sources]]
name = "ra"
schedule = "15 */4 * * *"
rate_per_second = 0.5

[sources.options]
url = "https://example.com/ra.json"

[[sources]]
name = "songkick"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gigwatch/gigwatch.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Pool.Workers)
	assert.Equal(t, 2*time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "*/30 * * * *", cfg.Sweep.Schedule)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "ra", cfg.Sources[0].Name)
	assert.Equal(t, "15 */4 * * *", cfg.Sources[0].Schedule)
	assert.Equal(t, 0.5, cfg.Sources[0].RatePerSecond)
	assert.Equal(t, "https://example.com/ra.json", cfg.Sources[0].Options["url"])

	// Sources without a schedule fall back to the two-hourly default
	assert.Equal(t, DefaultSourceSchedule, cfg.Sources[1].Schedule)
}

func TestLoadFromFileDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "test.db"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pool.Workers)
	assert.Equal(t, 5*time.Second, cfg.Pool.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Pool.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.Pool.DrainTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 15*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, "0 * * * *", cfg.Sweep.Schedule)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestGetDatabasePathEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("DB_PATH", "/tmp/override.db")

	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", path)
}
