package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "before.db"
`)

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	// Short debounce keeps the test fast
	watcher.debouncePeriod = 50 * time.Millisecond

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "after.db"
`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "after.db", cfg.Database.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher("/nonexistent/gigwatch.toml")
	require.Error(t, err)
}

func TestWatcherSurvivesBrokenConfig(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "good.db"
`)

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.debouncePeriod = 50 * time.Millisecond

	calls := make(chan struct{}, 4)
	watcher.OnReload(func(cfg *Config) error {
		calls <- struct{}{}
		return nil
	})
	watcher.Start()

	// Broken TOML: the reload fails, no callback fires, the watcher lives
	require.NoError(t, os.WriteFile(path, []byte(`[database`), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, calls)

	// A later fix reloads normally
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "fixed.db"
`), 0644))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not recover after a broken config write")
	}
}
