package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const watcherSampleConfig = `
listeners:
  http:
    address: ":8080"
routes:
  - prefix: /api
    targets:
      - address: 10.0.0.1:9000
`

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "edgegw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherSampleConfig), 0o600))

	var reloads atomic.Int32
	var lastPrefix atomic.Value
	watcher, err := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
		lastPrefix.Store(cfg.Routes[0].Prefix)
	}, WithWatcherDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	updated := []byte(`
listeners:
  http:
    address: ":8080"
routes:
  - prefix: /v2
    targets:
      - address: 10.0.0.1:9000
`)
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "/v2", lastPrefix.Load())
}

func TestWatcher_IgnoresInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "edgegw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherSampleConfig), 0o600))

	var reloads atomic.Int32
	watcher, err := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
	}, WithWatcherDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	// No routes fails validation, so the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("listeners:\n  http:\n    address: \":8080\"\n"), 0o600))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "edgegw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherSampleConfig), 0o600))

	watcher, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))

	require.NoError(t, watcher.Stop())
	require.NoError(t, watcher.Stop())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"1h30m"`), &d))
	assert.Equal(t, 90*time.Minute, d.Duration())

	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte(`"soon"`), &d))
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"45s"`)))
	assert.Equal(t, 45*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, time.Duration(0), d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"forever"`)))
}
