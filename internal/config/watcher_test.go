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

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

const minimalConfigYAML = `
services:
  - name: users-api
    baseUrl: http://users:8000
routes:
  - pathPattern: /users/{id}
    service: users-api
`

const brokenConfigYAML = `
services:
  - name: users-api
    baseUrl: not-a-url
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewWatcher_Options(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, minimalConfigYAML)

	w, err := NewWatcher(path, func(*GatewayConfig) {},
		WithDebounceDelay(10*time.Millisecond),
		WithWatcherLogger(observability.NopLogger()),
		WithErrorHandler(func(error) {}),
	)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, w.debounceDelay)
	assert.NotNil(t, w.onError)
	assert.Nil(t, w.LastConfig())
	require.NoError(t, w.watcher.Close())
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, minimalConfigYAML)

	var reloads, failures atomic.Int32
	w, err := NewWatcher(path,
		func(*GatewayConfig) { reloads.Add(1) },
		WithErrorHandler(func(error) { failures.Add(1) }),
	)
	require.NoError(t, err)
	defer func() { _ = w.watcher.Close() }()

	require.NoError(t, w.Reload())
	assert.Equal(t, int32(1), reloads.Load())
	require.NotNil(t, w.LastConfig())

	writeConfig(t, path, brokenConfigYAML)
	assert.Error(t, w.Reload())
	assert.Equal(t, int32(1), reloads.Load())
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, "http://users:8000", w.LastConfig().Services[0].BaseURL)
}

func TestWatcher_DetectsFileChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, minimalConfigYAML)

	reloaded := make(chan *GatewayConfig, 4)
	w, err := NewWatcher(path, func(c *GatewayConfig) { reloaded <- c },
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))

	writeConfig(t, path, minimalConfigYAML+"\nmaintenance:\n  enabled: true\n")

	select {
	case cfg := <-reloaded:
		assert.True(t, cfg.Maintenance.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not detected")
	}

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
