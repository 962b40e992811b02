package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/tmp/localipc.sock", cfg.Server.SocketPath)
	assert.Equal(t, OverflowDrop, cfg.Limbo.Overflow)
	assert.Equal(t, 5*time.Second, cfg.Limbo.FlushTimeout)
	assert.Equal(t, 256, cfg.Ancillary.MinSpare)
	assert.Equal(t, 30*time.Second, cfg.GracefulShutdownTimeout)
	assert.False(t, cfg.Directory.Enabled)
}

func TestParse_Overrides(t *testing.T) {
	data := []byte(`
log_level: debug
server:
  socket_path: /run/ipcd.sock
  preserve_buffers: true
limbo:
  overflow: flush
  flush_timeout: 250ms
ancillary:
  min_spare: 128
  max_capacity: 4096
security:
  allowed_uids: [0, 1000]
debug:
  check_buffers: true
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/run/ipcd.sock", cfg.Server.SocketPath)
	assert.True(t, cfg.Server.PreserveBuffers)
	assert.Equal(t, OverflowFlush, cfg.Limbo.Overflow)
	assert.Equal(t, 250*time.Millisecond, cfg.Limbo.FlushTimeout)
	assert.Equal(t, 4096, cfg.Ancillary.MaxCapacity)
	assert.Equal(t, []uint32{0, 1000}, cfg.Security.AllowedUIDs)
	assert.True(t, cfg.Debug.CheckBuffers)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown overflow":  "limbo:\n  overflow: block\n",
		"bad level":         "log_level: loud\n",
		"spare over cap":    "ancillary:\n  min_spare: 512\n  max_capacity: 256\n",
		"directory no name": "directory:\n  enabled: true\n",
		"sample ratio":      "tracing:\n  sample_ratio: 2\n",
		"heartbeat vs ttl":  "directory:\n  enabled: true\n  name: a\n  ttl: 1s\n  heartbeat_interval: 2s\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestHotReload_AcceptsReloadableFields(t *testing.T) {
	initial := Default()
	var applied *Config
	h := NewHotReloadManager(initial, func(c *Config) error {
		applied = c
		return nil
	})

	next := Default()
	next.LogLevel = "warn"
	next.Security.MaxConnections = 10
	require.NoError(t, h.UpdateConfig(next))

	assert.Same(t, next, applied)
	assert.Same(t, next, h.GetConfig())
}

func TestHotReload_RejectsRestartFields(t *testing.T) {
	initial := Default()
	h := NewHotReloadManager(initial, nil)

	next := Default()
	next.Server.SocketPath = "/elsewhere.sock"
	assert.Error(t, h.UpdateConfig(next))

	next = Default()
	next.Limbo.Overflow = OverflowFlush
	assert.Error(t, h.UpdateConfig(next))

	assert.Same(t, initial, h.GetConfig())
}

func TestHotReload_WatchReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipcd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))

	h := NewHotReloadManager(Default(), nil)
	errs := make(chan error, 1)
	h.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.WatchConfigFile(ctx, path, 10*time.Millisecond)

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload error reported")
	}
}
