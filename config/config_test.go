package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-transport/config"
	"github.com/momentics/hioload-transport/reactor"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, reactor.DefaultMaxPooledWriteReqs, cfg.MaxPooledWriteReqs)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hioload.yaml")
	data := []byte(`
listen:
  - tcp://0.0.0.0:9000
  - unix:///tmp/hioload.sock
thread_count: 4
shutdown_timeout: 10s
log:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ThreadCount)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Second, cfg.AbortTimeout)
	assert.Equal(t, "json", cfg.Log.Format)

	eps, err := cfg.Endpoints()
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, reactor.KindPipe, eps[1].Kind())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HIOLOAD_THREAD_COUNT", "3")
	t.Setenv("HIOLOAD_LOG_LEVEL", "warn")
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_delay: false\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ThreadCount)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.NoDelay)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"log level":  func(c *config.Config) { c.Log.Level = "loud" },
		"no listen":  func(c *config.Config) { c.Listen = nil },
		"bad listen": func(c *config.Config) { c.Listen = []string{"udp://x:1"} },
		"threads":    func(c *config.Config) { c.ThreadCount = 0 },
		"alloc":      func(c *config.Config) { c.MinAllocBufferSize = 0 },
		"heartbeat":  func(c *config.Config) { c.HeartbeatInterval = 0 },
		"shutdown":   func(c *config.Config) { c.ShutdownTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, config.Default().WriteYAML(&buf))
	out := buf.String()
	assert.Contains(t, out, "shutdown_timeout: 5s")
	assert.Contains(t, out, "tcp://127.0.0.1:5000")
}
