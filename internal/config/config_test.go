package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gopool/internal/pool"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestLoadParsesKnownFields tests that a well-formed config file loads into
// the expected struct shape.
func TestLoadParsesKnownFields(t *testing.T) {
	path := writeConfig(t, `
worker:
  min: 2
  max: 4
  kind: thread
  terminate_timeout_ms: 1500
  debug_port_start: 50000
  websocket_url: ""

queue:
  max_size: 100

metrics:
  enabled: true
  port: 9100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.Min)
	assert.Equal(t, 4, cfg.Worker.Max)
	assert.Equal(t, "thread", cfg.Worker.Kind)
	assert.Equal(t, 100, cfg.Queue.MaxSize)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

// TestLoadRejectsUnknownFields tests the fail-fast posture: a typo'd key
// is a hard error, not a silently ignored one.
func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
worker:
  minn: 2
`)
	_, err := Load(path)
	assert.Error(t, err)
}

// TestLoadMissingFileReturnsError tests that a missing path surfaces a
// wrapped read error rather than a zero-value Config.
func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestPoolOptionsTranslation tests that Config.PoolOptions maps every field
// into the corresponding pool.Options field, including the millisecond to
// time.Duration conversion.
func TestPoolOptionsTranslation(t *testing.T) {
	cfg := &Config{}
	cfg.Worker.Min = 3
	cfg.Worker.Max = 6
	cfg.Worker.Kind = "process"
	cfg.Worker.TerminateTimeoutMs = 2000
	cfg.Worker.DebugPortStart = 44000
	cfg.Worker.WebSocketURL = "ws://localhost:9000/worker"
	cfg.Queue.MaxSize = 50

	opts := cfg.PoolOptions()
	assert.Equal(t, 3, opts.MinWorkers)
	assert.False(t, opts.MinWorkersMax)
	assert.Equal(t, 6, opts.MaxWorkers)
	assert.Equal(t, pool.WorkerKind("process"), opts.WorkerKind)
	assert.Equal(t, 2*time.Second, opts.WorkerTerminateTimeout)
	assert.Equal(t, 44000, opts.DebugPortStart)
	assert.Equal(t, "ws://localhost:9000/worker", opts.WorkerWSURL)
	assert.Equal(t, 50, opts.MaxQueueSize)
}

// TestPoolOptionsTranslationMinMaxSentinel tests that worker.min_max in the
// YAML config maps to Options.MinWorkersMax.
func TestPoolOptionsTranslationMinMaxSentinel(t *testing.T) {
	cfg := &Config{}
	cfg.Worker.MinMax = true
	cfg.Worker.Max = 6

	opts := cfg.PoolOptions()
	assert.True(t, opts.MinWorkersMax)
	assert.Equal(t, 6, opts.MaxWorkers)
}
