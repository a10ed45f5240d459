// Package config loads the YAML configuration file into the shape
// internal/cli uses to construct a pool.Options, as a yaml-tagged struct
// decoded with KnownFields.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/gopool/internal/pool"
)

// Config is the on-disk configuration shape.
type Config struct {
	Worker struct {
		Min                int    `yaml:"min"`
		MinMax             bool   `yaml:"min_max"` // minWorkers = "max" sentinel
		Max                int    `yaml:"max"`
		Kind               string `yaml:"kind"`
		TerminateTimeoutMs int    `yaml:"terminate_timeout_ms"`
		DebugPortStart     int    `yaml:"debug_port_start"`
		WebSocketURL       string `yaml:"websocket_url"`
	} `yaml:"worker"`

	Queue struct {
		MaxSize int `yaml:"max_size"`
	} `yaml:"queue"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Load reads and parses the YAML file at path. Unknown keys are a hard
// error rather than a silent no-op, so a typo'd key cannot vanish
// unnoticed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// PoolOptions translates the loaded config into pool.Options. Metrics and
// Methods are left for the caller to attach, since they depend on
// process-wide state (a shared Collector, the compiled-in method table)
// that config has no business constructing.
func (c *Config) PoolOptions() pool.Options {
	return pool.Options{
		MinWorkers:             c.Worker.Min,
		MinWorkersMax:          c.Worker.MinMax,
		MaxWorkers:             c.Worker.Max,
		MaxQueueSize:           c.Queue.MaxSize,
		WorkerKind:             pool.WorkerKind(c.Worker.Kind),
		WorkerTerminateTimeout: time.Duration(c.Worker.TerminateTimeoutMs) * time.Millisecond,
		DebugPortStart:         c.Worker.DebugPortStart,
		WorkerWSURL:            c.Worker.WebSocketURL,
	}
}
