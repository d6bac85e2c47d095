// File: config/config.go
// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport configuration: defaults, file and environment loading, validation.

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-transport/reactor"
)

// Config is the root configuration.
type Config struct {
	// Listen holds endpoints such as tcp://0.0.0.0:8080 or unix:///run/app.sock.
	Listen []string `mapstructure:"listen" yaml:"listen"`

	// ThreadCount is the number of reactor threads.
	ThreadCount int `mapstructure:"thread_count" yaml:"thread_count"`

	// MaxReadBufferSize pauses socket reads once this many received bytes
	// wait for the application. Zero disables the limit.
	MaxReadBufferSize int64 `mapstructure:"max_read_buffer_size" yaml:"max_read_buffer_size"`
	// MaxWriteBufferSize pauses application writes once this many bytes
	// wait for the socket. Zero disables the limit.
	MaxWriteBufferSize int64 `mapstructure:"max_write_buffer_size" yaml:"max_write_buffer_size"`
	// MinAllocBufferSize is the smallest window handed to a socket read.
	MinAllocBufferSize int `mapstructure:"min_alloc_buffer_size" yaml:"min_alloc_buffer_size"`
	// MaxPooledWriteReqs bounds each thread's write request free list.
	MaxPooledWriteReqs int `mapstructure:"max_pooled_write_reqs" yaml:"max_pooled_write_reqs"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	KeepAliveTimeout  time.Duration `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AbortTimeout      time.Duration `mapstructure:"abort_timeout" yaml:"abort_timeout"`

	NoDelay bool `mapstructure:"no_delay" yaml:"no_delay"`
	// PinThreads binds reactor thread i to CPU i modulo the CPU count.
	PinThreads bool `mapstructure:"pin_threads" yaml:"pin_threads"`
	// MetricsAddr serves /metrics when set, for example 127.0.0.1:9100.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable" yaml:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:             []string{"tcp://127.0.0.1:5000"},
		ThreadCount:        1,
		MaxReadBufferSize:  1 << 20,
		MaxWriteBufferSize: 64 * 1024,
		MinAllocBufferSize: 2048,
		MaxPooledWriteReqs: reactor.DefaultMaxPooledWriteReqs,
		HeartbeatInterval:  time.Second,
		KeepAliveTimeout:   2 * time.Minute,
		ShutdownTimeout:    5 * time.Second,
		AbortTimeout:       time.Second,
		NoDelay:            true,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path, or searches for hioload.yaml when
// path is empty. Environment variables use the prefix HIOLOAD with `.`
// replaced by `_`, for example HIOLOAD_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HIOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("thread_count", cfg.ThreadCount)
	v.SetDefault("max_read_buffer_size", cfg.MaxReadBufferSize)
	v.SetDefault("max_write_buffer_size", cfg.MaxWriteBufferSize)
	v.SetDefault("min_alloc_buffer_size", cfg.MinAllocBufferSize)
	v.SetDefault("max_pooled_write_reqs", cfg.MaxPooledWriteReqs)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("keep_alive_timeout", cfg.KeepAliveTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("abort_timeout", cfg.AbortTimeout)
	v.SetDefault("no_delay", cfg.NoDelay)
	v.SetDefault("pin_threads", cfg.PinThreads)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("HIOLOAD_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hioload")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hioload"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes empty fields and rejects unusable values.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if len(c.Listen) == 0 {
		return errors.New("config: at least one listen endpoint is required")
	}
	for _, l := range c.Listen {
		if _, err := reactor.ParseEndpoint(l); err != nil {
			return fmt.Errorf("config: listen: %w", err)
		}
	}
	if c.ThreadCount <= 0 {
		return fmt.Errorf("config: thread_count must be positive, got %d", c.ThreadCount)
	}
	if c.MaxReadBufferSize < 0 || c.MaxWriteBufferSize < 0 {
		return errors.New("config: buffer limits must not be negative")
	}
	if c.MinAllocBufferSize <= 0 {
		return fmt.Errorf("config: min_alloc_buffer_size must be positive, got %d", c.MinAllocBufferSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.ShutdownTimeout <= 0 || c.AbortTimeout <= 0 {
		return errors.New("config: shutdown and abort timeouts must be positive")
	}
	return nil
}

// Endpoints returns the parsed listen endpoints.
func (c *Config) Endpoints() ([]reactor.Endpoint, error) {
	eps := make([]reactor.Endpoint, 0, len(c.Listen))
	for _, l := range c.Listen {
		ep, err := reactor.ParseEndpoint(l)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// WriteYAML dumps the effective configuration.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
