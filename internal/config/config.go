// Package config loads the taskscope command configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Demo       DemoConfig       `yaml:"demo"`
}

// DispatcherConfig sizes the execution classes. Zero keeps the library default.
type DispatcherConfig struct {
	Workers         int           `yaml:"workers"`
	IOWorkers       int           `yaml:"io_workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exporter. An empty Addr disables the
// HTTP endpoint; the collectors are registered either way.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// DemoConfig drives the built-in scenarios. TimeScale multiplies every delay.
type DemoConfig struct {
	Seed      int64   `yaml:"seed"`
	TimeScale float64 `yaml:"time_scale"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Dispatcher: DispatcherConfig{ShutdownTimeout: 5 * time.Second},
		Log:        LogConfig{Level: "info", Format: "text"},
		Metrics:    MetricsConfig{Namespace: "taskscope"},
		Demo:       DemoConfig{Seed: 1, TimeScale: 1},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields
// DefaultConfig. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Dispatcher.Workers < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.workers must be >= 0, got %d", c.Dispatcher.Workers))
	}
	if c.Dispatcher.IOWorkers < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.io_workers must be >= 0, got %d", c.Dispatcher.IOWorkers))
	}
	if c.Dispatcher.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.shutdown_timeout must be >= 0, got %s", c.Dispatcher.ShutdownTimeout))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Demo.TimeScale <= 0 {
		errs = append(errs, fmt.Errorf("demo.time_scale must be > 0, got %v", c.Demo.TimeScale))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
