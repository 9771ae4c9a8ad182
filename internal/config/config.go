// Package config loads finder configuration from a YAML or TOML file and
// applies FINDER_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FINDER_"

// Config is the finder configuration.
type Config struct {
	// Database is the SQLite database path. Empty means an in-memory database.
	Database string `yaml:"database" toml:"database" env:"DATABASE"`

	Log   LogConfig   `yaml:"log" toml:"log" envPrefix:"LOG_"`
	Cache CacheConfig `yaml:"cache" toml:"cache" envPrefix:"CACHE_"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// CacheConfig bounds the query metadata cache.
type CacheConfig struct {
	MetadataSize int `yaml:"metadata_size" toml:"metadata_size" env:"METADATA_SIZE"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{MetadataSize: 256},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. The file format is chosen by extension:
// .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load takes an explicit environment for tests; nil means os.Environ.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (use text or json)", c.Log.Format)
	}
	if c.Cache.MetadataSize < 0 {
		return fmt.Errorf("invalid metadata cache size %d", c.Cache.MetadataSize)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger builds a slog logger writing to w. verbose forces debug level.
func NewLogger(cfg *Config, w io.Writer, verbose bool) *slog.Logger {
	lvl, err := cfg.Log.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
