// Package config loads glia settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/glia-dev/glia/internal/platform"
)

// FileName is the configuration file looked up in platform.ConfigDir.
const FileName = "config.yaml"

// Client configures the telemetry push from instrumented programs.
type Client struct {
	// APIURL is the collector base URL; the record is posted to APIURL + "/ingest".
	APIURL string `yaml:"api_url" env:"GLIA_API_URL,overwrite"`

	// Timeout bounds the single push request.
	Timeout time.Duration `yaml:"timeout" env:"GLIA_TIMEOUT,overwrite,default=2s"`
}

// Collector configures the reference collector started by `glia serve`.
type Collector struct {
	Addr          string        `yaml:"addr" env:"GLIA_COLLECTOR_ADDR,overwrite,default=:8000"`
	DBPath        string        `yaml:"db_path" env:"GLIA_DB_PATH,overwrite,default=glia.db"`
	RedisURL      string        `yaml:"redis_url" env:"GLIA_REDIS_URL,overwrite"`
	RedisStream   string        `yaml:"redis_stream" env:"GLIA_REDIS_STREAM,overwrite,default=glia:jobs"`
	IngestRate    float64       `yaml:"ingest_rate" env:"GLIA_INGEST_RATE,overwrite,default=50"`
	RelayInterval time.Duration `yaml:"relay_interval" env:"GLIA_RELAY_INTERVAL,overwrite,default=10s"`
}

// Config is the complete settings tree.
type Config struct {
	Client    Client    `yaml:"client"`
	Collector Collector `yaml:"collector"`
}

// DefaultPath returns the configuration file location for this user.
func DefaultPath() string {
	return filepath.Join(platform.ConfigDir(), FileName)
}

// Load reads path (if it exists) and then applies the process environment.
// An empty path means DefaultPath; a missing default file is not an error.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit environment source.
func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := readFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("environment error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultClientTimeout is the push timeout when GLIA_TIMEOUT is unset or unusable.
const DefaultClientTimeout = 2 * time.Second

type clientEndpoint struct {
	APIURL string `env:"GLIA_API_URL,overwrite"`
}

type clientTimeout struct {
	Timeout time.Duration `env:"GLIA_TIMEOUT,overwrite,default=2s"`
}

// LoadClient resolves only the client settings from the environment.
func LoadClient(ctx context.Context) (Client, error) {
	return LoadClientWith(ctx, envconfig.OsLookuper())
}

// LoadClientWith is LoadClient with an explicit environment source. The
// endpoint and the timeout are resolved independently: an unusable timeout
// is reported as an error, but the returned Client still carries the
// endpoint and DefaultClientTimeout.
func LoadClientWith(ctx context.Context, lookuper envconfig.Lookuper) (Client, error) {
	c := Client{Timeout: DefaultClientTimeout}

	var endpoint clientEndpoint
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &endpoint, Lookuper: lookuper}); err != nil {
		return c, fmt.Errorf("environment error: %w", err)
	}
	c.APIURL = endpoint.APIURL

	var timeout clientTimeout
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &timeout, Lookuper: lookuper}); err != nil {
		return c, fmt.Errorf("environment error: %w", err)
	}
	if timeout.Timeout <= 0 {
		return c, fmt.Errorf("environment error: GLIA_TIMEOUT must be positive, got %s", timeout.Timeout)
	}
	c.Timeout = timeout.Timeout
	return c, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("invalid configuration: client timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Collector.IngestRate < 0 {
		return fmt.Errorf("invalid configuration: ingest rate must not be negative, got %v", c.Collector.IngestRate)
	}
	if c.Collector.RelayInterval <= 0 {
		return fmt.Errorf("invalid configuration: relay interval must be positive, got %s", c.Collector.RelayInterval)
	}
	return nil
}
