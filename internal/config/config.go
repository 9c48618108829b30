// Package config loads the server configuration from YAML with environment
// expansion and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/clusterpj/cluster-estate-sub001/internal/cache"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Sync       SyncConfig        `yaml:"sync"`
	Feed       FeedConfig        `yaml:"feed"`
	Redis      cache.RedisConfig `yaml:"redis"`
	Monitoring MonitoringConfig  `yaml:"monitoring"`
}

// ServerConfig controls the HTTP listener and data location.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	DataDir        string   `yaml:"data_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SyncConfig tunes the orchestrator and scheduler.
type SyncConfig struct {
	// SweepCron selects due sources; RollCron advances every property's horizon.
	SweepCron    string        `yaml:"sweep_cron"`
	RollCron     string        `yaml:"roll_cron"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	SourceBudget time.Duration `yaml:"source_budget"`
	HorizonDays  int           `yaml:"horizon_days"`
}

// FeedConfig controls the published busy/free feed.
type FeedConfig struct {
	UIDDomain string        `yaml:"uid_domain"`
	ProductID string        `yaml:"product_id"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	// RatePerMinute and Burst limit feed requests per client address.
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Monitoring: MonitoringConfig{PrometheusEnabled: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8099"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "/data"
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Sync.SweepCron == "" {
		c.Sync.SweepCron = "@every 5m"
	}
	if c.Sync.RollCron == "" {
		c.Sync.RollCron = "15 0 * * *"
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.FetchTimeout <= 0 {
		c.Sync.FetchTimeout = 15 * time.Second
	}
	if c.Sync.SourceBudget <= 0 {
		c.Sync.SourceBudget = 2 * time.Minute
	}
	if c.Sync.HorizonDays <= 0 {
		c.Sync.HorizonDays = 365
	}

	if c.Feed.UIDDomain == "" {
		c.Feed.UIDDomain = "cluster-estate.local"
	}
	if c.Feed.CacheTTL <= 0 {
		c.Feed.CacheTTL = 5 * time.Minute
	}
	if c.Feed.RatePerMinute <= 0 {
		c.Feed.RatePerMinute = 30
	}
	if c.Feed.Burst <= 0 {
		c.Feed.Burst = 5
	}

	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.Sync.SweepCron); err != nil {
		return fmt.Errorf("sync.sweep_cron %q: %w", c.Sync.SweepCron, err)
	}
	if _, err := cron.ParseStandard(c.Sync.RollCron); err != nil {
		return fmt.Errorf("sync.roll_cron %q: %w", c.Sync.RollCron, err)
	}
	if c.Sync.FetchTimeout > c.Sync.SourceBudget {
		return fmt.Errorf("sync.fetch_timeout (%s) exceeds sync.source_budget (%s)", c.Sync.FetchTimeout, c.Sync.SourceBudget)
	}
	if c.Feed.CacheTTL > time.Hour {
		return fmt.Errorf("feed.cache_ttl (%s) must not exceed 1h", c.Feed.CacheTTL)
	}
	return nil
}

// Load reads the YAML file at path after loading .env from the working
// directory if present. ${VAR} references are expanded before parsing.
// A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calendar-sync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
