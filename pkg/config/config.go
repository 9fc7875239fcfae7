package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Providers []ProviderConfig `yaml:"providers"`
	Timeouts  struct {
		Bulk     time.Duration `yaml:"bulk"`
		Realtime time.Duration `yaml:"realtime"`
	} `yaml:"timeouts"`
	Cache struct {
		Capacity  int       `yaml:"capacity"`
		Composite CacheTier `yaml:"composite"`
		Quote     CacheTier `yaml:"quote"`
		Sector    CacheTier `yaml:"sector"`
		Chart     CacheTier `yaml:"chart"`
		Search    CacheTier `yaml:"search"`
		// LastResort widens the staleness ceiling used when every
		// provider has failed and only old data remains.
		LastResort time.Duration `yaml:"last_resort"`
	} `yaml:"cache"`
	Scheduler struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"scheduler"`
	Snapshot struct {
		Redis struct {
			Enabled  bool          `yaml:"enabled"`
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"snapshot"`
	Market struct {
		Timezone  string `yaml:"timezone"`
		OpenTime  string `yaml:"open_time"`
		CloseTime string `yaml:"close_time"`
	} `yaml:"market"`
}

// ProviderConfig describes one upstream data source. Priority is
// ascending (lower tried first); RateLimit is calls per minute and a
// value of 0 disables the provider without removing its entry.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Priority  int    `yaml:"priority"`
	RateLimit int    `yaml:"rate_limit"`
	BaseURL   string `yaml:"base_url"`
	Enabled   bool   `yaml:"enabled"`
}

// CacheTier holds the two freshness thresholds for one data class.
type CacheTier struct {
	FreshFor time.Duration `yaml:"fresh_for"`
	StaleFor time.Duration `yaml:"stale_for"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Snapshot.Redis.Addr = v
		c.Snapshot.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Snapshot.Redis.Password = v
	}
	if v := os.Getenv("SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("DISABLED_PROVIDERS"); v != "" {
		disabled := strings.Split(v, ",")
		for i := range c.Providers {
			for _, name := range disabled {
				if strings.EqualFold(strings.TrimSpace(name), c.Providers[i].Name) {
					c.Providers[i].Enabled = false
				}
			}
		}
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Timeouts.Bulk == 0 {
		c.Timeouts.Bulk = 10 * time.Second
	}
	if c.Timeouts.Realtime == 0 {
		c.Timeouts.Realtime = 5 * time.Second
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 500
	}
	defaultTier(&c.Cache.Composite, 15*time.Second, 60*time.Second)
	defaultTier(&c.Cache.Quote, 5*time.Second, 30*time.Second)
	defaultTier(&c.Cache.Sector, 30*time.Second, 120*time.Second)
	defaultTier(&c.Cache.Chart, 60*time.Second, 300*time.Second)
	defaultTier(&c.Cache.Search, 60*time.Second, 300*time.Second)
	if c.Cache.LastResort == 0 {
		c.Cache.LastResort = 5 * time.Minute
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 30 * time.Second
	}
	if c.Snapshot.Redis.TTL == 0 {
		c.Snapshot.Redis.TTL = 10 * time.Minute
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = "America/New_York"
	}
	if c.Market.OpenTime == "" {
		c.Market.OpenTime = "09:30"
	}
	if c.Market.CloseTime == "" {
		c.Market.CloseTime = "16:00"
	}
}

func defaultTier(t *CacheTier, fresh, stale time.Duration) {
	if t.FreshFor == 0 {
		t.FreshFor = fresh
	}
	if t.StaleFor == 0 {
		t.StaleFor = stale
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers cannot be empty")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider '%s'", p.Name)
		}
		seen[p.Name] = true
		if p.RateLimit < 0 {
			return fmt.Errorf("provider '%s': rate_limit must be >= 0", p.Name)
		}
	}
	for name, tier := range map[string]CacheTier{
		"composite": c.Cache.Composite,
		"quote":     c.Cache.Quote,
		"sector":    c.Cache.Sector,
		"chart":     c.Cache.Chart,
		"search":    c.Cache.Search,
	} {
		if tier.StaleFor < tier.FreshFor {
			return fmt.Errorf("cache.%s: stale_for must be >= fresh_for", name)
		}
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	return nil
}
