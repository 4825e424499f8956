package pdfwatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPageURL is the page watched when no target is configured.
const DefaultPageURL = "https://www.uni-bamberg.de/pruefungsamt/pruefungstermine/"

// waybackUserAgent is sent to web.archive.org, which throttles unknown agents harder.
const waybackUserAgent = "Mozilla/5.0 (Windows NT 5.1; rv:40.0) Gecko/20100101 Firefox/40.0"

// Config configures the pdfwatch service.
type Config struct {
	Listen   string `yaml:"listen"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Target   TargetConfig   `yaml:"target"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Wayback  WaybackConfig  `yaml:"wayback"`
	Cache    CacheConfig    `yaml:"cache"`

	// RunTimeout bounds a whole run, all fetches included.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// TriggerRateLimit caps manual HTTP triggers per client IP per minute.
	// Negative disables the limit.
	TriggerRateLimit int `yaml:"trigger_rate_limit"`
}

// TargetConfig names the watched page and the file extension to collect.
type TargetConfig struct {
	PageURL   string `yaml:"page_url"`
	Extension string `yaml:"extension"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	UserAgent    string        `yaml:"user_agent"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// AllowPrivate disables the private-address check (intranet deployments, tests).
	AllowPrivate bool `yaml:"allow_private"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	Disabled   bool          `yaml:"disabled"`
	Interval   time.Duration `yaml:"interval"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// WaybackConfig configures historical replay.
type WaybackConfig struct {
	CDXURL      string        `yaml:"cdx_url"`
	ArchiveBase string        `yaml:"archive_base"`
	UserAgent   string        `yaml:"user_agent"`
	FromYear    int           `yaml:"from_year"`
	ToYear      int           `yaml:"to_year"`
	Delay       time.Duration `yaml:"delay"`
}

// CacheConfig configures the document cache.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "data/pdfwatch.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Target.PageURL == "" {
		c.Target.PageURL = DefaultPageURL
	}
	if c.Target.Extension == "" {
		c.Target.Extension = "pdf"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "pdfwatch/1.0"
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = time.Hour
	}
	if c.Wayback.UserAgent == "" {
		c.Wayback.UserAgent = waybackUserAgent
	}
	if c.Wayback.FromYear <= 0 {
		c.Wayback.FromYear = 2000
	}
	if c.Wayback.ToYear <= 0 {
		c.Wayback.ToYear = 2030
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = 256
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.TriggerRateLimit == 0 {
		c.TriggerRateLimit = 6
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML config file. Missing fields get defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}

// LoadConfig reads path when non-empty, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	cfg.defaults()
	return cfg, nil
}

// ApplyEnv overrides fields from PDFWATCH_* environment variables.
func (c *Config) ApplyEnv() {
	c.Listen = env("PDFWATCH_LISTEN", c.Listen)
	c.DBPath = env("PDFWATCH_DB", c.DBPath)
	c.LogLevel = env("PDFWATCH_LOG_LEVEL", c.LogLevel)
	c.Target.PageURL = env("PDFWATCH_PAGE_URL", c.Target.PageURL)
	c.Target.Extension = env("PDFWATCH_EXTENSION", c.Target.Extension)
	if v := os.Getenv("PDFWATCH_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Schedule.Interval = d
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// waybackRange converts the configured years to the replay time bounds.
func (c *Config) waybackRange() (from, to time.Time) {
	from = time.Date(c.Wayback.FromYear, 1, 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(c.Wayback.ToYear, 12, 31, 23, 59, 59, 0, time.UTC)
	return from, to
}
