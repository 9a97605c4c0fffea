// Package config loads and validates bot configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Browser BrowserConfig `mapstructure:"browser"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	DB      DBConfig      `mapstructure:"db"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ArchiveConfig holds the account used against the primary fiction
// archive. Both values are required at startup; a fetch must never be
// the first place a missing credential shows up.
type ArchiveConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// BrowserConfig governs the shared headless browser session.
type BrowserConfig struct {
	Headless              bool   `mapstructure:"headless"`
	UserAgent             string `mapstructure:"user_agent"`
	NavTimeoutSec         int    `mapstructure:"nav_timeout_seconds"`
	MaxSessionUses        int    `mapstructure:"max_session_uses"`
	MaxOpenTabs           int    `mapstructure:"max_open_tabs"`
	HealthIntervalMinutes int    `mapstructure:"health_interval_minutes"`
}

// ScraperConfig tunes the fetch pipeline.
type ScraperConfig struct {
	MinIntervalMs     int    `mapstructure:"min_interval_ms"`
	LoginMaxAttempts  int    `mapstructure:"login_max_attempts"`
	LoginBackoffMs    int    `mapstructure:"login_backoff_ms"`
	FetchTimeoutSec   int    `mapstructure:"fetch_timeout_seconds"`
	CookiePath        string `mapstructure:"cookie_path"`
	RateLimitPauseSec int    `mapstructure:"rate_limit_pause_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store for local development.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// WorkerConfig governs the scrape job loop.
type WorkerConfig struct {
	Count      int `mapstructure:"count"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FICBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	// Credentials default to empty so Unmarshal picks them up from the
	// environment; Validate rejects them when still unset.
	v.SetDefault("archive.username", "")
	v.SetDefault("archive.password", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "ficbot/1.0 (fan-work metadata lookup; does not archive content)")
	v.SetDefault("browser.nav_timeout_seconds", 90)
	v.SetDefault("browser.max_session_uses", 25)
	v.SetDefault("browser.max_open_tabs", 4)
	v.SetDefault("browser.health_interval_minutes", 10)
	v.SetDefault("scraper.min_interval_ms", 4000)
	v.SetDefault("scraper.login_max_attempts", 3)
	v.SetDefault("scraper.login_backoff_ms", 1000)
	v.SetDefault("scraper.fetch_timeout_seconds", 30)
	v.SetDefault("scraper.cookie_path", "data/cookies.json")
	v.SetDefault("scraper.rate_limit_pause_seconds", 60)
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Archive.Username == "" || c.Archive.Password == "" {
		return fmt.Errorf("archive.username and archive.password are required")
	}
	if c.Browser.MaxSessionUses <= 0 {
		return fmt.Errorf("browser.max_session_uses must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Scraper.MinIntervalMs < 0 {
		return fmt.Errorf("scraper.min_interval_ms must be >= 0")
	}
	if c.Scraper.LoginMaxAttempts <= 0 {
		return fmt.Errorf("scraper.login_max_attempts must be > 0")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	return nil
}

// NavTimeout converts the navigation timeout knob to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// MinInterval converts the rate gate interval knob to a duration.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.Scraper.MinIntervalMs) * time.Millisecond
}

// FetchTimeout converts the pipeline budget knob to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSec) * time.Second
}

// HealthInterval converts the health probe period knob to a duration.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.Browser.HealthIntervalMinutes) * time.Minute
}
