package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
archive:
  username: ficbot-account
  password: hunter2
browser:
  headless: false
  user_agent: custom-agent
  nav_timeout_seconds: 45
  max_session_uses: 10
  max_open_tabs: 2
  health_interval_minutes: 5
scraper:
  min_interval_ms: 2500
  login_max_attempts: 5
  login_backoff_ms: 500
  fetch_timeout_seconds: 20
  cookie_path: /tmp/ficbot-cookies.json
  rate_limit_pause_seconds: 90
db:
  dsn: postgres://localhost/ficbot
  max_open_conns: 8
worker:
  count: 2
  queue_depth: 32
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Archive.Username != "ficbot-account" || cfg.Archive.Password != "hunter2" {
		t.Fatalf("expected archive credentials to load")
	}
	if cfg.Browser.Headless || cfg.Browser.UserAgent != "custom-agent" {
		t.Fatalf("expected browser overrides to apply")
	}
	if cfg.Browser.MaxSessionUses != 10 || cfg.Browser.MaxOpenTabs != 2 {
		t.Fatalf("expected session limits to apply")
	}
	if cfg.Scraper.MinIntervalMs != 2500 || cfg.Scraper.LoginMaxAttempts != 5 {
		t.Fatalf("expected scraper overrides to apply")
	}
	if cfg.DB.DSN != "postgres://localhost/ficbot" || cfg.DB.MaxOpenConns != 8 {
		t.Fatalf("expected db overrides to apply")
	}
	if cfg.Worker.Count != 2 || cfg.Worker.QueueDepth != 32 {
		t.Fatalf("expected worker overrides to apply")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}

	if got := cfg.NavTimeout(); got != 45*time.Second {
		t.Fatalf("NavTimeout() = %v", got)
	}
	if got := cfg.MinInterval(); got != 2500*time.Millisecond {
		t.Fatalf("MinInterval() = %v", got)
	}
	if got := cfg.FetchTimeout(); got != 20*time.Second {
		t.Fatalf("FetchTimeout() = %v", got)
	}
	if got := cfg.HealthInterval(); got != 5*time.Minute {
		t.Fatalf("HealthInterval() = %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FICBOT_ARCHIVE_USERNAME", "ficbot-account")
	t.Setenv("FICBOT_ARCHIVE_PASSWORD", "hunter2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Browser.Headless {
		t.Fatalf("expected headless default true")
	}
	if cfg.Browser.MaxSessionUses != 25 {
		t.Fatalf("expected default max_session_uses 25, got %d", cfg.Browser.MaxSessionUses)
	}
	if cfg.Scraper.MinIntervalMs != 4000 {
		t.Fatalf("expected default min_interval_ms 4000, got %d", cfg.Scraper.MinIntervalMs)
	}
	if cfg.Scraper.CookiePath != "data/cookies.json" {
		t.Fatalf("expected default cookie path, got %q", cfg.Scraper.CookiePath)
	}
	if cfg.DB.DSN != "" {
		t.Fatalf("expected empty default dsn, got %q", cfg.DB.DSN)
	}
	if !strings.Contains(cfg.Browser.UserAgent, "ficbot") {
		t.Fatalf("expected identifying user agent, got %q", cfg.Browser.UserAgent)
	}
}

func TestLoadRequiresArchiveCredentials(t *testing.T) {
	t.Setenv("FICBOT_ARCHIVE_USERNAME", "")
	t.Setenv("FICBOT_ARCHIVE_PASSWORD", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected missing credentials to fail validation")
	}
}

func TestValidateRejectsBadLimits(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Archive: ArchiveConfig{Username: "u", Password: "p"},
		Browser: BrowserConfig{MaxSessionUses: 25, NavTimeoutSec: 90},
		Scraper: ScraperConfig{LoginMaxAttempts: 3},
		Worker:  WorkerConfig{Count: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate, got %v", err)
	}

	bad := base
	bad.Browser.MaxSessionUses = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected zero max_session_uses to fail")
	}

	bad = base
	bad.Scraper.MinIntervalMs = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected negative min_interval_ms to fail")
	}

	bad = base
	bad.Worker.Count = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected zero worker count to fail")
	}
}
