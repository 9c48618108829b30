package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.SweepCron != "@every 5m" || cfg.Sync.MaxAttempts != 3 {
		t.Errorf("unexpected defaults: %+v", cfg.Sync)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reloading default file: %v", err)
	}
	if again.Sync.FetchTimeout != 15*time.Second || again.Feed.CacheTTL != 5*time.Minute {
		t.Errorf("durations did not survive a round trip: %+v %+v", again.Sync, again.Feed)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CALENDAR_REDIS_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  listen: ":9000"
sync:
  workers: 8
  fetch_timeout: 5s
redis:
  address: "localhost:6379"
  password: "${CALENDAR_REDIS_PASSWORD}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("password = %q", cfg.Redis.Password)
	}
	if cfg.Server.Listen != ":9000" || cfg.Sync.Workers != 8 || cfg.Sync.FetchTimeout != 5*time.Second {
		t.Errorf("unexpected values: %+v %+v", cfg.Server, cfg.Sync)
	}
	if cfg.Sync.SourceBudget != 2*time.Minute {
		t.Errorf("source budget not defaulted: %s", cfg.Sync.SourceBudget)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad sweep cron", yaml: "sync:\n  sweep_cron: \"every now and then\"\n", want: "sweep_cron"},
		{name: "fetch longer than budget", yaml: "sync:\n  fetch_timeout: 5m\n  source_budget: 1m\n", want: "fetch_timeout"},
		{name: "feed cache too long", yaml: "feed:\n  cache_ttl: 3h\n", want: "cache_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
