package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Web.Port != 3847 {
		t.Errorf("expected web port 3847, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/swarmhub.db" {
		t.Errorf("expected store path data/swarmhub.db, got %s", cfg.Store.Path)
	}
	if cfg.Swarm.ShareCap != 100 {
		t.Errorf("expected share cap 100, got %d", cfg.Swarm.ShareCap)
	}
	if !cfg.Sweeper.Enabled || cfg.Sweeper.Schedule != "* * * * *" {
		t.Errorf("unexpected sweeper defaults: %+v", cfg.Sweeper)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SWARMHUB_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("PORT", "")
	t.Setenv("SWARMHUB_WEB_PORT", "9090")
	t.Setenv("SWARMHUB_STORE_PATH", "/tmp/hub.db")
	t.Setenv("SWARMHUB_SHARE_CAP", "0")
	t.Setenv("SWARMHUB_KEY_PEPPER", "pepper")
	t.Setenv("SWARMHUB_BASE_URL", "https://hub.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Store.Path != "/tmp/hub.db" {
		t.Errorf("expected store path /tmp/hub.db, got %s", cfg.Store.Path)
	}
	if cfg.Swarm.ShareCap != 0 {
		t.Errorf("expected share cap 0, got %d", cfg.Swarm.ShareCap)
	}
	if cfg.Auth.Pepper != "pepper" {
		t.Errorf("expected pepper, got %q", cfg.Auth.Pepper)
	}
	if cfg.Web.BaseURL != "https://hub.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Web.BaseURL)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
store:
  path: "${HUB_DIR}/hub.db"
web:
  port: 3000
  enabled: false
swarm:
  share_cap: 90
sweeper:
  schedule: "*/5 * * * *"
telegram:
  token: "yaml-token"
  chat_ids: [123, 456]
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SWARMHUB_CONFIG", cfgPath)
	t.Setenv("HUB_DIR", "/srv/hub")
	t.Setenv("PORT", "")
	t.Setenv("SWARMHUB_WEB_PORT", "")
	t.Setenv("SWARMHUB_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "/srv/hub/hub.db" {
		t.Errorf("expected expanded store path, got %s", cfg.Store.Path)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Swarm.ShareCap != 90 {
		t.Errorf("expected share cap 90, got %d", cfg.Swarm.ShareCap)
	}
	if cfg.Sweeper.Schedule != "*/5 * * * *" {
		t.Errorf("expected sweeper schedule */5, got %s", cfg.Sweeper.Schedule)
	}
	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.ChatIDs) != 2 {
		t.Errorf("expected 2 chat ids, got %d", len(cfg.Telegram.ChatIDs))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, true},
		{"negative share cap", func(c *Config) { c.Swarm.ShareCap = -1 }, true},
		{"bad cron", func(c *Config) { c.Sweeper.Schedule = "every minute" }, true},
		{"bad cron with sweeper disabled", func(c *Config) {
			c.Sweeper.Enabled = false
			c.Sweeper.Schedule = "nope"
		}, false},
		{"port out of range", func(c *Config) { c.Web.Port = 70000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
