package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("STORE_BACKEND", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Errorf("StoreBackend = %q, want postgres", cfg.StoreBackend)
	}
	if cfg.ThumbnailWidth != 1920 || cfg.ThumbnailHeight != 1080 {
		t.Errorf("thumbnail = %dx%d, want 1920x1080", cfg.ThumbnailWidth, cfg.ThumbnailHeight)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("LEDGER_STALE_TICKS", "12")
	t.Setenv("STORE_BACKEND", "FILE")
	t.Setenv("TWITCH_CHAT_CHANNEL", "#SomeChannel")
	t.Setenv("CHAT_ANNOUNCE", "1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Errorf("PollInterval = %v, want 90s", cfg.PollInterval)
	}
	if cfg.LedgerStaleTicks != 12 {
		t.Errorf("LedgerStaleTicks = %d, want 12", cfg.LedgerStaleTicks)
	}
	if cfg.StoreBackend != BackendFile {
		t.Errorf("StoreBackend = %q, want file", cfg.StoreBackend)
	}
	if cfg.TwitchChatChannel != "somechannel" {
		t.Errorf("TwitchChatChannel = %q, want somechannel", cfg.TwitchChatChannel)
	}
	if !cfg.ChatAnnounce {
		t.Error("ChatAnnounce = false, want true")
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("DISPATCH_CONCURRENCY", "many")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid values")
	}
	for _, want := range []string{"POLL_INTERVAL", "DISPATCH_CONCURRENCY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.yaml")
	body := `poll_interval: 2m
store_backend: file
data_dir: /var/lib/herald
seed:
  - identity: Alice
    template: "go watch!"
  - identity: bob
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATA_DIR", "/tmp/override")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m from file", cfg.PollInterval)
	}
	if cfg.DataDir != "/tmp/override" {
		t.Errorf("DataDir = %q, want env override", cfg.DataDir)
	}
	if len(cfg.Seed) != 2 || cfg.Seed[0].Identity != "Alice" || cfg.Seed[0].Template != "go watch!" {
		t.Errorf("Seed = %+v", cfg.Seed)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing CONFIG_FILE")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Defaults()
		c.TwitchClientID = "id"
		c.TwitchClientSecret = "secret"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing creds", mutate: func(c *Config) { c.TwitchClientSecret = "" }, wantErr: "TWITCH_CLIENT_SECRET"},
		{name: "interval too small", mutate: func(c *Config) { c.PollInterval = time.Second }, wantErr: "below minimum"},
		{name: "backoff below interval", mutate: func(c *Config) { c.PollMaxBackoff = time.Minute }, wantErr: "POLL_MAX_BACKOFF"},
		{name: "backoff equal to interval", mutate: func(c *Config) { c.PollMaxBackoff = c.PollInterval }, wantErr: "POLL_MAX_BACKOFF"},
		{name: "bad backend", mutate: func(c *Config) { c.StoreBackend = "redis" }, wantErr: "unknown STORE_BACKEND"},
		{name: "file needs dir", mutate: func(c *Config) { c.StoreBackend = BackendFile; c.DataDir = "" }, wantErr: "DATA_DIR"},
		{name: "stale ticks", mutate: func(c *Config) { c.LedgerStaleTicks = 0 }, wantErr: "LEDGER_STALE_TICKS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	c := Defaults()
	c.TwitchChatChannel = "chan"
	c.TwitchBotUsername = "bot"
	c.TwitchOAuthToken = "oauth:token"
	if err := c.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	c.TwitchChatChannel = ""
	if err := c.ValidateChatReady(); err == nil {
		t.Error("expected error when chat channel missing")
	}
}
