package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TwitchScopes != "chat:read chat:edit" {
		t.Errorf("default scopes = %q", cfg.TwitchScopes)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("default poll interval = %v", cfg.PollInterval)
	}
	if cfg.PollTimeout != 10*time.Second {
		t.Errorf("default poll timeout = %v", cfg.PollTimeout)
	}
	if cfg.QueueRetention != 5*time.Minute {
		t.Errorf("default retention = %v", cfg.QueueRetention)
	}
	if cfg.JoinFilePath == "" {
		t.Error("join file path empty")
	}
	if cfg.DBDsn == "" {
		t.Error("db dsn empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COORDINATOR_URL", "https://coordinator.example/")
	t.Setenv("COORDINATOR_POLL_INTERVAL", "10s")
	t.Setenv("TWITCH_CHANNELS", " Alpha, beta ,,GAMMA ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CoordinatorURL != "https://coordinator.example" {
		t.Errorf("coordinator url = %q (trailing slash should be trimmed)", cfg.CoordinatorURL)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.InitialChannels) != len(want) {
		t.Fatalf("channels = %v, want %v", cfg.InitialChannels, want)
	}
	for i := range want {
		if cfg.InitialChannels[i] != want[i] {
			t.Errorf("channel[%d] = %q, want %q", i, cfg.InitialChannels[i], want[i])
		}
	}
}

func TestDurationEnvInvalid(t *testing.T) {
	t.Setenv("COORDINATOR_POLL_INTERVAL", "notaduration")
	cfg, _ := Load()
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("invalid duration should fall back to default, got %v", cfg.PollInterval)
	}
}

func TestValidateChatReady(t *testing.T) {
	c := &Config{}
	if err := c.ValidateChatReady(); err == nil {
		t.Error("expected error without bot username")
	}
	c.TwitchBotUsername = "meowcounterbot"
	if err := c.ValidateChatReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateOAuthReady(t *testing.T) {
	c := &Config{TwitchClientID: "a", TwitchClientSecret: "b"}
	if err := c.ValidateOAuthReady(); err == nil {
		t.Error("expected error without redirect URI")
	}
	c.TwitchRedirectURI = "https://example.test/cb"
	if err := c.ValidateOAuthReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
