package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODERATION_TIMEOUT_LADDER", "")
	t.Setenv("MODERATION_BAN_THRESHOLD", "")
	t.Setenv("DB_DSN", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TimeoutLadderSeconds != [4]int{0, 300, 600, 1200} {
		t.Errorf("TimeoutLadderSeconds = %v, want default ladder", cfg.TimeoutLadderSeconds)
	}
	if cfg.MaxViolationsBeforeBan != 5 {
		t.Errorf("MaxViolationsBeforeBan = %d, want 5", cfg.MaxViolationsBeforeBan)
	}
	if cfg.EngagementWindow != time.Minute {
		t.Errorf("EngagementWindow = %v, want 1m", cfg.EngagementWindow)
	}
	if cfg.HypeThresholdPerMin != 20 {
		t.Errorf("HypeThresholdPerMin = %v, want 20", cfg.HypeThresholdPerMin)
	}
	if cfg.HypeCooldown != 5*time.Minute {
		t.Errorf("HypeCooldown = %v, want 5m", cfg.HypeCooldown)
	}
	if cfg.ResponseDelay != 2*time.Second {
		t.Errorf("ResponseDelay = %v, want 2s", cfg.ResponseDelay)
	}
	if cfg.DBDsn == "" {
		t.Error("expected default DB DSN")
	}
	if !cfg.ModerationEnabled || !cfg.CheckAIResponses || !cfg.LogAllActions {
		t.Error("moderation flags should default to enabled")
	}
}

func TestLoadLadderOverride(t *testing.T) {
	t.Setenv("MODERATION_TIMEOUT_LADDER", "60, 120,300,600")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TimeoutLadderSeconds != [4]int{60, 120, 300, 600} {
		t.Errorf("TimeoutLadderSeconds = %v, want [60 120 300 600]", cfg.TimeoutLadderSeconds)
	}
}

func TestLoadLadderInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"too_few", "0,300"},
		{"non_numeric", "0,abc,600,1200"},
		{"negative", "0,-300,600,1200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MODERATION_TIMEOUT_LADDER", tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for ladder %q", tt.value)
			}
		})
	}
}

func TestLoadBanThresholdInvalid(t *testing.T) {
	t.Setenv("MODERATION_BAN_THRESHOLD", "1")
	if _, err := Load(); err == nil {
		t.Error("expected error for ban threshold below 2")
	}
}

func TestLoadChannelList(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "alpha, beta ,,gamma")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.TwitchChannels) != len(want) {
		t.Fatalf("TwitchChannels = %v, want %v", cfg.TwitchChannels, want)
	}
	for i := range want {
		if cfg.TwitchChannels[i] != want[i] {
			t.Errorf("TwitchChannels[%d] = %q, want %q", i, cfg.TwitchChannels[i], want[i])
		}
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_CHANNELS", "")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateEnforcementReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_MODERATOR_ID", "123")
	cfg, _ := Load()
	if err := cfg.ValidateEnforcementReady(); err != nil {
		t.Errorf("expected valid enforcement config, got %v", err)
	}
	t.Setenv("TWITCH_MODERATOR_ID", "")
	cfg, _ = Load()
	if err := cfg.ValidateEnforcementReady(); err == nil {
		t.Error("expected error when missing moderator id")
	}
}
