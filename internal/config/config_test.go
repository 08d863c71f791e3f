package config

import "testing"

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr: %s", cfg.Redis.Addr)
	}
	if cfg.Retry.MaxUploadRetries != 3 {
		t.Fatalf("unexpected max upload retries: %d", cfg.Retry.MaxUploadRetries)
	}
	if cfg.Upload.HangulLowRune != 0xAC00 {
		t.Fatalf("unexpected hangul low rune: %x", cfg.Upload.HangulLowRune)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.EventBus.MaxDeliver = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for max_deliver=0")
	}
}

func TestValidateRejectsMissingChannelID(t *testing.T) {
	cfg := defaultConfig()
	cfg.ChannelID = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for empty channel_id")
	}
}
