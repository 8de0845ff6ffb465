package config_test

import (
	"strings"
	"testing"
	"time"

	"ctfbot/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse default template: %v", err)
	}
	if cfg.CommandPrefix != "." {
		t.Fatalf("unexpected prefix %q", cfg.CommandPrefix)
	}
	if time.Duration(cfg.DigestInterval) != time.Hour {
		t.Fatalf("unexpected digest interval %v", cfg.DigestInterval)
	}
	if time.Duration(cfg.TypingDelay) != 500*time.Millisecond {
		t.Fatalf("unexpected typing delay %v", cfg.TypingDelay)
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte("command_prefix: \"!\"\ndigest_interval: 30m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.CommandPrefix != "!" {
		t.Fatalf("unexpected prefix %q", cfg.CommandPrefix)
	}
	if time.Duration(cfg.DigestInterval) != 30*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.DigestInterval)
	}
	// untouched fields keep their defaults
	if cfg.FlagEmoji == "" {
		t.Fatal("expected default flag emoji")
	}
}

func TestInvalidDuration(t *testing.T) {
	_, err := config.FromYAML([]byte("typing_delay: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestInvalidPrefix(t *testing.T) {
	_, err := config.FromYAML([]byte("command_prefix: \". \"\n"))
	if err == nil {
		t.Fatal("expected validation error for whitespace prefix")
	}
}
