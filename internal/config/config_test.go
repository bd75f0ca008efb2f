package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"SUPPORTDESK_ADMIN_ID": "admin-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListInterval != 5*time.Second || cfg.PendingInterval != 10*time.Second || cfg.MessageInterval != 3*time.Second {
		t.Fatalf("unexpected intervals %+v", cfg)
	}
	if cfg.ToastTTL != 5*time.Second || cfg.MaxRetries != 0 {
		t.Fatalf("unexpected toast ttl or retries %+v", cfg)
	}
	if cfg.ReadStateDSN != "file://.supportdesk/read-state.json" || cfg.ReadStateKey != "admin_chat_read_state" {
		t.Fatalf("unexpected read state defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if err := cfg.RequireAdmin(); err != nil {
		t.Fatalf("expected admin id to be set, got %v", err)
	}
	if err := (Config{}).RequireAdmin(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing admin id to be rejected, got %v", err)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"SUPPORTDESK_BASE_URL":         "https://shop.example.com",
		"SUPPORTDESK_ADMIN_ID":         "7",
		"SUPPORTDESK_PUSH_URL":         "wss://shop.example.com/ws/chat",
		"SUPPORTDESK_LIST_INTERVAL":    "2s",
		"SUPPORTDESK_WATCH_READ_STATE": "true",
		"SUPPORTDESK_LOG_LEVEL":        "debug",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListInterval != 2*time.Second || !cfg.WatchReadState || cfg.PushURL == "" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if level, _ := ParseLogLevel(cfg.LogLevel); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", level)
	}
}

func TestLoadFromRejectsBadDuration(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"SUPPORTDESK_LIST_INTERVAL": "soon"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Config{
		BaseURL:         "not a url",
		PushURL:         "http://example.com",
		AMQPURL:         "redis://example.com",
		ListInterval:    0,
		PendingInterval: time.Second,
		MessageInterval: time.Second,
		ToastTTL:        time.Second,
		LogLevel:        "loud",
	}
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, want := range []string{"base url", "push url", "amqp url", "list interval", "log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
