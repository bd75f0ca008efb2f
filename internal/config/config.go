// Package config loads console settings from SUPPORTDESK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds the console settings. Command-line flags override these.
type Config struct {
	BaseURL      string `env:"SUPPORTDESK_BASE_URL"       envDefault:"http://127.0.0.1:8080"`
	Token        string `env:"SUPPORTDESK_TOKEN"`
	AdminID      string `env:"SUPPORTDESK_ADMIN_ID"`
	PushURL      string `env:"SUPPORTDESK_PUSH_URL"`
	AMQPURL      string `env:"SUPPORTDESK_AMQP_URL"`
	AMQPExchange string `env:"SUPPORTDESK_AMQP_EXCHANGE"  envDefault:"support.chat"`

	ReadStateDSN   string `env:"SUPPORTDESK_READ_STATE_DSN"   envDefault:"file://.supportdesk/read-state.json"`
	ReadStateKey   string `env:"SUPPORTDESK_READ_STATE_KEY"   envDefault:"admin_chat_read_state"`
	WatchReadState bool   `env:"SUPPORTDESK_WATCH_READ_STATE"`

	ListInterval    time.Duration `env:"SUPPORTDESK_LIST_INTERVAL"    envDefault:"5s"`
	PendingInterval time.Duration `env:"SUPPORTDESK_PENDING_INTERVAL" envDefault:"10s"`
	MessageInterval time.Duration `env:"SUPPORTDESK_MESSAGE_INTERVAL" envDefault:"3s"`
	ToastTTL        time.Duration `env:"SUPPORTDESK_TOAST_TTL"        envDefault:"5s"`
	MaxRetries      int           `env:"SUPPORTDESK_MAX_RETRIES"      envDefault:"0"`

	LogLevel string `env:"SUPPORTDESK_LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every command needs. Commands acting as an
// admin also call RequireAdmin.
func (c Config) Validate() error {
	var problems []string
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.BaseURL)); err != nil {
		problems = append(problems, "base url must be an absolute url")
	}
	if c.PushURL != "" {
		if u, err := url.Parse(c.PushURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			problems = append(problems, "push url must use ws or wss")
		}
	}
	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			problems = append(problems, "amqp url must use amqp or amqps")
		}
	}
	for name, d := range map[string]time.Duration{
		"list interval":    c.ListInterval,
		"pending interval": c.PendingInterval,
		"message interval": c.MessageInterval,
		"toast ttl":        c.ToastTTL,
	} {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max retries must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) RequireAdmin() error {
	if strings.TrimSpace(c.AdminID) == "" {
		return fmt.Errorf("%w: admin id is required (--admin-id or SUPPORTDESK_ADMIN_ID)", ErrInvalidConfig)
	}
	return nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}
