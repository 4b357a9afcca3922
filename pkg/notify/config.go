package notify

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls notification delivery.
type Config struct {
	From          string        // Sender identity; empty disables delivery
	Recipients    []string      // Extra recipients added to every message
	WebhookURL    string        // When set, messages go to the webhook instead of the log
	QueueSize     int           // Dispatcher buffer
	MaxRetries    int           // Retries after the first failed attempt
	RetryInterval time.Duration // Initial backoff between attempts
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:     256,
		MaxRetries:    3,
		RetryInterval: 500 * time.Millisecond,
	}
}

// ConfigFromEnv loads config from environment variables.
// APPROVALS_NOTIFY_FROM, APPROVALS_NOTIFY_RECIPIENTS (comma-separated),
// APPROVALS_NOTIFY_WEBHOOK_URL, APPROVALS_NOTIFY_QUEUE_SIZE, APPROVALS_NOTIFY_MAX_RETRIES
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.From = strings.TrimSpace(os.Getenv("APPROVALS_NOTIFY_FROM"))
	for _, r := range strings.Split(os.Getenv("APPROVALS_NOTIFY_RECIPIENTS"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.Recipients = append(cfg.Recipients, r)
		}
	}
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("APPROVALS_NOTIFY_WEBHOOK_URL"))

	if v := os.Getenv("APPROVALS_NOTIFY_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("APPROVALS_NOTIFY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	return cfg
}

// NewGateway builds the gateway selected by cfg.
func NewGateway(cfg *Config, logger *slog.Logger) Gateway {
	if cfg.WebhookURL != "" {
		return NewWebhookGateway(cfg.WebhookURL, cfg.From, cfg.Recipients, nil, logger)
	}
	return NewLogGateway(cfg.From, cfg.Recipients, logger)
}
