package audit

import (
	"os"
	"strconv"
)

// DefaultQueueSize is the default buffer of the asynchronous sink.
const DefaultQueueSize = 1024

// AuditConfig controls audit behavior.
type AuditConfig struct {
	Enabled       bool // Whether mutations are recorded at all
	RetentionDays int  // Default 90; 0 disables the retention worker
	QueueSize     int  // Buffer of the asynchronous sink
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:       true,
		RetentionDays: 90,
		QueueSize:     DefaultQueueSize,
	}
}

// AuditConfigFromEnv loads config from environment variables.
// APPROVALS_AUDIT_ENABLED, APPROVALS_AUDIT_RETENTION_DAYS, APPROVALS_AUDIT_QUEUE_SIZE
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if v := os.Getenv("APPROVALS_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}

	if v := os.Getenv("APPROVALS_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}

	if v := os.Getenv("APPROVALS_AUDIT_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}

	return cfg
}
