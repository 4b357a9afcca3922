package sla

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinInterval is the fastest the monitor will ever sweep.
const MinInterval = 15 * time.Second

// NotifyScope selects whose approvers are alerted on a breach.
type NotifyScope string

const (
	// ScopeActive alerts the approvers of the active step only.
	ScopeActive NotifyScope = "active"
	// ScopePending alerts the approvers of every pending step.
	ScopePending NotifyScope = "pending"
)

// MonitorConfig controls the SLA monitor.
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration // Clamped to MinInterval
	Scope    NotifyScope
}

// DefaultMonitorConfig returns the default configuration.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Enabled:  true,
		Interval: time.Minute,
		Scope:    ScopeActive,
	}
}

// EffectiveInterval returns the configured interval floor-clamped to MinInterval.
func (c *MonitorConfig) EffectiveInterval() time.Duration {
	if c.Interval < MinInterval {
		return MinInterval
	}
	return c.Interval
}

// MonitorConfigFromEnv loads config from environment variables.
// APPROVALS_SLA_ENABLED, APPROVALS_SLA_INTERVAL_SECONDS, APPROVALS_SLA_NOTIFY_SCOPE
func MonitorConfigFromEnv() *MonitorConfig {
	cfg := DefaultMonitorConfig()

	if v := os.Getenv("APPROVALS_SLA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("APPROVALS_SLA_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Interval = time.Duration(secs) * time.Second
		}
	}
	switch NotifyScope(strings.ToLower(strings.TrimSpace(os.Getenv("APPROVALS_SLA_NOTIFY_SCOPE")))) {
	case ScopePending:
		cfg.Scope = ScopePending
	case ScopeActive:
		cfg.Scope = ScopeActive
	}

	return cfg
}
