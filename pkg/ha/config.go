// Package ha lets several approval engine replicas share one database: a
// migration lock serializes schema changes and a Kubernetes Lease elects the
// single replica that runs the SLA monitor and audit retention.
package ha

import (
	"os"
	"strconv"
	"time"
)

// Config holds high-availability settings.
type Config struct {
	// LeaderElection enables Lease-based election. When false the replica
	// considers itself leader as soon as it starts.
	LeaderElection bool

	LeaseName      string
	LeaseNamespace string

	// LeaseDuration is how long followers wait before trying to take over
	// an unrenewed lease.
	LeaseDuration time.Duration
	// RenewDeadline is how long the leader keeps retrying a renewal before
	// stepping down.
	RenewDeadline time.Duration
	RetryPeriod   time.Duration

	// MigrationLock serializes migrations across replicas.
	MigrationLock bool

	// Identity names this replica in the lease. Defaults to POD_NAME or the
	// hostname.
	Identity string
}

// DefaultConfig returns the single-replica defaults.
func DefaultConfig() *Config {
	ns := os.Getenv("POD_NAMESPACE")
	if ns == "" {
		ns = "approvals"
	}
	return &Config{
		LeaderElection: false,
		LeaseName:      "approval-engine-leader",
		LeaseNamespace: ns,
		LeaseDuration:  15 * time.Second,
		RenewDeadline:  10 * time.Second,
		RetryPeriod:    2 * time.Second,
		MigrationLock:  true,
		Identity:       defaultIdentity(),
	}
}

// ConfigFromEnv reads HA settings from the environment on top of the
// defaults. Durations are whole seconds; unparsable values are ignored.
//
//   - APPROVALS_LEADER_ELECTION
//   - APPROVALS_LEASE_NAME, APPROVALS_LEASE_NAMESPACE
//   - APPROVALS_LEASE_DURATION, APPROVALS_LEASE_RENEW_DEADLINE, APPROVALS_LEASE_RETRY_PERIOD
//   - APPROVALS_MIGRATION_LOCK
//   - POD_NAME
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if b, ok := envBool("APPROVALS_LEADER_ELECTION"); ok {
		cfg.LeaderElection = b
	}
	if v := os.Getenv("APPROVALS_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("APPROVALS_LEASE_NAMESPACE"); v != "" {
		cfg.LeaseNamespace = v
	}
	if d, ok := envSeconds("APPROVALS_LEASE_DURATION"); ok {
		cfg.LeaseDuration = d
	}
	if d, ok := envSeconds("APPROVALS_LEASE_RENEW_DEADLINE"); ok {
		cfg.RenewDeadline = d
	}
	if d, ok := envSeconds("APPROVALS_LEASE_RETRY_PERIOD"); ok {
		cfg.RetryPeriod = d
	}
	if b, ok := envBool("APPROVALS_MIGRATION_LOCK"); ok {
		cfg.MigrationLock = b
	}
	return cfg
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envSeconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
