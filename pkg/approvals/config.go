package approvals

import (
	"os"
	"strconv"
)

// ServiceConfig controls workflow validation.
type ServiceConfig struct {
	RequireSteps bool // Reject workflows created without steps. Default true.
	MaxSteps     int  // Upper bound on steps per workflow. Default 20.
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		RequireSteps: true,
		MaxSteps:     20,
	}
}

// ServiceConfigFromEnv loads config from environment variables.
// APPROVALS_REQUIRE_STEPS, APPROVALS_MAX_STEPS
func ServiceConfigFromEnv() *ServiceConfig {
	cfg := DefaultServiceConfig()

	if v := os.Getenv("APPROVALS_REQUIRE_STEPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireSteps = b
		}
	}

	if v := os.Getenv("APPROVALS_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSteps = n
		}
	}

	return cfg
}
