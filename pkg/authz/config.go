package authz

import (
	"fmt"
	"strings"
)

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables authorization checks (development).
	AuthzModeNone AuthzMode = "none"
	// AuthzModeRoles checks caller groups against a role policy.
	AuthzModeRoles AuthzMode = "roles"
	// AuthzModeSAR uses Kubernetes SubjectAccessReview for authorization.
	AuthzModeSAR AuthzMode = "sar"
)

// ParseAuthzMode parses a mode name. An empty string selects roles.
func ParseAuthzMode(s string) (AuthzMode, error) {
	switch AuthzMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", AuthzModeRoles:
		return AuthzModeRoles, nil
	case AuthzModeNone:
		return AuthzModeNone, nil
	case AuthzModeSAR:
		return AuthzModeSAR, nil
	}
	return "", fmt.Errorf("unknown authz mode %q (expected none, roles or sar)", s)
}
