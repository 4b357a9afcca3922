// Package authz provides identity and authorization primitives for the
// approval engine. It supports role-based authorization, Kubernetes
// SubjectAccessReview-based authorization and a no-op mode for development.
package authz

import "context"

// APIGroup is the API group for approval resources in Kubernetes RBAC.
const APIGroup = "approvals.auditcore.io"

// Resource names for RBAC mapping.
const (
	ResourceApprovals = "approvals"
	ResourceAudit     = "audit"
)

// Verb names for RBAC mapping.
const (
	VerbGet     = "get"
	VerbList    = "list"
	VerbCreate  = "create"
	VerbUpdate  = "update"
	VerbDelete  = "delete"
	VerbApprove = "approve"
)

// Well-known platform roles.
const (
	RoleAdmin     = "admin"
	RoleConsultor = "consultor"
	RoleAuditor   = "auditor"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
	Project  string // Empty for checks not bound to a project.
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
