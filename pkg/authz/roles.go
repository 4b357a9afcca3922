package authz

import (
	"context"
	"fmt"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"
)

// RoleSource resolves the platform roles held by a user, typically from the
// user directory.
type RoleSource interface {
	RolesOf(ctx context.Context, userID string) []string
}

// RolePolicy maps "resource/verb" to the roles allowed to perform it.
type RolePolicy map[string][]string

// DefaultRolePolicy returns the built-in policy: everyone may read and decide
// approvals (step eligibility is checked by the service), admins and
// consultors may create and update, only admins may delete, and audit
// entries are visible to admins, consultors and auditors.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		ResourceApprovals + "/" + VerbCreate: {RoleAdmin, RoleConsultor},
		ResourceApprovals + "/" + VerbUpdate: {RoleAdmin, RoleConsultor},
		ResourceApprovals + "/" + VerbDelete: {RoleAdmin},
		ResourceAudit + "/" + VerbList:       {RoleAdmin, RoleConsultor, RoleAuditor},
		ResourceAudit + "/" + VerbGet:        {RoleAdmin, RoleConsultor, RoleAuditor},
	}
}

type rolePolicyFile struct {
	Rules []struct {
		Resource string   `yaml:"resource"`
		Verbs    []string `yaml:"verbs"`
		Roles    []string `yaml:"roles"`
	} `yaml:"rules"`
}

// LoadRolePolicy reads a YAML policy file and overlays it on the default
// policy. Rules in the file replace the default roles for their resource/verb.
func LoadRolePolicy(path string) (RolePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role policy %s: %w", path, err)
	}
	var file rolePolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role policy %s: %w", path, err)
	}

	policy := DefaultRolePolicy()
	for i, rule := range file.Rules {
		if rule.Resource == "" || len(rule.Verbs) == 0 {
			return nil, fmt.Errorf("role policy %s: rule %d needs a resource and at least one verb", path, i)
		}
		for _, verb := range rule.Verbs {
			policy[rule.Resource+"/"+verb] = rule.Roles
		}
	}
	return policy, nil
}

// RoleAuthorizer allows a request when the caller holds one of the roles the
// policy lists for its resource/verb. Pairs absent from the policy are open
// to any authenticated caller. Roles are the union of the identity groups and
// whatever the optional RoleSource reports.
type RoleAuthorizer struct {
	policy RolePolicy
	roles  RoleSource
}

// NewRoleAuthorizer creates a RoleAuthorizer. A nil policy selects DefaultRolePolicy.
func NewRoleAuthorizer(policy RolePolicy, roles RoleSource) *RoleAuthorizer {
	if policy == nil {
		policy = DefaultRolePolicy()
	}
	return &RoleAuthorizer{policy: policy, roles: roles}
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	if req.User == "" || req.User == AnonymousUser {
		return false, nil
	}
	allowed, ok := a.policy[req.Resource+"/"+req.Verb]
	if !ok {
		return true, nil
	}

	held := mapset.NewThreadUnsafeSet[string]()
	for _, g := range req.Groups {
		held.Add(strings.ToLower(g))
	}
	if a.roles != nil {
		for _, r := range a.roles.RolesOf(ctx, req.User) {
			held.Add(strings.ToLower(r))
		}
	}
	for _, role := range allowed {
		if held.Contains(strings.ToLower(role)) {
			return true, nil
		}
	}
	return false, nil
}
