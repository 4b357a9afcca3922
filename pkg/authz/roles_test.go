package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRoles map[string][]string

func (s staticRoles) RolesOf(_ context.Context, userID string) []string { return s[userID] }

func TestRoleAuthorizer_DefaultPolicy(t *testing.T) {
	authorizer := NewRoleAuthorizer(nil, staticRoles{"dora": {"admin"}})

	tests := []struct {
		name string
		req  AuthzRequest
		want bool
	}{
		{"consultor creates", AuthzRequest{User: "carl", Groups: []string{"consultor"}, Resource: ResourceApprovals, Verb: VerbCreate}, true},
		{"group match is case-insensitive", AuthzRequest{User: "carl", Groups: []string{"Consultor"}, Resource: ResourceApprovals, Verb: VerbUpdate}, true},
		{"consultor cannot delete", AuthzRequest{User: "carl", Groups: []string{"consultor"}, Resource: ResourceApprovals, Verb: VerbDelete}, false},
		{"directory admin deletes", AuthzRequest{User: "dora", Resource: ResourceApprovals, Verb: VerbDelete}, true},
		{"auditor lists audit", AuthzRequest{User: "ann", Groups: []string{"auditor"}, Resource: ResourceAudit, Verb: VerbList}, true},
		{"plain user cannot list audit", AuthzRequest{User: "ann", Resource: ResourceAudit, Verb: VerbList}, false},
		{"unlisted pair open to authenticated users", AuthzRequest{User: "ann", Resource: ResourceApprovals, Verb: VerbApprove}, true},
		{"anonymous always denied", AuthzRequest{User: AnonymousUser, Groups: []string{"admin"}, Resource: ResourceApprovals, Verb: VerbList}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := authorizer.Authorize(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRolePolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - resource: approvals
    verbs: [delete]
    roles: [admin, consultor]
  - resource: approvals
    verbs: [approve, reject]
    roles: [approver]
`), 0o600))

	policy, err := LoadRolePolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "consultor"}, policy["approvals/delete"])
	assert.Equal(t, []string{"approver"}, policy["approvals/approve"])
	assert.Equal(t, []string{RoleAdmin, RoleConsultor}, policy["approvals/create"], "defaults retained")

	authorizer := NewRoleAuthorizer(policy, nil)
	ok, err := authorizer.Authorize(context.Background(),
		AuthzRequest{User: "carl", Groups: []string{"consultor"}, Resource: ResourceApprovals, Verb: VerbDelete})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadRolePolicy_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRolePolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - roles: [admin]\n"), 0o600))
	_, err = LoadRolePolicy(path)
	assert.Error(t, err)
}

func TestParseAuthzMode(t *testing.T) {
	for in, want := range map[string]AuthzMode{"": AuthzModeRoles, "roles": AuthzModeRoles, "NONE": AuthzModeNone, " sar ": AuthzModeSAR} {
		got, err := ParseAuthzMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAuthzMode("ldap")
	assert.Error(t, err)
}
