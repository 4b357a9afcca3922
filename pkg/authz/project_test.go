package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMembership struct {
	admins   map[string]bool
	projects map[string][]string
}

func (f fakeMembership) HasRole(_ context.Context, userID, role string) bool {
	return role == RoleAdmin && f.admins[userID]
}

func (f fakeMembership) IsProjectMember(userID, projectID string) bool {
	for _, p := range f.projects[userID] {
		if p == projectID {
			return true
		}
	}
	return false
}

func TestDirectoryProjectAccess(t *testing.T) {
	access := NewDirectoryProjectAccess(fakeMembership{
		admins:   map[string]bool{"dora": true},
		projects: map[string][]string{"alice": {"p1"}},
	})
	ctx := context.Background()

	assert.True(t, access.CanAccess(ctx, Identity{User: "alice"}, "p1"))
	assert.False(t, access.CanAccess(ctx, Identity{User: "alice"}, "p2"))
	assert.True(t, access.CanAccess(ctx, Identity{User: "dora"}, "p2"), "directory admin")
	assert.True(t, access.CanAccess(ctx, Identity{User: "eve", Groups: []string{"admin"}}, "p9"), "admin group")
	assert.False(t, access.CanAccess(ctx, Identity{User: AnonymousUser, Groups: []string{"admin"}}, "p1"))
}

func TestAllowAllProjects(t *testing.T) {
	assert.True(t, AllowAllProjects{}.CanAccess(context.Background(), Identity{}, "any"))
}
