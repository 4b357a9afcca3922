package authz

import "context"

// ProjectAccess decides whether a caller may act on resources of a project.
type ProjectAccess interface {
	CanAccess(ctx context.Context, id Identity, projectID string) bool
}

// AllowAllProjects grants every caller access to every project.
type AllowAllProjects struct{}

// CanAccess always returns true.
func (AllowAllProjects) CanAccess(context.Context, Identity, string) bool { return true }

// Membership is the directory view needed for project checks.
type Membership interface {
	HasRole(ctx context.Context, userID, role string) bool
	IsProjectMember(userID, projectID string) bool
}

// DirectoryProjectAccess grants access to admins and to project members.
type DirectoryProjectAccess struct {
	members Membership
}

// NewDirectoryProjectAccess creates a DirectoryProjectAccess.
func NewDirectoryProjectAccess(members Membership) *DirectoryProjectAccess {
	return &DirectoryProjectAccess{members: members}
}

// CanAccess implements ProjectAccess.
func (d *DirectoryProjectAccess) CanAccess(ctx context.Context, id Identity, projectID string) bool {
	if id.Anonymous() {
		return false
	}
	if id.InGroup(RoleAdmin) || d.members.HasRole(ctx, id.User, RoleAdmin) {
		return true
	}
	return d.members.IsProjectMember(id.User, projectID)
}
