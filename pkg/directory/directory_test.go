package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDirectory = `
users:
  - id: alice
    name: Alice Approver
    email: alice@example.com
    roles: [consultor]
    projects: [p1, p2]
  - id: bob
    name: Bob Builder
    email: bob@example.com
    roles: [Approver, auditor]
    projects: [p1]
  - id: dora
    name: Dora Admin
    email: dora@example.com
    roles: [admin, approver]
`

func writeDirectory(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	d, err := Load(writeDirectory(t, t.TempDir(), sampleDirectory), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, 3, d.Len())

	alice, ok := d.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", alice.Email)
	_, ok = d.Lookup("mallory")
	assert.False(t, ok)

	approvers := d.MembersOfRole("approver")
	require.Len(t, approvers, 2)
	assert.Equal(t, "bob", approvers[0].ID)
	assert.Equal(t, "dora", approvers[1].ID)

	assert.True(t, d.HasRole(ctx, "bob", "APPROVER"))
	assert.False(t, d.HasRole(ctx, "alice", "admin"))
	assert.False(t, d.HasRole(ctx, "mallory", "admin"))
	assert.Equal(t, []string{"approver", "auditor"}, d.RolesOf(ctx, "bob"))
	assert.Nil(t, d.RolesOf(ctx, "mallory"))

	assert.True(t, d.IsProjectMember("alice", "p2"))
	assert.False(t, d.IsProjectMember("bob", "p2"))
	assert.False(t, d.IsProjectMember("alice", ""))
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Load(writeDirectory(t, dir, "users: [{name: nobody}]"), nil)
	assert.Error(t, err)

	_, err = Load(writeDirectory(t, dir, "users: [{id: a}, {id: a}]"), nil)
	assert.Error(t, err)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeDirectory(t, dir, sampleDirectory)
	d, err := Load(path, nil)
	require.NoError(t, err)

	writeDirectory(t, dir, "users: [: broken")
	assert.Error(t, d.Reload())
	assert.Equal(t, 3, d.Len())
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeDirectory(t, dir, sampleDirectory)
	d, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Watch(ctx))

	writeDirectory(t, dir, "users:\n  - id: erin\n    email: erin@example.com\n    roles: [approver]\n")

	require.Eventually(t, func() bool {
		_, ok := d.Lookup("erin")
		return ok && d.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewStatic(t *testing.T) {
	d, err := New([]User{{ID: "x", Roles: []string{"admin"}}}, nil)
	require.NoError(t, err)
	assert.True(t, d.HasRole(context.Background(), "x", "admin"))
	assert.NoError(t, d.Reload())
	assert.NoError(t, d.Watch(context.Background()))
}
