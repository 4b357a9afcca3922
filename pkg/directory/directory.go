// Package directory resolves users, their contact details, platform roles and
// project memberships from a YAML file that can be reloaded at runtime.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// User is a directory entry.
type User struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Email    string   `yaml:"email" json:"email"`
	Roles    []string `yaml:"roles" json:"roles,omitempty"`
	Projects []string `yaml:"projects" json:"projects,omitempty"`
}

type file struct {
	Users []User `yaml:"users"`
}

type entry struct {
	user     User
	roles    mapset.Set[string]
	projects mapset.Set[string]
}

// Directory is an in-memory, concurrency-safe user directory.
type Directory struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string]entry
}

// New builds a Directory from users. Such a directory has no backing file;
// Reload and Watch are no-ops.
func New(users []User, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{logger: logger}
	index, err := buildIndex(users)
	if err != nil {
		return nil, err
	}
	d.users = index
	return d, nil
}

// Load reads the directory from a YAML file.
func Load(path string, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{path: path, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the backing file. On error the previous contents stay in place.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", d.path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse directory %s: %w", d.path, err)
	}
	index, err := buildIndex(f.Users)
	if err != nil {
		return fmt.Errorf("directory %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.users = index
	d.mu.Unlock()
	d.logger.Info("user directory loaded", "path", d.path, "users", len(index))
	return nil
}

func buildIndex(users []User) (map[string]entry, error) {
	index := make(map[string]entry, len(users))
	for i, u := range users {
		u.ID = strings.TrimSpace(u.ID)
		if u.ID == "" {
			return nil, fmt.Errorf("user %d has no id", i)
		}
		if _, dup := index[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}
		e := entry{
			user:     u,
			roles:    mapset.NewThreadUnsafeSet[string](),
			projects: mapset.NewThreadUnsafeSet[string](u.Projects...),
		}
		for _, r := range u.Roles {
			e.roles.Add(strings.ToLower(strings.TrimSpace(r)))
		}
		index[u.ID] = e
	}
	return index, nil
}

// Lookup returns the user with id.
func (d *Directory) Lookup(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.users[id]
	return e.user, ok
}

// MembersOfRole returns every user holding role, ordered by id.
func (d *Directory) MembersOfRole(role string) []User {
	role = strings.ToLower(strings.TrimSpace(role))
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []User
	for _, e := range d.users {
		if e.roles.Contains(role) {
			out = append(out, e.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasRole reports whether the user holds role.
func (d *Directory) HasRole(_ context.Context, userID, role string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.users[userID]
	return ok && e.roles.Contains(strings.ToLower(strings.TrimSpace(role)))
}

// RolesOf returns the roles of a user, or nil for unknown users.
func (d *Directory) RolesOf(_ context.Context, userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.users[userID]
	if !ok {
		return nil
	}
	roles := e.roles.ToSlice()
	sort.Strings(roles)
	return roles
}

// IsProjectMember reports whether the user belongs to project.
func (d *Directory) IsProjectMember(userID, projectID string) bool {
	if projectID == "" {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.users[userID]
	return ok && e.projects.Contains(projectID)
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Watch reloads the directory whenever its file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file by
// rename are picked up too.
func (d *Directory) Watch(ctx context.Context) error {
	if d.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(d.path), err)
	}

	target := filepath.Clean(d.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.Reload(); err != nil {
					d.logger.Warn("user directory reload failed, keeping previous contents", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("user directory watcher error", "error", err)
			}
		}
	}()
	return nil
}
