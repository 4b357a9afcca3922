package authz

import (
	"context"
	"net/http"
	"strings"
)

// AnonymousUser is the identity assigned to requests without credentials.
const AnonymousUser = "anonymous"

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated caller of a request. Groups carry
// the caller's platform roles as asserted by the proxy or token issuer.
type Identity struct {
	User   string
	Groups []string
}

// Anonymous reports whether the identity carries no authenticated user.
func (i Identity) Anonymous() bool {
	return i.User == "" || i.User == AnonymousUser
}

// InGroup reports whether the identity lists group (case-insensitive).
func (i Identity) InGroup(group string) bool {
	for _, g := range i.Groups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// IdentityMiddleware returns HTTP middleware that extracts identity from
// X-Remote-User and X-Remote-Group headers and stores it in the request context.
// If X-Remote-User is missing, the user defaults to "anonymous".
// X-Remote-Group is comma-separated.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithIdentity(r.Context(), identityFromHeaders(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromHeaders(r *http.Request) Identity {
	user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
	if user == "" {
		user = AnonymousUser
	}
	return Identity{User: user, Groups: splitGroups(r.Header.Get("X-Remote-Group"))}
}

func splitGroups(header string) []string {
	var groups []string
	for _, g := range strings.Split(header, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}
