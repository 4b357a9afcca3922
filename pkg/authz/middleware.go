package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequirePermission returns middleware that enforces a resource/verb
// permission check for the identity stored by the identity middleware.
// Anonymous callers are rejected with 401 before the authorizer is asked.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if id.Anonymous() {
				writeDenied(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			allowed, err := authorizer.Authorize(r.Context(), AuthzRequest{
				User:     id.User,
				Groups:   id.Groups,
				Resource: resource,
				Verb:     verb,
			})
			if err != nil {
				writeDenied(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
				return
			}
			if !allowed {
				writeDenied(w, http.StatusForbidden, "forbidden",
					fmt.Sprintf("insufficient permissions for %s/%s", resource, verb))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
