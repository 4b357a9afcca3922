package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/auditcore/approval-engine/pkg/authz"
)

// Router creates a chi.Router for the audit API. Endpoints require the
// audit/list and audit/get permissions. A nil access selects AllowAllProjects.
func Router(store *Store, authorizer authz.Authorizer, access authz.ProjectAccess) chi.Router {
	if authorizer == nil {
		authorizer = &authz.NoopAuthorizer{}
	}
	if access == nil {
		access = authz.AllowAllProjects{}
	}

	r := chi.NewRouter()
	r.With(authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbList)).
		Get("/", ListEntriesHandler(store, access))
	r.With(authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbGet)).
		Get("/{id}", GetEntryHandler(store, access))
	return r
}
