package approvals

import (
	"github.com/go-chi/chi/v5"

	"github.com/auditcore/approval-engine/pkg/authz"
)

// NewRouter creates a chi.Router serving the approval workflow API. Every
// route requires an authenticated caller; creating and updating require the
// approvals/create and approvals/update permissions, deleting requires
// approvals/delete. Nil authorizer and access allow everything.
func NewRouter(svc *Service, authorizer authz.Authorizer, access authz.ProjectAccess) chi.Router {
	if authorizer == nil {
		authorizer = &authz.NoopAuthorizer{}
	}
	if access == nil {
		access = authz.AllowAllProjects{}
	}
	can := func(verb string) func(chi.Router) chi.Router {
		perm := authz.RequirePermission(authorizer, authz.ResourceApprovals, verb)
		return func(r chi.Router) chi.Router { return r.With(perm) }
	}

	r := chi.NewRouter()
	r.Use(requireAuthenticated)

	r.Get("/", listWorkflowsHandler(svc, access))
	r.Get("/pending", listPendingHandler(svc, access))
	can(authz.VerbCreate)(r).Post("/", createWorkflowHandler(svc, access))

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", getWorkflowHandler(svc, access))
		r.Post("/approve", decideHandler(svc, access, StepApproved))
		r.Post("/reject", decideHandler(svc, access, StepRejected))
		can(authz.VerbUpdate)(r).Put("/", updateWorkflowHandler(svc, access))
		can(authz.VerbDelete)(r).Delete("/", deleteWorkflowHandler(svc, access))
	})
	return r
}
