package approvals

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/auditcore/approval-engine/pkg/authz"
)

// decisionBody is the optional payload of approve and reject.
type decisionBody struct {
	Comments *string `json:"comments"`
}

// listWorkflowsHandler lists workflows the caller can see.
// GET /approvals?projectId=&resourceType=&resourceId=&status=&overdue=
func listWorkflowsHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := authz.IdentityFromContext(r.Context())
		q := r.URL.Query()

		f := ListFilter{
			ProjectID:    q.Get("projectId"),
			ResourceType: q.Get("resourceType"),
			ResourceID:   q.Get("resourceId"),
			Status:       WorkflowStatus(q.Get("status")),
		}
		if v := q.Get("overdue"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "overdue must be true or false")
				return
			}
			f.Overdue = &b
		}
		if f.ProjectID != "" && !access.CanAccess(r.Context(), id, f.ProjectID) {
			writeError(w, http.StatusForbidden, "no access to project "+f.ProjectID)
			return
		}

		workflows, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if f.ProjectID == "" {
			workflows = visible(r, access, id, workflows)
		}
		writeJSON(w, http.StatusOK, workflows)
	}
}

// listPendingHandler lists workflows awaiting the caller's decision.
// GET /approvals/pending
func listPendingHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := authz.IdentityFromContext(r.Context())
		workflows, err := svc.ListPendingForUser(r.Context(), id.User)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, visible(r, access, id, workflows))
	}
}

// createWorkflowHandler creates a workflow.
// POST /approvals
func createWorkflowHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := authz.IdentityFromContext(r.Context())

		var req CreateWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.ProjectID != "" && !access.CanAccess(r.Context(), id, req.ProjectID) {
			writeError(w, http.StatusForbidden, "no access to project "+req.ProjectID)
			return
		}

		wf, err := svc.Create(r.Context(), req, id.User)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, wf)
	}
}

// getWorkflowHandler returns a workflow.
// GET /approvals/{id}
func getWorkflowHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := loadAccessible(w, r, svc, access)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

// decideHandler approves or rejects the active step.
// POST /approvals/{id}/approve, POST /approvals/{id}/reject
func decideHandler(svc *Service, access authz.ProjectAccess, verdict StepStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body decisionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		wf, ok := loadAccessible(w, r, svc, access)
		if !ok {
			return
		}
		id, _ := authz.IdentityFromContext(r.Context())

		var err error
		if verdict == StepRejected {
			wf, err = svc.Reject(r.Context(), wf.ID, id.User, body.Comments)
		} else {
			wf, err = svc.Approve(r.Context(), wf.ID, id.User, body.Comments)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

// updateWorkflowHandler applies an administrative override.
// PUT /approvals/{id}
func updateWorkflowHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		wf, ok := loadAccessible(w, r, svc, access)
		if !ok {
			return
		}
		id, _ := authz.IdentityFromContext(r.Context())

		wf, err := svc.Update(r.Context(), wf.ID, req, id.User)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

// deleteWorkflowHandler removes a workflow.
// DELETE /approvals/{id}
func deleteWorkflowHandler(svc *Service, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := loadAccessible(w, r, svc, access)
		if !ok {
			return
		}
		id, _ := authz.IdentityFromContext(r.Context())

		if err := svc.Remove(r.Context(), wf.ID, id.User); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// loadAccessible fetches the workflow named in the URL and checks that the
// caller may access its project. It writes the error response itself.
func loadAccessible(w http.ResponseWriter, r *http.Request, svc *Service, access authz.ProjectAccess) (*Workflow, bool) {
	wf, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	id, _ := authz.IdentityFromContext(r.Context())
	if !access.CanAccess(r.Context(), id, wf.ProjectID) {
		writeError(w, http.StatusForbidden, "no access to project "+wf.ProjectID)
		return nil, false
	}
	return wf, true
}

func visible(r *http.Request, access authz.ProjectAccess, id authz.Identity, in []Workflow) []Workflow {
	out := make([]Workflow, 0, len(in))
	allowed := make(map[string]bool)
	for _, wf := range in {
		ok, seen := allowed[wf.ProjectID]
		if !seen {
			ok = access.CanAccess(r.Context(), id, wf.ProjectID)
			allowed[wf.ProjectID] = ok
		}
		if ok {
			out = append(out, wf)
		}
	}
	return out
}

// requireAuthenticated rejects anonymous callers with 401.
func requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := authz.IdentityFromContext(r.Context()); id.Anonymous() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, HTTPStatus(err), Message(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
