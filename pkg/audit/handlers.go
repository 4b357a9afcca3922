package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auditcore/approval-engine/pkg/authz"
)

// ListEntriesHandler handles GET /audit.
// Query params: projectId, entity, entityId, actorId, pageSize, pageToken.
// Without projectId the listing spans all projects, which only callers with
// global access (project "") may see.
func ListEntriesHandler(store *Store, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := Filter{
			ProjectID: q.Get("projectId"),
			Entity:    q.Get("entity"),
			EntityID:  q.Get("entityId"),
			ActorID:   q.Get("actorId"),
		}

		id, _ := authz.IdentityFromContext(r.Context())
		if !access.CanAccess(r.Context(), id, filter.ProjectID) {
			writeError(w, http.StatusForbidden, "no access to project")
			return
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			v, err := strconv.Atoi(ps)
			if err != nil || v <= 0 {
				writeError(w, http.StatusBadRequest, "pageSize must be a positive integer")
				return
			}
			pageSize = v
		}

		records, next, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			if errors.Is(err, ErrInvalidPageToken) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to list audit entries")
			return
		}

		entries := make([]entryResponse, len(records))
		for i, rec := range records {
			entries[i] = recordToResponse(rec)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries":       entries,
			"nextPageToken": next,
			"totalSize":     total,
		})
	}
}

// GetEntryHandler handles GET /audit/{id}.
func GetEntryHandler(store *Store, access authz.ProjectAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID := chi.URLParam(r, "id")

		rec, err := store.GetByID(r.Context(), entryID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get audit entry")
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "audit entry not found")
			return
		}

		id, _ := authz.IdentityFromContext(r.Context())
		if !access.CanAccess(r.Context(), id, rec.ProjectID) {
			writeError(w, http.StatusForbidden, "no access to project")
			return
		}
		writeJSON(w, http.StatusOK, recordToResponse(*rec))
	}
}

type entryResponse struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId"`
	ProjectID string         `json:"projectId,omitempty"`
	OldValue  map[string]any `json:"oldValue,omitempty"`
	NewValue  map[string]any `json:"newValue,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func recordToResponse(rec LogRecord) entryResponse {
	return entryResponse{
		ID:        rec.ID,
		Entity:    rec.Entity,
		EntityID:  rec.EntityID,
		Action:    rec.Action,
		ActorID:   rec.ActorID,
		ProjectID: rec.ProjectID,
		OldValue:  map[string]any(rec.OldValue),
		NewValue:  map[string]any(rec.NewValue),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
