// Package approvals implements multi-step, deadline-bound approval workflows.
//
// Steps are gated sequentially: only the lowest-order pending step (the
// active step) can be decided. A single rejection vetoes the workflow, and
// the workflow is approved once every step is approved. The active step is
// derived from step state on every read and never stored.
package approvals

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/auditcore/approval-engine/pkg/audit"
	"github.com/auditcore/approval-engine/pkg/clock"
)

// EntityName is the audit entity name of workflows.
const EntityName = "ApprovalWorkflow"

// AuditSink receives one entry per workflow mutation. Failures are logged
// and never undo the mutation.
type AuditSink interface {
	Record(ctx context.Context, e audit.Entry) error
}

// RoleResolver answers role membership for steps assigned by role.
type RoleResolver interface {
	HasRole(ctx context.Context, userID, role string) bool
	RolesOf(ctx context.Context, userID string) []string
}

// Service owns every state transition of workflows, steps and timers.
type Service struct {
	store  *Store
	clock  clock.Clock
	audit  AuditSink
	roles  RoleResolver
	cfg    *ServiceConfig
	logger *slog.Logger
}

// NewService creates a Service. Nil collaborators fall back to the real
// clock, a discarding audit sink, no role membership and the default config.
func NewService(store *Store, clk clock.Clock, sink AuditSink, roles RoleResolver, cfg *ServiceConfig, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	if roles == nil {
		roles = noRoles{}
	}
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		clock:  clk,
		audit:  sink,
		roles:  roles,
		cfg:    cfg,
		logger: logger,
	}
}

// Create persists a new pending workflow with its ordered steps. When the
// request carries a deadline, a running SLA timer is started.
func (s *Service) Create(ctx context.Context, req CreateWorkflowRequest, actorID string) (*Workflow, error) {
	if err := s.validateCreate(&req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	b := &WorkflowBundle{
		Workflow: WorkflowRecord{
			ID:           uuid.New().String(),
			ProjectID:    req.ProjectID,
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
			Status:       WorkflowPending,
			CreatedBy:    actorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	for i, st := range req.Steps {
		order := i + 1
		if st.Order != nil {
			order = *st.Order
		}
		b.Steps = append(b.Steps, StepRecord{
			ID:           uuid.New().String(),
			WorkflowID:   b.Workflow.ID,
			Order:        order,
			ApproverID:   st.ApproverID,
			ApproverRole: st.ApproverRole,
			Status:       StepPending,
			Comments:     st.Comments,
		})
	}
	sort.Slice(b.Steps, func(i, j int) bool { return b.Steps[i].Order < b.Steps[j].Order })

	if req.DueAt != nil {
		due := req.DueAt.UTC()
		b.Workflow.DueAt = &due
		b.Timers = []TimerRecord{{
			ID:         uuid.New().String(),
			WorkflowID: b.Workflow.ID,
			StartedAt:  now,
			DueAt:      due,
			Status:     TimerRunning,
		}}
	}

	if err := s.store.Create(ctx, b); err != nil {
		return nil, unavailable("failed to create approval workflow", err)
	}

	w := toWorkflow(b)
	s.record(ctx, audit.ActionCreate, w.ID, w.ProjectID, actorID, nil, snapshot(w))
	return &w, nil
}

// Get returns a workflow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Workflow, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, unavailable("failed to get approval workflow", err)
	}
	if b == nil {
		return nil, notFound("approval workflow %s not found", id)
	}
	w := toWorkflow(b)
	return &w, nil
}

// List returns workflows matching f, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Workflow, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalidArgument("invalid status filter %q", f.Status)
	}
	bundles, err := s.store.List(ctx, f)
	if err != nil {
		return nil, unavailable("failed to list approval workflows", err)
	}
	out := make([]Workflow, len(bundles))
	for i := range bundles {
		out[i] = toWorkflow(&bundles[i])
	}
	return out, nil
}

// ListPendingForUser returns the workflows whose active step is assigned to
// userID, by id or by role. Workflows with the nearest deadline come first;
// workflows without a deadline come last.
func (s *Service) ListPendingForUser(ctx context.Context, userID string) ([]Workflow, error) {
	bundles, err := s.store.ListWithPendingStepFor(ctx, userID, s.roles.RolesOf(ctx, userID))
	if err != nil {
		return nil, unavailable("failed to list pending approvals", err)
	}

	actionable := make([]WorkflowBundle, 0, len(bundles))
	for i := range bundles {
		active := bundles[i].ActiveStep()
		if active != nil && s.assigned(ctx, userID, active) {
			actionable = append(actionable, bundles[i])
		}
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		a, b := actionable[i].Workflow.DueAt, actionable[j].Workflow.DueAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})

	out := make([]Workflow, len(actionable))
	for i := range actionable {
		out[i] = toWorkflow(&actionable[i])
	}
	return out, nil
}

// Approve approves the active step on behalf of actorID. Approving the last
// step approves the workflow and cancels its running timers.
func (s *Service) Approve(ctx context.Context, id, actorID string, comments *string) (*Workflow, error) {
	return s.decide(ctx, id, actorID, comments, StepApproved)
}

// Reject rejects the active step on behalf of actorID, which rejects the
// whole workflow and cancels its running timers.
func (s *Service) Reject(ctx context.Context, id, actorID string, comments *string) (*Workflow, error) {
	return s.decide(ctx, id, actorID, comments, StepRejected)
}

func (s *Service) decide(ctx context.Context, id, actorID string, comments *string, verdict StepStatus) (*Workflow, error) {
	var before, after Workflow

	err := s.store.Transition(ctx, id, func(tx *Tx, b *WorkflowBundle) error {
		if b == nil {
			return notFound("approval workflow %s not found", id)
		}
		before = toWorkflow(b)

		if b.Workflow.Status != WorkflowPending {
			return invalidState("workflow not pending")
		}
		active := b.ActiveStep()
		if active == nil {
			return invalidState("workflow has no pending step")
		}
		if !s.assigned(ctx, actorID, active) {
			return s.ineligible(ctx, actorID, b, active)
		}

		now := s.clock.Now()
		if err := tx.DecideStep(active.ID, verdict, actorID, comments, now); err != nil {
			return conflictAs(err, "step already decided")
		}

		updates := map[string]any{"updated_at": now}
		resolved := false
		switch {
		case verdict == StepRejected:
			updates["status"] = string(WorkflowRejected)
			resolved = true
		case lastPending(b, active):
			updates["status"] = string(WorkflowApproved)
			resolved = true
		}
		if resolved {
			updates["overdue"] = false
		}
		if err := tx.UpdateWorkflow(id, WorkflowPending, updates); err != nil {
			return conflictAs(err, "workflow not pending")
		}
		if resolved {
			if err := tx.CancelRunningTimers(id, now); err != nil {
				return err
			}
		}

		nb, err := tx.Reload(id)
		if err != nil {
			return err
		}
		after = toWorkflow(nb)
		return nil
	})
	if err != nil {
		return nil, serviceError(err, "failed to record decision")
	}

	s.record(ctx, audit.ActionUpdate, id, after.ProjectID, actorID, snapshot(before), snapshot(after))
	return &after, nil
}

// Update applies an administrative override of status and/or deadline.
// Changing the deadline cancels running timers and, while the workflow is
// pending and not yet overdue, arms a new one. The overdue flag is left
// untouched unless the workflow leaves pending.
func (s *Service) Update(ctx context.Context, id string, req UpdateWorkflowRequest, actorID string) (*Workflow, error) {
	if req.Status == nil && !req.DueAt.Set {
		return nil, invalidArgument("nothing to update: provide status and/or dueAt")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, invalidArgument("invalid status %q", *req.Status)
	}

	var before, after Workflow
	err := s.store.Transition(ctx, id, func(tx *Tx, b *WorkflowBundle) error {
		if b == nil {
			return notFound("approval workflow %s not found", id)
		}
		before = toWorkflow(b)

		now := s.clock.Now()
		current := b.Workflow.Status
		next := current
		updates := map[string]any{"updated_at": now}
		if req.Status != nil {
			next = *req.Status
			updates["status"] = string(next)
		}
		leaving := current == WorkflowPending && next != WorkflowPending
		reentering := current != WorkflowPending && next == WorkflowPending
		if leaving {
			updates["overdue"] = false
		}

		due := b.Workflow.DueAt
		if req.DueAt.Set {
			if req.DueAt.Value != nil {
				d := req.DueAt.Value.UTC()
				due = &d
				updates["due_at"] = d
			} else {
				due = nil
				updates["due_at"] = nil
			}
		}

		if err := tx.UpdateWorkflow(id, "", updates); err != nil {
			return conflictAs(err, "workflow was removed")
		}
		if leaving || req.DueAt.Set {
			if err := tx.CancelRunningTimers(id, now); err != nil {
				return err
			}
		}
		armed := next == WorkflowPending && due != nil && !b.Workflow.Overdue
		if armed && (req.DueAt.Set || reentering) {
			err := tx.AddTimer(&TimerRecord{
				ID:         uuid.New().String(),
				WorkflowID: id,
				StartedAt:  now,
				DueAt:      *due,
				Status:     TimerRunning,
			})
			if err != nil {
				return err
			}
		}

		nb, err := tx.Reload(id)
		if err != nil {
			return err
		}
		after = toWorkflow(nb)
		return nil
	})
	if err != nil {
		return nil, serviceError(err, "failed to update approval workflow")
	}

	s.record(ctx, audit.ActionUpdate, id, after.ProjectID, actorID, snapshot(before), snapshot(after))
	return &after, nil
}

// Remove hard-deletes a workflow with its steps and timers. The audit entry
// carries the pre-delete snapshot.
func (s *Service) Remove(ctx context.Context, id, actorID string) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return unavailable("failed to get approval workflow", err)
	}
	if b == nil {
		return notFound("approval workflow %s not found", id)
	}
	before := toWorkflow(b)

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return unavailable("failed to delete approval workflow", err)
	}
	if !deleted {
		return notFound("approval workflow %s not found", id)
	}

	s.record(ctx, audit.ActionDelete, id, before.ProjectID, actorID, snapshot(before), nil)
	return nil
}

// assigned reports whether userID may act on step: by approver id when one
// is set, otherwise by role membership.
func (s *Service) assigned(ctx context.Context, userID string, step *StepRecord) bool {
	if userID == "" {
		return false
	}
	if step.ApproverID != nil && *step.ApproverID != "" {
		return *step.ApproverID == userID
	}
	if step.ApproverRole != nil && *step.ApproverRole != "" {
		return s.roles.HasRole(ctx, userID, *step.ApproverRole)
	}
	return false
}

// ineligible explains why actorID cannot decide the active step.
func (s *Service) ineligible(ctx context.Context, actorID string, b *WorkflowBundle, active *StepRecord) error {
	var laterPending, decided bool
	for i := range b.Steps {
		st := &b.Steps[i]
		if st.ID == active.ID || !s.assigned(ctx, actorID, st) {
			continue
		}
		switch {
		case st.Status == StepPending && st.Order > active.Order:
			laterPending = true
		case st.Status != StepPending:
			decided = true
		}
	}
	switch {
	case laterPending:
		return invalidState("not your turn: step %d must be decided first", active.Order)
	case decided:
		return invalidState("step already decided")
	default:
		return forbidden("no pending step in this workflow is assigned to %s", actorID)
	}
}

func (s *Service) validateCreate(req *CreateWorkflowRequest) error {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.ResourceType = strings.TrimSpace(req.ResourceType)
	req.ResourceID = strings.TrimSpace(req.ResourceID)

	switch {
	case req.ProjectID == "":
		return invalidArgument("projectId is required")
	case req.ResourceType == "":
		return invalidArgument("resourceType is required")
	case req.ResourceID == "":
		return invalidArgument("resourceId is required")
	}
	if len(req.Steps) == 0 && s.cfg.RequireSteps {
		return invalidArgument("at least one step is required")
	}
	if len(req.Steps) > s.cfg.MaxSteps {
		return invalidArgument("too many steps: %d (max %d)", len(req.Steps), s.cfg.MaxSteps)
	}

	seen := make(map[int]bool, len(req.Steps))
	for i, st := range req.Steps {
		order := i + 1
		if st.Order != nil {
			order = *st.Order
		}
		if order <= 0 {
			return invalidArgument("step %d: order must be positive", i+1)
		}
		if seen[order] {
			return invalidArgument("duplicate step order %d", order)
		}
		seen[order] = true
		if blank(st.ApproverID) && blank(st.ApproverRole) {
			return invalidArgument("step %d: approverId or approverRole is required", order)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, id, projectID, actorID string, before, after map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		Entity:    EntityName,
		EntityID:  id,
		Action:    action,
		ActorID:   actorID,
		ProjectID: projectID,
		Before:    before,
		After:     after,
	})
	if err != nil {
		s.logger.Warn("failed to record audit entry",
			"workflowId", id,
			"action", action,
			"error", err)
	}
}

// lastPending reports whether step is the only step of b not yet approved.
func lastPending(b *WorkflowBundle, step *StepRecord) bool {
	for _, st := range b.Steps {
		if st.ID != step.ID && st.Status != StepApproved {
			return false
		}
	}
	return true
}

// conflictAs turns a lost compare-and-set into an InvalidState error.
func conflictAs(err error, msg string) error {
	if errors.Is(err, errConflict) {
		return invalidState("%s", msg)
	}
	return err
}

// serviceError passes typed errors through and wraps store failures.
func serviceError(err error, msg string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return unavailable(msg, err)
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

type noRoles struct{}

func (noRoles) HasRole(context.Context, string, string) bool { return false }
func (noRoles) RolesOf(context.Context, string) []string      { return nil }
