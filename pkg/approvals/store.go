package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists workflows, their steps and their SLA timers.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the workflow tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&WorkflowRecord{}); err != nil {
		return fmt.Errorf("auto-migrate approval_workflows: %w", err)
	}
	if err := s.db.AutoMigrate(&StepRecord{}); err != nil {
		return fmt.Errorf("auto-migrate approval_steps: %w", err)
	}
	if err := s.db.AutoMigrate(&TimerRecord{}); err != nil {
		return fmt.Errorf("auto-migrate approval_sla_timers: %w", err)
	}
	return nil
}

// Create inserts a workflow with its steps and timers in one transaction.
func (s *Store) Create(ctx context.Context, b *WorkflowBundle) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&b.Workflow).Error; err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		if len(b.Steps) > 0 {
			if err := tx.Create(&b.Steps).Error; err != nil {
				return fmt.Errorf("create workflow steps: %w", err)
			}
		}
		if len(b.Timers) > 0 {
			if err := tx.Create(&b.Timers).Error; err != nil {
				return fmt.Errorf("create sla timers: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a workflow bundle by ID. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*WorkflowBundle, error) {
	return getBundle(s.db.WithContext(ctx), id, false)
}

// List returns workflows matching every set field of f, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]WorkflowBundle, error) {
	query := s.db.WithContext(ctx).Model(&WorkflowRecord{})
	if f.ProjectID != "" {
		query = query.Where("project_id = ?", f.ProjectID)
	}
	if f.ResourceType != "" {
		query = query.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		query = query.Where("resource_id = ?", f.ResourceID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", string(f.Status))
	}
	if f.Overdue != nil {
		query = query.Where("overdue = ?", *f.Overdue)
	}

	var records []WorkflowRecord
	if err := query.Order("created_at DESC").Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return loadBundles(s.db.WithContext(ctx), records)
}

// ListWithPendingStepFor returns pending workflows that contain at least one
// pending step assigned to userID directly or to one of roles.
func (s *Store) ListWithPendingStepFor(ctx context.Context, userID string, roles []string) ([]WorkflowBundle, error) {
	db := s.db.WithContext(ctx)

	steps := db.Model(&StepRecord{}).Select("workflow_id").Where("status = ?", string(StepPending))
	if len(roles) > 0 {
		steps = steps.Where(db.Where("approver_id = ?", userID).Or("approver_role IN ?", roles))
	} else {
		steps = steps.Where("approver_id = ?", userID)
	}

	var records []WorkflowRecord
	err := db.Where("status = ? AND id IN (?)", string(WorkflowPending), steps).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list workflows pending for user: %w", err)
	}
	return loadBundles(db, records)
}

// ListDue returns pending, not yet overdue workflows whose deadline is at or
// before now.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]WorkflowBundle, error) {
	var records []WorkflowRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND overdue = ? AND due_at IS NOT NULL AND due_at <= ?", string(WorkflowPending), false, now).
		Order("due_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list due workflows: %w", err)
	}
	return loadBundles(s.db.WithContext(ctx), records)
}

// MarkOverdue flags a pending workflow as overdue and expires its running
// timers whose deadline has passed. It reports whether this call flipped the
// flag; false means the workflow was already overdue, resolved or removed.
func (s *Store) MarkOverdue(ctx context.Context, id string, now time.Time) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&WorkflowRecord{}).
			Where("id = ? AND status = ? AND overdue = ?", id, string(WorkflowPending), false).
			Updates(map[string]any{
				"overdue":    true,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("mark workflow overdue: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		changed = true

		err := tx.Model(&TimerRecord{}).
			Where("workflow_id = ? AND status = ? AND due_at <= ?", id, string(TimerRunning), now).
			Updates(map[string]any{
				"status":   string(TimerExpired),
				"ended_at": now,
			}).Error
		if err != nil {
			return fmt.Errorf("expire sla timers: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Transition loads a workflow inside a transaction and hands it to fn, which
// mutates it through the Tx. The workflow row is locked where the dialect
// supports it; every mutation is also conditional on the state fn observed.
// fn receives nil when the workflow does not exist.
func (s *Store) Transition(ctx context.Context, id string, fn func(tx *Tx, b *WorkflowBundle) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		b, err := getBundle(db, id, true)
		if err != nil {
			return err
		}
		return fn(&Tx{db: db}, b)
	})
}

// Delete removes a workflow and cascades to its steps and timers. It
// reports whether a workflow was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workflow_id = ?", id).Delete(&TimerRecord{}).Error; err != nil {
			return fmt.Errorf("delete sla timers: %w", err)
		}
		if err := tx.Where("workflow_id = ?", id).Delete(&StepRecord{}).Error; err != nil {
			return fmt.Errorf("delete workflow steps: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&WorkflowRecord{})
		if result.Error != nil {
			return fmt.Errorf("delete workflow: %w", result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Tx exposes the conditional writes available inside Store.Transition.
type Tx struct {
	db *gorm.DB
}

// DecideStep moves a pending step to status. It returns errConflict when
// the step is no longer pending.
func (t *Tx) DecideStep(stepID string, status StepStatus, actorID string, comments *string, at time.Time) error {
	updates := map[string]any{
		"status":     string(status),
		"decided_at": at,
		"decided_by": actorID,
	}
	if comments != nil {
		updates["comments"] = *comments
	}
	result := t.db.Model(&StepRecord{}).
		Where("id = ? AND status = ?", stepID, string(StepPending)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("decide step: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errConflict
	}
	return nil
}

// UpdateWorkflow applies updates to a workflow. When expect is non-empty the
// write only succeeds while the workflow still has that status; otherwise
// errConflict is returned.
func (t *Tx) UpdateWorkflow(id string, expect WorkflowStatus, updates map[string]any) error {
	query := t.db.Model(&WorkflowRecord{}).Where("id = ?", id)
	if expect != "" {
		query = query.Where("status = ?", string(expect))
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update workflow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errConflict
	}
	return nil
}

// CancelRunningTimers moves every running timer of a workflow to cancelled.
func (t *Tx) CancelRunningTimers(workflowID string, at time.Time) error {
	err := t.db.Model(&TimerRecord{}).
		Where("workflow_id = ? AND status = ?", workflowID, string(TimerRunning)).
		Updates(map[string]any{
			"status":   string(TimerCancelled),
			"ended_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("cancel sla timers: %w", err)
	}
	return nil
}

// AddTimer inserts a new timer.
func (t *Tx) AddTimer(timer *TimerRecord) error {
	if err := t.db.Create(timer).Error; err != nil {
		return fmt.Errorf("create sla timer: %w", err)
	}
	return nil
}

// Reload re-reads a workflow bundle within the transaction.
func (t *Tx) Reload(id string) (*WorkflowBundle, error) {
	return getBundle(t.db, id, false)
}

func getBundle(db *gorm.DB, id string, lock bool) (*WorkflowBundle, error) {
	query := db
	if lock {
		switch db.Dialector.Name() {
		case "postgres", "mysql":
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
	}

	var rec WorkflowRecord
	if err := query.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	bundles, err := loadBundles(db, []WorkflowRecord{rec})
	if err != nil {
		return nil, err
	}
	return &bundles[0], nil
}

// loadBundles attaches steps and timers to records, preserving their order.
func loadBundles(db *gorm.DB, records []WorkflowRecord) ([]WorkflowBundle, error) {
	if len(records) == 0 {
		return []WorkflowBundle{}, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	var steps []StepRecord
	if err := db.Where("workflow_id IN ?", ids).Order("step_order ASC").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("load workflow steps: %w", err)
	}
	var timers []TimerRecord
	if err := db.Where("workflow_id IN ?", ids).Order("started_at ASC").Order("id").Find(&timers).Error; err != nil {
		return nil, fmt.Errorf("load sla timers: %w", err)
	}

	stepsByWorkflow := make(map[string][]StepRecord, len(records))
	for _, st := range steps {
		stepsByWorkflow[st.WorkflowID] = append(stepsByWorkflow[st.WorkflowID], st)
	}
	timersByWorkflow := make(map[string][]TimerRecord, len(records))
	for _, tm := range timers {
		timersByWorkflow[tm.WorkflowID] = append(timersByWorkflow[tm.WorkflowID], tm)
	}

	bundles := make([]WorkflowBundle, len(records))
	for i, r := range records {
		bundles[i] = WorkflowBundle{
			Workflow: r,
			Steps:    stepsByWorkflow[r.ID],
			Timers:   timersByWorkflow[r.ID],
		}
	}
	return bundles, nil
}
