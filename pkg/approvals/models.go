package approvals

import "time"

// WorkflowStatus is the aggregate status of an approval workflow.
type WorkflowStatus string

const (
	WorkflowPending  WorkflowStatus = "pending"
	WorkflowApproved WorkflowStatus = "approved"
	WorkflowRejected WorkflowStatus = "rejected"
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowApproved, WorkflowRejected:
		return true
	}
	return false
}

// StepStatus is the decision state of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// TimerStatus is the state of an SLA timer.
type TimerStatus string

const (
	TimerRunning   TimerStatus = "running"
	TimerExpired   TimerStatus = "expired"
	TimerCancelled TimerStatus = "cancelled"
)

// WorkflowRecord is a GORM model for an approval workflow gating a resource.
type WorkflowRecord struct {
	ID           string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID    string         `gorm:"column:project_id;index:idx_workflow_project;not null"`
	ResourceType string         `gorm:"column:resource_type;index:idx_workflow_resource,priority:1;not null"`
	ResourceID   string         `gorm:"column:resource_id;index:idx_workflow_resource,priority:2;not null"`
	Status       WorkflowStatus `gorm:"column:status;index:idx_workflow_due,priority:1;not null;default:pending"`
	Overdue      bool           `gorm:"column:overdue;index:idx_workflow_due,priority:2;not null;default:false"`
	DueAt        *time.Time     `gorm:"column:due_at;index:idx_workflow_due,priority:3"`
	CreatedBy    string         `gorm:"column:created_by"`
	CreatedAt    time.Time      `gorm:"column:created_at;index:idx_workflow_created;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (WorkflowRecord) TableName() string { return "approval_workflows" }

// StepRecord is a GORM model for one ordered approval slot of a workflow.
// The order column is named step_order because ORDER is reserved in SQL.
type StepRecord struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	WorkflowID   string     `gorm:"column:workflow_id;uniqueIndex:idx_step_workflow_order,priority:1;not null"`
	Order        int        `gorm:"column:step_order;uniqueIndex:idx_step_workflow_order,priority:2;not null"`
	ApproverID   *string    `gorm:"column:approver_id;index:idx_step_approver"`
	ApproverRole *string    `gorm:"column:approver_role"`
	Status       StepStatus `gorm:"column:status;not null;default:pending"`
	Comments     *string    `gorm:"column:comments"`
	DecidedAt    *time.Time `gorm:"column:decided_at"`
	DecidedBy    *string    `gorm:"column:decided_by"`
}

// TableName returns the GORM table name.
func (StepRecord) TableName() string { return "approval_steps" }

// TimerRecord is a GORM model for the SLA timer paired with a workflow deadline.
type TimerRecord struct {
	ID         string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	WorkflowID string      `gorm:"column:workflow_id;index:idx_timer_workflow;not null"`
	StartedAt  time.Time   `gorm:"column:started_at;not null"`
	DueAt      time.Time   `gorm:"column:due_at;not null"`
	Status     TimerStatus `gorm:"column:status;not null;default:running"`
	EndedAt    *time.Time  `gorm:"column:ended_at"`
}

// TableName returns the GORM table name.
func (TimerRecord) TableName() string { return "approval_sla_timers" }

// WorkflowBundle is a workflow together with its steps (ascending order)
// and timers (oldest first).
type WorkflowBundle struct {
	Workflow WorkflowRecord
	Steps    []StepRecord
	Timers   []TimerRecord
}

// ActiveStep returns the lowest-order pending step, or nil when no step is
// pending. Steps must be sorted by Order.
func (b *WorkflowBundle) ActiveStep() *StepRecord {
	for i := range b.Steps {
		if b.Steps[i].Status == StepPending {
			return &b.Steps[i]
		}
	}
	return nil
}
