package approvals

import (
	"bytes"
	"encoding/json"
	"time"
)

// Workflow is the API-facing approval workflow.
type Workflow struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectId"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Status       WorkflowStatus `json:"status"`
	DueAt        *string        `json:"dueAt"`
	Overdue      bool           `json:"overdue"`
	ActiveStep   *int           `json:"activeStep,omitempty"`
	CreatedBy    string         `json:"createdBy,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
	Steps        []Step         `json:"steps"`
	SlaTimers    []SlaTimer     `json:"slaTimers"`
}

// Step is the API-facing approval step.
type Step struct {
	ID           string     `json:"id"`
	Order        int        `json:"order"`
	ApproverID   *string    `json:"approverId"`
	ApproverRole *string    `json:"approverRole"`
	Status       StepStatus `json:"status"`
	Comments     *string    `json:"comments"`
	DecidedAt    *string    `json:"decidedAt"`
	DecidedBy    *string    `json:"decidedBy,omitempty"`
}

// SlaTimer is the API-facing SLA timer.
type SlaTimer struct {
	ID        string      `json:"id"`
	StartedAt string      `json:"startedAt"`
	DueAt     string      `json:"dueAt"`
	Status    TimerStatus `json:"status"`
	EndedAt   *string     `json:"endedAt,omitempty"`
}

// CreateStepRequest describes one step of a new workflow. Order defaults to
// the step's position in the list plus one.
type CreateStepRequest struct {
	Order        *int    `json:"order,omitempty" yaml:"order,omitempty"`
	ApproverID   *string `json:"approverId,omitempty" yaml:"approverId,omitempty"`
	ApproverRole *string `json:"approverRole,omitempty" yaml:"approverRole,omitempty"`
	Comments     *string `json:"comments,omitempty" yaml:"comments,omitempty"`
}

// CreateWorkflowRequest is the payload of Service.Create.
type CreateWorkflowRequest struct {
	ProjectID    string              `json:"projectId" yaml:"projectId"`
	ResourceType string              `json:"resourceType" yaml:"resourceType"`
	ResourceID   string              `json:"resourceId" yaml:"resourceId"`
	DueAt        *time.Time          `json:"dueAt,omitempty" yaml:"dueAt,omitempty"`
	Steps        []CreateStepRequest `json:"steps" yaml:"steps"`
}

// UpdateWorkflowRequest is the payload of the administrative override.
type UpdateWorkflowRequest struct {
	Status *WorkflowStatus `json:"status,omitempty"`
	DueAt  OptionalTime    `json:"dueAt"`
}

// OptionalTime distinguishes an absent JSON field from an explicit null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UnmarshalJSON records that the field was present and parses its value.
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

// MarshalJSON writes the value, or null when unset.
func (o OptionalTime) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value.UTC().Format(time.RFC3339))
}

// ListFilter selects workflows. Empty fields are unconstrained.
type ListFilter struct {
	ProjectID    string
	ResourceType string
	ResourceID   string
	Status       WorkflowStatus
	Overdue      *bool
}

// toWorkflow converts a stored bundle to the API type.
func toWorkflow(b *WorkflowBundle) Workflow {
	rec := b.Workflow
	w := Workflow{
		ID:           rec.ID,
		ProjectID:    rec.ProjectID,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Status:       rec.Status,
		DueAt:        formatTimePtr(rec.DueAt),
		Overdue:      rec.Overdue,
		CreatedBy:    rec.CreatedBy,
		CreatedAt:    formatTime(rec.CreatedAt),
		UpdatedAt:    formatTime(rec.UpdatedAt),
		Steps:        make([]Step, len(b.Steps)),
		SlaTimers:    make([]SlaTimer, len(b.Timers)),
	}
	for i, s := range b.Steps {
		w.Steps[i] = Step{
			ID:           s.ID,
			Order:        s.Order,
			ApproverID:   s.ApproverID,
			ApproverRole: s.ApproverRole,
			Status:       s.Status,
			Comments:     s.Comments,
			DecidedAt:    formatTimePtr(s.DecidedAt),
			DecidedBy:    s.DecidedBy,
		}
	}
	for i, t := range b.Timers {
		w.SlaTimers[i] = SlaTimer{
			ID:        t.ID,
			StartedAt: formatTime(t.StartedAt),
			DueAt:     formatTime(t.DueAt),
			Status:    t.Status,
			EndedAt:   formatTimePtr(t.EndedAt),
		}
	}
	if rec.Status == WorkflowPending {
		if active := b.ActiveStep(); active != nil {
			order := active.Order
			w.ActiveStep = &order
		}
	}
	return w
}

// snapshot renders a workflow as a generic map for audit entries.
func snapshot(w Workflow) map[string]any {
	data, err := json.Marshal(w)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
