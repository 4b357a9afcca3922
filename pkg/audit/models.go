// Package audit records who changed what on domain entities, keeps the trail
// for a bounded retention window and serves it over REST.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Actions recorded for entity mutations.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Entry is one audit event as produced by a domain service.
type Entry struct {
	Entity    string
	EntityID  string
	Action    string
	ActorID   string
	ProjectID string
	Before    map[string]any
	After     map[string]any
}

// Sink accepts audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Discard is a Sink that drops every entry.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Entry) error { return nil }

// JSONAny is a custom GORM type for map[string]any stored as JSON text.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// LogRecord is the persisted form of an Entry.
type LogRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Entity    string    `gorm:"column:entity;index:idx_audit_entity,priority:1;not null"`
	EntityID  string    `gorm:"column:entity_id;index:idx_audit_entity,priority:2;not null"`
	Action    string    `gorm:"column:action;not null"`
	ActorID   string    `gorm:"column:actor_id;not null"`
	ProjectID string    `gorm:"column:project_id;index:idx_audit_project"`
	OldValue  JSONAny   `gorm:"column:old_value;type:text"`
	NewValue  JSONAny   `gorm:"column:new_value;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_audit_created;not null"`
}

// TableName overrides the GORM table name.
func (LogRecord) TableName() string { return "audit_logs" }
