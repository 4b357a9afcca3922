package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auditcore/approval-engine/pkg/clock"
)

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	ProjectID string
	Entity    string
	EntityID  string
	ActorID   string
}

// Store persists audit log records.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewStore creates a new Store. A nil clock selects the wall clock.
func NewStore(db *gorm.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{db: db, clock: clk}
}

// AutoMigrate creates or updates the audit_logs table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&LogRecord{}); err != nil {
		return fmt.Errorf("auto-migrate audit_logs: %w", err)
	}
	return nil
}

// Append inserts a record, filling its ID and timestamp when unset.
// Timestamps are kept at microsecond precision, the finest that every
// supported database stores.
func (s *Store) Append(ctx context.Context, rec *LogRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// Record implements Sink by appending the entry synchronously.
func (s *Store) Record(ctx context.Context, e Entry) error {
	return s.Append(ctx, &LogRecord{
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		ProjectID: e.ProjectID,
		OldValue:  JSONAny(e.Before),
		NewValue:  JSONAny(e.After),
	})
}

// List returns records matching f, newest first, with cursor pagination.
// The page token is opaque to callers; the returned token is empty on the
// last page.
func (s *Store) List(ctx context.Context, f Filter, pageSize int, pageToken string) ([]LogRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&LogRecord{})
		if f.ProjectID != "" {
			q = q.Where("project_id = ?", f.ProjectID)
		}
		if f.Entity != "" {
			q = q.Where("entity = ?", f.Entity)
		}
		if f.EntityID != "" {
			q = q.Where("entity_id = ?", f.EntityID)
		}
		if f.ActorID != "" {
			q = q.Where("actor_id = ?", f.ActorID)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit logs: %w", err)
	}

	query := base().Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		at, id, err := decodePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, id)
	}

	var records []LogRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit logs: %w", err)
	}

	var next string
	if len(records) > pageSize {
		last := records[pageSize-1]
		next = last.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID
		records = records[:pageSize]
	}
	return records, next, int(total), nil
}

// ListByProject returns the newest records of a project.
func (s *Store) ListByProject(ctx context.Context, projectID string, pageSize int) ([]LogRecord, error) {
	records, _, _, err := s.List(ctx, Filter{ProjectID: projectID}, pageSize, "")
	return records, err
}

// ListByEntity returns the newest records of one entity instance.
func (s *Store) ListByEntity(ctx context.Context, entity, entityID string, pageSize int) ([]LogRecord, error) {
	records, _, _, err := s.List(ctx, Filter{Entity: entity, EntityID: entityID}, pageSize, "")
	return records, err
}

// GetByID retrieves a record. Returns nil, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*LogRecord, error) {
	var rec LogRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit log: %w", err)
	}
	return &rec, nil
}

// DeleteOlderThan deletes records created before cutoff and returns how many
// were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&LogRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ErrInvalidPageToken is returned for malformed pagination tokens.
var ErrInvalidPageToken = errors.New("invalid page token")

func decodePageToken(token string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(token, "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidPageToken
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return at, id, nil
}
