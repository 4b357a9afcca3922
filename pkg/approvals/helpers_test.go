package approvals

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auditcore/approval-engine/pkg/audit"
	"github.com/auditcore/approval-engine/pkg/clock"
	"github.com/auditcore/approval-engine/pkg/directory"
)

var epoch = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

func setupApprovalsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *memorySink) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type testEnv struct {
	db    *gorm.DB
	store *Store
	svc   *Service
	clock *clock.Fake
	sink  *memorySink
	dir   *directory.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupApprovalsTestDB(t)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())

	dir, err := directory.New([]directory.User{
		{ID: "U1", Email: "u1@example.com", Roles: []string{"sponsor"}, Projects: []string{"p1"}},
		{ID: "U2", Email: "u2@example.com", Roles: []string{"consultor_lider"}, Projects: []string{"p1"}},
		{ID: "U3", Email: "u3@example.com", Projects: []string{"p1"}},
		{ID: "U4", Email: "u4@example.com", Roles: []string{"sponsor"}, Projects: []string{"p2"}},
		{ID: "admin", Roles: []string{"admin"}},
	}, nil)
	require.NoError(t, err)

	clk := clock.NewFake(epoch)
	sink := &memorySink{}
	return &testEnv{
		db:    db,
		store: store,
		svc:   NewService(store, clk, sink, dir, nil, nil),
		clock: clk,
		sink:  sink,
		dir:   dir,
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func timePtr(t time.Time) *time.Time {
	return &t
}

func byID(id string) CreateStepRequest     { return CreateStepRequest{ApproverID: strPtr(id)} }
func byRole(role string) CreateStepRequest { return CreateStepRequest{ApproverRole: strPtr(role)} }

func (e *testEnv) create(t *testing.T, due *time.Time, steps ...CreateStepRequest) *Workflow {
	t.Helper()
	e.clock.Advance(time.Second)
	w, err := e.svc.Create(context.Background(), CreateWorkflowRequest{
		ProjectID:    "p1",
		ResourceType: "SOP",
		ResourceID:   uuid.NewString(),
		DueAt:        due,
		Steps:        steps,
	}, "creator")
	require.NoError(t, err)
	return w
}
