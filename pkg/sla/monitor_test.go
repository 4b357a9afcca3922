package sla

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/auditcore/approval-engine/pkg/approvals"
	"github.com/auditcore/approval-engine/pkg/clock"
	"github.com/auditcore/approval-engine/pkg/directory"
	"github.com/auditcore/approval-engine/pkg/notify"
)

var epoch = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingNotifier) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

type fixture struct {
	store *approvals.Store
	svc   *approvals.Service
	clock *clock.Fake
	dir   *directory.Directory
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := approvals.NewStore(db)
	require.NoError(t, store.AutoMigrate())

	dir, err := directory.New([]directory.User{
		{ID: "u1", Name: "Uma", Email: "u1@example.com", Roles: []string{"approver"}},
		{ID: "u2", Name: "Udo", Email: "u2@example.com"},
		{ID: "u3", Name: "No Mail", Roles: []string{"approver"}},
		{ID: "u4", Name: "Una", Email: "u4@example.com", Roles: []string{"approver"}},
	}, nil)
	require.NoError(t, err)

	clk := clock.NewFake(epoch)
	return &fixture{
		store: store,
		svc:   approvals.NewService(store, clk, nil, dir, nil, nil),
		clock: clk,
		dir:   dir,
	}
}

func ptr(s string) *string { return &s }

func (f *fixture) create(t *testing.T, due *time.Time, steps ...approvals.CreateStepRequest) *approvals.Workflow {
	t.Helper()
	f.clock.Advance(time.Second)
	w, err := f.svc.Create(context.Background(), approvals.CreateWorkflowRequest{
		ProjectID:    "p1",
		ResourceType: "document",
		ResourceID:   uuid.NewString(),
		DueAt:        due,
		Steps:        steps,
	}, "creator")
	require.NoError(t, err)
	return w
}

func at(t time.Time) *time.Time { return &t }

func TestSweep_FlagsAndNotifiesOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	w := f.create(t, at(epoch.Add(-time.Hour)), approvals.CreateStepRequest{ApproverID: ptr("u1")})

	notifier := &recordingNotifier{}
	m := NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil)

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, []string{w.ID}, res.Flagged)
	assert.Equal(t, []string{w.ID}, res.Notified)

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"u1@example.com"}, msgs[0].Recipients)
	assert.Equal(t, "Approval workflow overdue (document)", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "Uma (u1@example.com)")

	got, err := f.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Overdue)
	assert.Equal(t, approvals.WorkflowPending, got.Status)
	require.Len(t, got.SlaTimers, 1)
	assert.Equal(t, approvals.TimerExpired, got.SlaTimers[0].Status)

	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.Empty(t, res.Flagged)
	assert.Len(t, notifier.messages(), 1)
}

func TestSweep_WaitsForDeadline(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	w := f.create(t, at(epoch.Add(time.Hour)), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	f.create(t, nil, approvals.CreateStepRequest{ApproverID: ptr("u1")})

	notifier := &recordingNotifier{}
	m := NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil)

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Flagged)

	f.clock.Set(epoch.Add(time.Hour))
	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{w.ID}, res.Flagged, "due exactly now counts as breached")
}

func TestSweep_SkipsResolvedWorkflows(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	approved := f.create(t, at(epoch.Add(time.Hour)), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	rejected := f.create(t, at(epoch.Add(time.Hour)), approvals.CreateStepRequest{ApproverID: ptr("u2")})

	_, err := f.svc.Approve(ctx, approved.ID, "u1", nil)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rejected.ID, "u2", ptr("no"))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	notifier := &recordingNotifier{}
	res, err := NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.Empty(t, notifier.messages())

	got, err := f.svc.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.False(t, got.Overdue)
	assert.Equal(t, approvals.TimerCancelled, got.SlaTimers[0].Status)
}

func TestSweep_NotifyScope(t *testing.T) {
	steps := []approvals.CreateStepRequest{
		{ApproverID: ptr("u2")},
		{ApproverRole: ptr("approver")},
	}

	tests := []struct {
		name  string
		scope NotifyScope
		want  []string
	}{
		{"active step only", ScopeActive, []string{"u2@example.com"}},
		{"every pending step", ScopePending, []string{"u2@example.com", "u1@example.com", "u4@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFixture(t)
			f.create(t, at(epoch.Add(-time.Minute)), steps...)

			notifier := &recordingNotifier{}
			cfg := DefaultMonitorConfig()
			cfg.Scope = tt.scope
			_, err := NewMonitor(f.store, f.dir, notifier, f.clock, cfg, nil).Sweep(context.Background())
			require.NoError(t, err)

			msgs := notifier.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Recipients)
		})
	}
}

func TestSweep_RoleStepSkipsUsersWithoutEmail(t *testing.T) {
	f := setupFixture(t)
	f.create(t, at(epoch), approvals.CreateStepRequest{ApproverRole: ptr("approver")})
	f.clock.Advance(time.Minute)

	notifier := &recordingNotifier{}
	_, err := NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil).Sweep(context.Background())
	require.NoError(t, err)

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"u1@example.com", "u4@example.com"}, msgs[0].Recipients)
}

func TestSweep_NoContactsStillNotifies(t *testing.T) {
	f := setupFixture(t)
	f.create(t, at(epoch), approvals.CreateStepRequest{ApproverID: ptr("ghost")})
	f.clock.Advance(time.Minute)

	notifier := &recordingNotifier{}
	_, err := NewMonitor(f.store, nil, notifier, f.clock, nil, nil).Sweep(context.Background())
	require.NoError(t, err)

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Recipients)
	assert.Contains(t, msgs[0].Body, "no approvers with a registered email")
}

func TestSweep_ConcurrentMonitorsNotifyOnce(t *testing.T) {
	f := setupFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t, at(epoch), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	}
	f.clock.Advance(time.Hour)

	notifier := &recordingNotifier{}
	monitors := []*Monitor{
		NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil),
		NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil),
		NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil),
	}

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			_, err := m.Sweep(context.Background())
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()

	assert.Len(t, notifier.messages(), 3)
}

type flakyStore struct {
	Store
	failID  string
	listErr error
}

func (s *flakyStore) ListDue(ctx context.Context, now time.Time) ([]approvals.WorkflowBundle, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListDue(ctx, now)
}

func (s *flakyStore) MarkOverdue(ctx context.Context, id string, now time.Time) (bool, error) {
	if id == s.failID {
		return false, errors.New("deadlock detected")
	}
	return s.Store.MarkOverdue(ctx, id, now)
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	f := setupFixture(t)
	bad := f.create(t, at(epoch), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	good := f.create(t, at(epoch.Add(time.Second)), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	f.clock.Advance(time.Hour)

	notifier := &recordingNotifier{}
	m := NewMonitor(&flakyStore{Store: f.store, failID: bad.ID}, f.dir, notifier, f.clock, nil, nil)
	res, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{good.ID}, res.Flagged)

	_, err = NewMonitor(&flakyStore{Store: f.store, listErr: errors.New("down")}, f.dir, notifier, f.clock, nil, nil).
		Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweep_NotificationFailureKeepsFlag(t *testing.T) {
	f := setupFixture(t)
	w := f.create(t, at(epoch), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	f.clock.Advance(time.Hour)

	notifier := &recordingNotifier{err: notify.ErrQueueFull}
	res, err := NewMonitor(f.store, f.dir, notifier, f.clock, nil, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{w.ID}, res.Flagged)
	assert.Empty(t, res.Notified)

	got, err := f.svc.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, got.Overdue)
}

func TestMonitor_StartSweepsImmediately(t *testing.T) {
	f := setupFixture(t)
	f.create(t, at(epoch), approvals.CreateStepRequest{ApproverID: ptr("u1")})
	f.clock.Advance(time.Hour)

	notifier := &recordingNotifier{}
	cfg := DefaultMonitorConfig()
	cfg.Interval = time.Hour
	m := NewMonitor(f.store, f.dir, notifier, f.clock, cfg, nil)

	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return len(notifier.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())
	m.Stop()
}

// pausingStore holds the first MarkOverdue of a sweep until the context
// handed to ListDue is cancelled.
type pausingStore struct {
	Store
	once    sync.Once
	paused  chan struct{}
	listCtx context.Context
}

func (s *pausingStore) ListDue(ctx context.Context, now time.Time) ([]approvals.WorkflowBundle, error) {
	s.listCtx = ctx
	return s.Store.ListDue(ctx, now)
}

func (s *pausingStore) MarkOverdue(ctx context.Context, id string, now time.Time) (bool, error) {
	s.once.Do(func() {
		close(s.paused)
		<-s.listCtx.Done()
	})
	return s.Store.MarkOverdue(ctx, id, now)
}

func TestMonitor_StopLetsInFlightSweepFinish(t *testing.T) {
	f := setupFixture(t)
	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		w := f.create(t, at(epoch.Add(time.Duration(i)*time.Second)), approvals.CreateStepRequest{ApproverID: ptr("u1")})
		ids[w.ID] = true
	}
	f.clock.Advance(time.Hour)

	store := &pausingStore{Store: f.store, paused: make(chan struct{})}
	notifier := &recordingNotifier{}
	cfg := DefaultMonitorConfig()
	cfg.Interval = time.Hour
	m := NewMonitor(store, f.dir, notifier, f.clock, cfg, nil)

	m.Start(context.Background())
	select {
	case <-store.paused:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reached the first workflow")
	}
	m.Stop()

	assert.Len(t, notifier.messages(), 3)
	for id := range ids {
		got, err := f.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, got.Overdue, "workflow %s", id)
	}
}

func TestMonitor_ContextCancelStopsLoop(t *testing.T) {
	f := setupFixture(t)
	m := NewMonitor(f.store, f.dir, &recordingNotifier{}, f.clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)
	m.Stop()
}

func TestMonitor_Disabled(t *testing.T) {
	f := setupFixture(t)
	cfg := DefaultMonitorConfig()
	cfg.Enabled = false
	m := NewMonitor(f.store, f.dir, &recordingNotifier{}, f.clock, cfg, nil)
	m.Start(context.Background())
	assert.False(t, m.Running())
	m.Stop()
}

func TestMonitor_RestartsAfterContextCancel(t *testing.T) {
	f := setupFixture(t)
	m := NewMonitor(f.store, f.dir, &recordingNotifier{}, f.clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !m.Running() }, time.Second, 5*time.Millisecond)

	m.Start(context.Background())
	assert.True(t, m.Running(), "a new leadership term starts a new loop")
	m.Stop()
	assert.False(t, m.Running())
}
