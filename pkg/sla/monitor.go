// Package sla detects approval workflows whose deadline has passed, flags
// them overdue and alerts their pending approvers.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auditcore/approval-engine/pkg/approvals"
	"github.com/auditcore/approval-engine/pkg/clock"
	"github.com/auditcore/approval-engine/pkg/directory"
	"github.com/auditcore/approval-engine/pkg/notify"
)

// Store is the part of the workflow store the monitor needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]approvals.WorkflowBundle, error)
	MarkOverdue(ctx context.Context, id string, now time.Time) (bool, error)
}

// Contacts resolves approvers to addresses.
type Contacts interface {
	Lookup(id string) (directory.User, bool)
	MembersOfRole(role string) []directory.User
}

// Notifier hands a message to the notification pipeline.
type Notifier interface {
	Notify(ctx context.Context, m notify.Message) error
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Matched  int      // Workflows past their deadline and not yet overdue
	Flagged  []string // Workflows this sweep flipped to overdue
	Notified []string // Workflows whose alert was accepted by the notifier
	Failed   int      // Workflows whose processing errored
}

// Monitor periodically sweeps for SLA breaches. Its lifecycle is owned by
// the caller through Start and Stop.
type Monitor struct {
	store    Store
	contacts Contacts
	notifier Notifier
	clock    clock.Clock
	cfg      *MonitorConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	sweepMu sync.Mutex
}

// NewMonitor creates a Monitor. contacts may be nil, in which case alerts
// carry no approver addresses.
func NewMonitor(store Store, contacts Contacts, notifier Notifier, clk clock.Clock, cfg *MonitorConfig, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg == nil {
		cfg = DefaultMonitorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:    store,
		contacts: contacts,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start runs a sweep immediately and then one per interval until Stop is
// called or ctx is cancelled. Starting a running monitor is a no-op; a
// monitor whose context was cancelled can be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		select {
		case <-m.done:
			m.cancel()
		default:
			return
		}
	}
	if !m.cfg.Enabled {
		m.logger.Info("sla monitor disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop cancels the loop and waits for an in-flight sweep to finish its
// batch.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := m.cfg.EffectiveInterval()
	m.logger.Info("sla monitor started", "interval", interval.String(), "scope", string(m.cfg.Scope))

	m.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sla monitor stopped")
			return
		case <-ticker.C:
			m.runSweep(ctx)
		}
	}
}

func (m *Monitor) runSweep(ctx context.Context) {
	res, err := m.Sweep(ctx)
	if err != nil {
		m.logger.Error("sla sweep failed", "error", err)
		return
	}
	if res.Matched > 0 {
		m.logger.Info("sla sweep completed",
			"matched", res.Matched,
			"flagged", len(res.Flagged),
			"notified", len(res.Notified),
			"failed", res.Failed)
	}
}

// Sweep performs one pass: it flags every pending workflow past its deadline
// and sends one alert per workflow it flagged. Workflows are processed
// sequentially; an error on one is logged and the batch continues. ctx only
// bounds the listing query.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	now := m.clock.Now()
	due, err := m.store.ListDue(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due workflows: %w", err)
	}

	// Once listed, the batch runs to completion even if ctx is cancelled.
	batch := context.WithoutCancel(ctx)
	res := SweepResult{Matched: len(due)}
	for i := range due {
		b := &due[i]
		id := b.Workflow.ID

		changed, err := m.store.MarkOverdue(batch, id, now)
		if err != nil {
			res.Failed++
			m.logger.Error("failed to mark workflow overdue", "workflowId", id, "error", err)
			continue
		}
		if !changed {
			// Resolved or flagged by someone else since ListDue.
			continue
		}
		res.Flagged = append(res.Flagged, id)

		approvers := m.approvers(b)
		addresses := make([]string, 0, len(approvers))
		for _, u := range approvers {
			addresses = append(addresses, u.Email)
		}

		m.logger.Warn("approval workflow overdue",
			"workflowId", id,
			"projectId", b.Workflow.ProjectID,
			"resourceType", b.Workflow.ResourceType,
			"resourceId", b.Workflow.ResourceID,
			"dueAt", formatDue(b.Workflow.DueAt),
			"pendingApprovers", addresses)

		if m.notifier == nil {
			continue
		}
		if err := m.notifier.Notify(batch, buildMessage(b, approvers)); err != nil {
			m.logger.Error("failed to queue overdue notification", "workflowId", id, "error", err)
			continue
		}
		res.Notified = append(res.Notified, id)
	}
	return res, nil
}

// approvers resolves the users to alert for b, deduplicated and in step
// order. Users without an email address are left out.
func (m *Monitor) approvers(b *approvals.WorkflowBundle) []directory.User {
	if m.contacts == nil {
		return nil
	}

	var steps []approvals.StepRecord
	if m.cfg.Scope == ScopePending {
		for _, st := range b.Steps {
			if st.Status == approvals.StepPending {
				steps = append(steps, st)
			}
		}
	} else if active := b.ActiveStep(); active != nil {
		steps = append(steps, *active)
	}

	seen := make(map[string]bool)
	var out []directory.User
	add := func(u directory.User) {
		if u.Email == "" || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	for _, st := range steps {
		if st.ApproverID != nil && *st.ApproverID != "" {
			if u, ok := m.contacts.Lookup(*st.ApproverID); ok {
				add(u)
			}
			continue
		}
		if st.ApproverRole != nil && *st.ApproverRole != "" {
			for _, u := range m.contacts.MembersOfRole(*st.ApproverRole) {
				add(u)
			}
		}
	}
	return out
}

func buildMessage(b *approvals.WorkflowBundle, approvers []directory.User) notify.Message {
	recipients := make([]string, 0, len(approvers))
	names := make([]string, 0, len(approvers))
	for _, u := range approvers {
		recipients = append(recipients, u.Email)
		name := u.Name
		if name == "" {
			name = u.Email
		}
		names = append(names, fmt.Sprintf("%s (%s)", name, u.Email))
	}
	pending := strings.Join(names, ", ")
	if pending == "" {
		pending = "no approvers with a registered email"
	}

	w := b.Workflow
	var body strings.Builder
	fmt.Fprintf(&body, "The approval workflow for %s %s in project %s is overdue.\n", w.ResourceType, w.ResourceID, w.ProjectID)
	fmt.Fprintf(&body, "Original deadline: %s\n", formatDue(w.DueAt))
	fmt.Fprintf(&body, "Pending approvers: %s\n", pending)

	return notify.Message{
		Recipients: recipients,
		Subject:    fmt.Sprintf("Approval workflow overdue (%s)", w.ResourceType),
		Body:       body.String(),
	}
}

func formatDue(t *time.Time) string {
	if t == nil {
		return "no deadline"
	}
	return t.UTC().Format(time.RFC3339)
}
