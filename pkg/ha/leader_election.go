package ha

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Elector runs a function only while this replica holds leadership. The
// function's context is cancelled when leadership is lost, after which the
// replica campaigns again.
type Elector struct {
	cfg    *Config
	client kubernetes.Interface
	logger *slog.Logger
	leader atomic.Bool
}

// NewElector creates an Elector. A nil client or disabled election makes
// the replica leader unconditionally.
func NewElector(cfg *Config, client kubernetes.Interface, logger *slog.Logger) *Elector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{cfg: cfg, client: client, logger: logger}
}

// IsLeader reports whether lead is currently running on this replica.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run blocks until ctx is cancelled, invoking lead whenever this replica
// becomes leader.
func (e *Elector) Run(ctx context.Context, lead func(ctx context.Context)) error {
	if !e.cfg.LeaderElection || e.client == nil {
		e.logger.Info("leader election disabled, running as leader", "identity", e.cfg.Identity)
		e.leader.Store(true)
		defer e.leader.Store(false)
		lead(ctx)
		<-ctx.Done()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.LeaseNamespace,
		},
		Client:     e.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: e.cfg.Identity},
	}
	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            e.cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.leader.Store(true)
				e.logger.Info("acquired leadership", "identity", e.cfg.Identity)
				lead(ctx)
			},
			OnStoppedLeading: func() {
				e.leader.Store(false)
				e.logger.Info("released leadership", "identity", e.cfg.Identity)
			},
			OnNewLeader: func(identity string) {
				if identity != e.cfg.Identity {
					e.logger.Info("following leader", "leader", identity)
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configure leader election: %w", err)
	}

	e.logger.Info("campaigning for leadership",
		"identity", e.cfg.Identity,
		"lease", e.cfg.LeaseNamespace+"/"+e.cfg.LeaseName,
		"leaseDuration", e.cfg.LeaseDuration)
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}
