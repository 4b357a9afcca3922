// Package server assembles the approval engine: it wires the workflow
// service, audit trail, notification pipeline and SLA monitor, mounts their
// HTTP routes, and owns their background lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/auditcore/approval-engine/pkg/approvals"
	"github.com/auditcore/approval-engine/pkg/audit"
	"github.com/auditcore/approval-engine/pkg/authz"
	"github.com/auditcore/approval-engine/pkg/clock"
	"github.com/auditcore/approval-engine/pkg/directory"
	"github.com/auditcore/approval-engine/pkg/ha"
	"github.com/auditcore/approval-engine/pkg/notify"
	"github.com/auditcore/approval-engine/pkg/sla"
)

// Route prefixes.
const (
	ApprovalsPath = "/api/approvals/v1/workflows"
	AuditPath     = "/api/audit/v1/entries"
)

// Options configures a Server. Only DB and Directory are required.
type Options struct {
	DB        *gorm.DB
	Directory *directory.Directory

	// Authorizer defaults to NoopAuthorizer; Access defaults to directory
	// project membership.
	Authorizer authz.Authorizer
	Access     authz.ProjectAccess
	// Identity builds the request identity. Defaults to the X-Remote-User
	// header middleware.
	Identity func(http.Handler) http.Handler

	Clock   clock.Clock
	Service *approvals.ServiceConfig
	Audit   *audit.AuditConfig
	Notify  *notify.Config
	Monitor *sla.MonitorConfig
	// Gateway overrides the gateway built from Notify.
	Gateway notify.Gateway
	// Elector gates the monitor and audit retention. Nil runs them on every
	// replica.
	Elector *ha.Elector

	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server owns the engine's components.
type Server struct {
	db        *gorm.DB
	directory *directory.Directory
	opts      Options
	logger    *slog.Logger

	workflows  *approvals.Store
	service    *approvals.Service
	auditStore *audit.Store
	auditSink  *audit.AsyncSink
	retention  *audit.RetentionWorker
	dispatcher *notify.Dispatcher
	monitor    *sla.Monitor
	elector    *ha.Elector

	startedAt time.Time
	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New builds a Server from opts. It does not touch the database schema;
// run db.Migrate first.
func New(opts Options) (*Server, error) {
	if opts.DB == nil {
		return nil, errors.New("server: database is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("server: directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.DefaultAuditConfig()
	}
	if opts.Notify == nil {
		opts.Notify = notify.DefaultConfig()
	}
	if opts.Monitor == nil {
		opts.Monitor = sla.DefaultMonitorConfig()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = &authz.NoopAuthorizer{}
	}
	if opts.Access == nil {
		opts.Access = authz.NewDirectoryProjectAccess(opts.Directory)
	}
	if opts.Identity == nil {
		opts.Identity = authz.IdentityMiddleware()
	}
	if opts.Gateway == nil {
		opts.Gateway = notify.NewGateway(opts.Notify, opts.Logger.With("component", "notify"))
	}

	s := &Server{
		db:        opts.DB,
		directory: opts.Directory,
		opts:      opts,
		logger:    opts.Logger,
		elector:   opts.Elector,
		startedAt: time.Now(),
	}

	s.workflows = approvals.NewStore(opts.DB)

	var sink approvals.AuditSink = audit.Discard{}
	if opts.Audit.Enabled {
		s.auditStore = audit.NewStore(opts.DB, opts.Clock)
		s.auditSink = audit.NewAsyncSink(s.auditStore, opts.Audit.QueueSize, opts.Logger.With("component", "audit"))
		s.retention = audit.NewRetentionWorker(s.auditStore, opts.Clock, opts.Audit.RetentionDays, opts.Logger.With("component", "audit-retention"))
		sink = s.auditSink
	}
	s.service = approvals.NewService(s.workflows, opts.Clock, sink, opts.Directory, opts.Service, opts.Logger.With("component", "approvals"))

	s.dispatcher = notify.NewDispatcher(opts.Gateway, opts.Notify, opts.Logger.With("component", "notify"))
	s.monitor = sla.NewMonitor(s.workflows, opts.Directory, s.dispatcher, opts.Clock, opts.Monitor, opts.Logger.With("component", "sla-monitor"))
	return s, nil
}

// Service returns the workflow service.
func (s *Server) Service() *approvals.Service { return s.service }

// Monitor returns the SLA monitor.
func (s *Server) Monitor() *sla.Monitor { return s.monitor }

// AuditStore returns the audit store, or nil when auditing is disabled.
func (s *Server) AuditStore() *audit.Store { return s.auditStore }

// MountRoutes creates the HTTP router.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Remote-User", "X-Remote-Group"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.opts.Identity)
		r.Mount(ApprovalsPath, approvals.NewRouter(s.service, s.opts.Authorizer, s.opts.Access))
		s.logger.Info("mounted approval routes", "path", ApprovalsPath)

		if s.auditStore != nil {
			r.Mount(AuditPath, audit.Router(s.auditStore, s.opts.Authorizer, s.opts.Access))
			s.logger.Info("mounted audit routes", "path", AuditPath)
		}
	})
	return r
}

// Start launches the background workers. The SLA monitor and audit
// retention run only while this replica leads.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	if s.auditSink != nil {
		s.auditSink.Start()
	}
	s.dispatcher.Start()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	lead := func(ctx context.Context) {
		s.monitor.Start(ctx)
		if s.retention != nil {
			s.retention.Run(ctx)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.elector == nil {
			lead(ctx)
			return
		}
		if err := s.elector.Run(ctx, lead); err != nil {
			s.logger.Error("leader election failed, background loops not running", "error", err)
		}
	}()

	s.logger.Info("approval engine started",
		"audit", s.auditSink != nil,
		"slaMonitor", s.opts.Monitor.Enabled,
		"slaInterval", s.opts.Monitor.EffectiveInterval().String(),
		"notifyScope", string(s.opts.Monitor.Scope))
	return nil
}

// Stop halts the background workers and flushes pending audit entries and
// notifications, giving up on notifications when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.monitor.Stop()
	s.wg.Wait()

	s.dispatcher.Close(ctx)
	if s.auditSink != nil {
		s.auditSink.Close()
	}
	s.logger.Info("approval engine stopped")
	return ctx.Err()
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports whether the database is reachable. Monitor and
// leadership state are informational.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := true

	dbStatus := map[string]string{"status": "up"}
	if err := s.workflows.Ping(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	}

	monitorStatus := "stopped"
	switch {
	case !s.opts.Monitor.Enabled:
		monitorStatus = "disabled"
	case s.monitor.Running():
		monitorStatus = "running"
	}

	leaderStatus := "not_configured"
	if s.elector != nil {
		leaderStatus = "follower"
		if s.elector.IsLeader() {
			leaderStatus = "leader"
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"database":        dbStatus,
			"sla_monitor":     map[string]string{"status": monitorStatus},
			"leader_election": map[string]string{"status": leaderStatus},
			"directory":       map[string]any{"status": "loaded", "users": s.directory.Len()},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
