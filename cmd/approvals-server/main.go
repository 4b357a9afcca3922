// Package main runs the approval engine HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/auditcore/approval-engine/internal/db"
	"github.com/auditcore/approval-engine/pkg/approvals"
	"github.com/auditcore/approval-engine/pkg/audit"
	"github.com/auditcore/approval-engine/pkg/authz"
	"github.com/auditcore/approval-engine/pkg/directory"
	"github.com/auditcore/approval-engine/pkg/ha"
	"github.com/auditcore/approval-engine/pkg/notify"
	"github.com/auditcore/approval-engine/pkg/server"
	"github.com/auditcore/approval-engine/pkg/sla"
)

func main() {
	// glog only reports fatal startup errors; keep them on stderr.
	_ = flag.Set("logtostderr", "true")

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		glog.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	haCfg := ha.ConfigFromEnv()
	authzMode, err := authz.ParseAuthzMode(cfg.AuthzMode)
	if err != nil {
		glog.Fatalf("Invalid authz mode: %v", err)
	}

	var k8s kubernetes.Interface
	if haCfg.LeaderElection || authzMode == authz.AuthzModeSAR {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		if k8s, err = kubernetes.NewForConfig(restCfg); err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
	}

	gormDB, err := db.Open(db.Config{
		Type:         cfg.DBType,
		DSN:          cfg.DBDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
		LogLevel:     cfg.DBLogLevel,
	})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	var locker ha.Locker
	if haCfg.MigrationLock {
		if locker, err = ha.NewMigrationLocker(gormDB, &ha.LockOptions{Owner: haCfg.Identity}); err != nil {
			glog.Fatalf("Failed to create migration lock: %v", err)
		}
	}
	auditCfg := audit.AuditConfigFromEnv()
	err = db.Migrate(ctx, gormDB, locker, logger,
		approvals.NewStore(gormDB).AutoMigrate,
		audit.NewStore(gormDB, nil).AutoMigrate,
	)
	if err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	dir, err := directory.Load(cfg.DirectoryPath, logger.With("component", "directory"))
	if err != nil {
		glog.Fatalf("Failed to load directory: %v", err)
	}
	if cfg.WatchDirectory {
		go func() {
			if err := dir.Watch(ctx); err != nil {
				logger.Error("directory watch stopped", "path", cfg.DirectoryPath, "error", err)
			}
		}()
	}

	authorizer, err := buildAuthorizer(cfg, authzMode, k8s, dir)
	if err != nil {
		glog.Fatalf("Failed to configure authorization: %v", err)
	}

	identity := authz.IdentityMiddleware()
	if cfg.IdentityMode == "jwt" {
		identity, err = authz.JWTIdentityMiddleware(authz.JWTConfig{
			UserClaim:     cfg.JWTUserClaim,
			RolesClaim:    cfg.JWTRolesClaim,
			PublicKeyPath: cfg.JWTPublicKey,
			Issuer:        cfg.JWTIssuer,
			Audience:      cfg.JWTAudience,
			TrustHeaders:  cfg.JWTTrustHeaders,
			Logger:        logger,
		})
		if err != nil {
			glog.Fatalf("Failed to configure JWT identity: %v", err)
		}
		logger.Info("using JWT identity", "hasPublicKey", cfg.JWTPublicKey != "", "rolesClaim", cfg.JWTRolesClaim)
	}

	var elector *ha.Elector
	if haCfg.LeaderElection {
		elector = ha.NewElector(haCfg, k8s, logger.With("component", "leader-election"))
	}

	srv, err := server.New(server.Options{
		DB:             gormDB,
		Directory:      dir,
		Authorizer:     authorizer,
		Identity:       identity,
		Service:        approvals.ServiceConfigFromEnv(),
		Audit:          auditCfg,
		Notify:         notify.ConfigFromEnv(),
		Monitor:        sla.MonitorConfigFromEnv(),
		Elector:        elector,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})
	if err != nil {
		glog.Fatalf("Failed to build server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.MountRoutes(),
	}
	if err := srv.Start(ctx); err != nil {
		glog.Fatalf("Failed to start background workers: %v", err)
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("approval engine ready",
		"listen", cfg.Listen,
		"db", cfg.DBType,
		"authz", string(authzMode),
		"identity", cfg.IdentityMode,
		"directoryUsers", dir.Len())

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("background shutdown error", "error", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("approval engine stopped")
}

func buildAuthorizer(cfg *serverConfig, mode authz.AuthzMode, k8s kubernetes.Interface, dir *directory.Directory) (authz.Authorizer, error) {
	var a authz.Authorizer
	switch mode {
	case authz.AuthzModeNone:
		return &authz.NoopAuthorizer{}, nil
	case authz.AuthzModeSAR:
		a = authz.NewSARAuthorizer(k8s)
	default:
		policy := authz.DefaultRolePolicy()
		if cfg.RolePolicyPath != "" {
			var err error
			if policy, err = authz.LoadRolePolicy(cfg.RolePolicyPath); err != nil {
				return nil, err
			}
		}
		a = authz.NewRoleAuthorizer(policy, dir)
	}
	if cfg.AuthzCacheTTL > 0 {
		a = authz.NewCachedAuthorizer(a, cfg.AuthzCacheTTL)
	}
	return a, nil
}
