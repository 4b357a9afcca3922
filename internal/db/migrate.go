package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/auditcore/approval-engine/pkg/ha"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrations embed.FS

// migrationsTable keeps the engine's schema version apart from other users
// of the same database.
const migrationsTable = "approval_schema_migrations"

// Migrate brings the schema up to date while holding lock. PostgreSQL and
// MySQL run the embedded versioned migrations; any other database falls back
// to the autoMigrate functions, typically the stores' AutoMigrate methods.
func Migrate(ctx context.Context, gdb *gorm.DB, lock ha.Locker, logger *slog.Logger, autoMigrate ...func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		var err error
		if lock, err = ha.NewMigrationLocker(nil, nil); err != nil {
			return err
		}
	}

	return lock.WithLock(ctx, func() error {
		switch gdb.Dialector.Name() {
		case TypePostgres, TypeMySQL:
			return runVersioned(ctx, gdb, logger)
		}
		for _, fn := range autoMigrate {
			if err := fn(); err != nil {
				return err
			}
		}
		logger.Info("schema auto-migrated", "dialect", gdb.Dialector.Name())
		return nil
	})
}

func runVersioned(ctx context.Context, gdb *gorm.DB, logger *slog.Logger) error {
	dialect := gdb.Dialector.Name()
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve migration connection: %w", err)
	}

	src, err := iofs.New(migrations, "migrations/"+dialect)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open %s migrations: %w", dialect, err)
	}

	var m *migrate.Migrate
	switch dialect {
	case TypePostgres:
		driver, derr := migratepg.WithConnection(ctx, conn, &migratepg.Config{MigrationsTable: migrationsTable})
		if derr != nil {
			_ = conn.Close()
			return fmt.Errorf("init postgres migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, dialect, driver)
	default:
		driver, derr := migratemysql.WithConnection(ctx, conn, &migratemysql.Config{MigrationsTable: migrationsTable})
		if derr != nil {
			_ = conn.Close()
			return fmt.Errorf("init mysql migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, dialect, driver)
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", dialect, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("schema migrated", "dialect", dialect, "version", version, "dirty", dirty)
	return nil
}
