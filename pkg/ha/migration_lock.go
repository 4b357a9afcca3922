package ha

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// migrationLockName identifies the lock shared by every replica.
const migrationLockName = "approval-engine-migration"

// Locker serializes a critical section across replicas sharing a database.
type Locker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// LockOptions tunes the table-based lock used when the database has no
// native named locks.
type LockOptions struct {
	Owner         string
	RetryInterval time.Duration
	MaxWait       time.Duration
	StaleAfter    time.Duration
}

func (o *LockOptions) withDefaults() LockOptions {
	out := LockOptions{
		Owner:         defaultIdentity(),
		RetryInterval: time.Second,
		MaxWait:       30 * time.Second,
		StaleAfter:    5 * time.Minute,
	}
	if o == nil {
		return out
	}
	if o.Owner != "" {
		out.Owner = o.Owner
	}
	if o.RetryInterval > 0 {
		out.RetryInterval = o.RetryInterval
	}
	if o.MaxWait > 0 {
		out.MaxWait = o.MaxWait
	}
	if o.StaleAfter > 0 {
		out.StaleAfter = o.StaleAfter
	}
	return out
}

// NewMigrationLocker picks a lock for the database dialect: advisory locks on
// PostgreSQL, GET_LOCK on MySQL and a lock table elsewhere. A nil db yields
// a lock that always succeeds.
func NewMigrationLocker(db *gorm.DB, opts *LockOptions) (Locker, error) {
	if db == nil {
		return noopLock{}, nil
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &advisoryLock{db: db, key: int64(crc32.ChecksumIEEE([]byte(migrationLockName)))}, nil
	case "mysql":
		return &namedLock{db: db, name: migrationLockName, timeout: opts.withDefaults().MaxWait}, nil
	}
	if err := db.AutoMigrate(&lockRecord{}); err != nil {
		return nil, fmt.Errorf("create lock table: %w", err)
	}
	return &tableLock{db: db, opts: opts.withDefaults()}, nil
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock holds a session-level advisory lock on one pooled connection
// so that lock and unlock reach the same backend.
type advisoryLock struct {
	db  *gorm.DB
	key int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.key).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", l.key)
		return fn()
	})
}

type namedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *namedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got sql.NullInt64
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", l.name, int(l.timeout.Seconds())).Scan(&got).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if !got.Valid || got.Int64 != 1 {
			return fmt.Errorf("acquire migration lock: timed out after %s", l.timeout)
		}
		defer conn.Exec("SELECT RELEASE_LOCK(?)", l.name)
		return fn()
	})
}

// lockRecord is the row held by tableLock.
type lockRecord struct {
	Name     string    `gorm:"primaryKey;column:name"`
	Owner    string    `gorm:"column:owner"`
	LockedAt time.Time `gorm:"column:locked_at"`
}

func (lockRecord) TableName() string { return "approval_locks" }

var errLockHeld = errors.New("lock held by another replica")

// tableLock inserts a row keyed by the lock name and retries while another
// replica holds it. Rows older than StaleAfter are assumed abandoned.
type tableLock struct {
	db   *gorm.DB
	opts LockOptions
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	acquire := func() error {
		db := l.db.WithContext(ctx)
		db.Where("name = ? AND locked_at < ?", migrationLockName, time.Now().Add(-l.opts.StaleAfter)).
			Delete(&lockRecord{})
		row := lockRecord{Name: migrationLockName, Owner: l.opts.Owner, LockedAt: time.Now()}
		if err := db.Create(&row).Error; err != nil {
			return errLockHeld
		}
		return nil
	}

	b := backoff.NewConstantBackOff(l.opts.RetryInterval)
	attempts := uint64(l.opts.MaxWait / l.opts.RetryInterval)
	if err := backoff.Retry(acquire, backoff.WithContext(backoff.WithMaxRetries(b, attempts), ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("acquire migration lock after %s: %w", l.opts.MaxWait, err)
	}
	defer l.db.Where("name = ? AND owner = ?", migrationLockName, l.opts.Owner).Delete(&lockRecord{})

	return fn()
}
