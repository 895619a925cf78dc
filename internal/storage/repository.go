package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"spread-sentinel/internal/spread"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrStaleTransition means the alert was no longer in the expected status.
	ErrStaleTransition = errors.New("storage: alert status changed concurrently")
	// ErrInvalidTransition rejects edges outside the lifecycle graph.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
	// ErrOpenAlertExists means the symbol already has a PENDING/ANALYZING/APPROVED alert.
	ErrOpenAlertExists = errors.New("storage: open alert exists for symbol")
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ExecutableQuery narrows the execution scan to alerts that can still run.
type ExecutableQuery struct {
	RiskLevels []spread.RiskLevel
	// MaxAttempts excludes alerts with that many attempts; 0 disables the bound.
	MaxAttempts int
	Limit       int
}

// AlertStore persists alerts and guards their lifecycle.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	HasOpenAlert(ctx context.Context, symbol string) (bool, error)
	GetAlert(ctx context.Context, id string) (Alert, error)
	ListAlertsByStatus(ctx context.Context, status Status, limit int) ([]Alert, error)
	ListExecutable(ctx context.Context, query ExecutableQuery) ([]Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	// TransitionAlert moves id from -> to only if it is still in from.
	TransitionAlert(ctx context.Context, id string, from, to Status, patch AlertPatch) (Alert, error)
}

// SnapshotStore holds write-only market projections and spread history.
type SnapshotStore interface {
	UpsertLiveFeed(ctx context.Context, feed LiveFeed) error
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	AppendSpreadSample(ctx context.Context, sample SpreadSample) error
	ListSpreadSamples(ctx context.Context, symbol string, from, to time.Time) ([]SpreadSample, error)
}

// PreferenceStore reads user auto-execution settings.
type PreferenceStore interface {
	ListAutoExecutePreferences(ctx context.Context) ([]UserPreference, error)
	UpsertPreference(ctx context.Context, pref UserPreference) error
}

// AuditStore appends operational events.
type AuditStore interface {
	RecordAudit(ctx context.Context, event string, detail any) error
	ListRecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Repository is the full persistence surface used by the workers.
type Repository interface {
	AlertStore
	SnapshotStore
	PreferenceStore
	AuditStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
