package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
)

// Manager acquires, extends and releases leases on behalf of one process.
// It never blocks or retries; contention is reported as a false result.
type Manager struct {
	store    Store
	holderID string
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHolderID overrides the generated holder id.
func WithHolderID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.holderID = id
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) {
		m.logger = logger.OrNop(l)
	}
}

// NewManager returns a manager for store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		holderID: DefaultHolderID(),
		now:      time.Now,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultHolderID returns host-pid-random, unique per process start.
func DefaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// PrefixedHolderID returns DefaultHolderID behind prefix. Processes sharing a
// configured prefix still get distinct holder ids.
func PrefixedHolderID(prefix string) string {
	if prefix == "" {
		return DefaultHolderID()
	}
	return prefix + "-" + DefaultHolderID()
}

// HolderID returns the id this manager writes into leases.
func (m *Manager) HolderID() string {
	return m.holderID
}

// Acquire tries once to claim jobName for d.
func (m *Manager) Acquire(ctx context.Context, jobName string, d time.Duration) (bool, error) {
	if err := validate(jobName, d); err != nil {
		return false, err
	}
	ok, err := m.store.Acquire(ctx, jobName, m.holderID, m.now(), d)
	if err != nil {
		metrics.RecordLeaseAcquire(jobName, metrics.ResultError)
		return false, err
	}
	if !ok {
		metrics.RecordLeaseAcquire(jobName, metrics.ResultContended)
		m.logger.Debugw("Lease held elsewhere", logger.FieldJobName, jobName)
		return false, nil
	}
	metrics.RecordLeaseAcquire(jobName, metrics.ResultAcquired)
	m.logger.Debugw("Lease acquired",
		logger.FieldJobName, jobName,
		logger.FieldHolderID, m.holderID,
		logger.FieldExpiresAt, m.Now().Add(d))
	return true, nil
}

// Extend pushes the expiry of a lease this manager holds to now+d.
// It returns false when the lease is gone, expired or owned by another holder.
func (m *Manager) Extend(ctx context.Context, jobName string, d time.Duration) (bool, error) {
	if err := validate(jobName, d); err != nil {
		return false, err
	}
	return m.store.Extend(ctx, jobName, m.holderID, m.now(), d)
}

// Release drops the lease if this manager holds it. Releasing someone else's
// lease, or one that no longer exists, is a silent no-op.
func (m *Manager) Release(ctx context.Context, jobName string) error {
	if jobName == "" {
		return errors.NewInvalidRequestf("job name is required")
	}
	released, err := m.store.Release(ctx, jobName, m.holderID)
	if err != nil {
		return err
	}
	metrics.RecordLeaseRelease(jobName)
	if !released {
		m.logger.Debugw("Release skipped, lease not held by us", logger.FieldJobName, jobName)
	}
	return nil
}

// ForceRelease deletes a lease regardless of holder.
func (m *Manager) ForceRelease(ctx context.Context, jobName string) (bool, error) {
	if jobName == "" {
		return false, errors.NewInvalidRequestf("job name is required")
	}
	released, err := m.store.ForceRelease(ctx, jobName)
	if err != nil {
		return false, err
	}
	if released {
		m.logger.Warnw("Lease force-released", logger.FieldJobName, jobName)
	}
	return released, nil
}

// Locks lists stored leases.
func (m *Manager) Locks(ctx context.Context) ([]Lock, error) {
	return m.store.List(ctx)
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}
