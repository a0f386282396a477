// Package lease provides durable, time-bound, cross-process mutual exclusion for
// scheduled jobs.
//
// A lease is one row (or Redis hash) per job name naming the holder and an
// expiry. Acquire is a single conditional write that only succeeds when no live
// lease exists, so two processes racing for the same job cannot both win. A
// holder that crashes never releases; its lease is simply superseded once
// expires_at has passed. Long jobs keep their lease alive with Extend, which
// RunWithLock does on a heartbeat.
//
//	mgr := lease.NewManager(lease.NewSQLStore(db), lease.WithLogger(log))
//	res, err := mgr.RunWithLock(ctx, "reconcile-provisioning", pass, lease.RunOptions{
//	    Duration:          2 * time.Minute,
//	    HeartbeatInterval: 30 * time.Second,
//	})
//	if res.Skipped {
//	    // another process is running the job
//	}
package lease

import (
	"context"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Lock is a persisted lease.
type Lock struct {
	JobName    string    `json:"job_name" yaml:"job_name"`
	HolderID   string    `json:"holder_id" yaml:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

// Live reports whether the lease still excludes other holders at now.
// A lease whose expiry equals now is still live.
func (l Lock) Live(now time.Time) bool {
	return !l.ExpiresAt.Before(now)
}

// Store is a lease backend. Every method is a single atomic operation at the
// storage layer; none of them read-then-write in application code.
type Store interface {
	// Acquire claims jobName for holderID until now+ttl if no lease exists or
	// the existing one expired strictly before now.
	Acquire(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error)

	// Extend moves the expiry to now+ttl if holderID still owns a live lease.
	Extend(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error)

	// Release deletes the lease if holderID owns it.
	Release(ctx context.Context, jobName, holderID string) (bool, error)

	// ForceRelease deletes the lease whoever holds it. Administrative use only.
	ForceRelease(ctx context.Context, jobName string) (bool, error)

	// List returns every stored lease, live or expired, ordered by job name.
	List(ctx context.Context) ([]Lock, error)

	// DeleteExpired removes leases that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ErrLeaseLost is the cancellation cause RunWithLock sets on fn's context when
// a heartbeat finds the lease owned by someone else or expired.
var ErrLeaseLost = errors.New("lease lost")

func validate(jobName string, ttl time.Duration) error {
	if jobName == "" {
		return errors.NewInvalidRequestf("job name is required")
	}
	if ttl <= 0 {
		return errors.NewInvalidRequestf("lease duration must be positive, got %s", ttl)
	}
	return nil
}
