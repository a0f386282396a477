package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/db"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
)

// releaseTimeout bounds the release that runs after fn, which uses a context
// detached from the caller's so a cancelled tick still gives the lease back.
const releaseTimeout = 5 * time.Second

// RunOptions sizes the lease for one run.
type RunOptions struct {
	// Duration must cover the whole run unless HeartbeatInterval is set.
	Duration time.Duration
	// HeartbeatInterval extends the lease by Duration on every tick. Zero disables it.
	HeartbeatInterval time.Duration
}

// Result describes what RunWithLock did.
type Result struct {
	// Skipped is true when another holder owned the lease and fn did not run.
	Skipped bool
	// LeaseLost is true when a heartbeat found the lease gone while fn ran.
	LeaseLost bool
	// Elapsed is how long fn ran.
	Elapsed time.Duration
}

// RunWithLock runs fn while holding jobName. Contention is not an error: the
// result comes back with Skipped set and fn is not called.
//
// Once acquired the lease is released on every exit path, including a panic
// in fn, which is re-raised after release. If a heartbeat cannot extend the
// lease, fn's context is cancelled with ErrLeaseLost as its cause.
func (m *Manager) RunWithLock(ctx context.Context, jobName string, fn func(context.Context) error, opts RunOptions) (res Result, err error) {
	acquired, err := m.Acquire(ctx, jobName, opts.Duration)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{Skipped: true}, nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	var (
		lost atomic.Bool
		wg   sync.WaitGroup
	)
	if opts.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.heartbeat(runCtx, jobName, opts, &lost, cancel)
		}()
	}

	start := m.now()
	defer func() {
		cancel(nil)
		wg.Wait()
		res.Elapsed = m.now().Sub(start)
		res.LeaseLost = lost.Load()

		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer releaseCancel()
		if relErr := m.Release(releaseCtx, jobName); relErr != nil {
			m.logger.Warnw("Lease release failed, it will expire on its own",
				logger.FieldJobName, jobName,
				logger.FieldError, relErr)
		}
	}()

	err = fn(runCtx)
	return res, err
}

func (m *Manager) heartbeat(ctx context.Context, jobName string, opts RunOptions, lost *atomic.Bool, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, jobName, opts.Duration)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Transient; the lease is still valid until its current expiry.
				metrics.RecordLeaseHeartbeat(jobName, metrics.ResultError)
				m.logger.Warnw("Lease heartbeat failed",
					logger.FieldJobName, jobName,
					logger.FieldBusy, db.IsBusy(err),
					logger.FieldError, err)
				continue
			}
			if !ok {
				metrics.RecordLeaseHeartbeat(jobName, metrics.ResultLost)
				m.logger.Warnw("Lease lost during run, cancelling job",
					logger.FieldJobName, jobName,
					logger.FieldHolderID, m.holderID)
				lost.Store(true)
				cancel(ErrLeaseLost)
				return
			}
			metrics.RecordLeaseHeartbeat(jobName, metrics.ResultOK)
		}
	}
}
