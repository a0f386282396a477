// Package reconcile runs the periodic job that pulls provider-side status
// into provisioning requests.
//
// Each tick checks that the provider is configured, then takes the
// reconcile-provisioning lease so only one process polls at a time, then
// checks KYC groups before number orders. One request failing is logged and
// counted; it never stops the rest of the batch.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
)

// JobName is the lease every poller instance competes for.
const JobName = "reconcile-provisioning"

// Skip reasons reported in TickResult.Reason.
const (
	ReasonNotConfigured = "provider not configured"
	ReasonLeaseHeld     = "lease held by another process"
)

// Pass names used in metrics.
const (
	passKYC   = "kyc"
	passOrder = "order"
)

// Requests lists the rows each pass checks.
type Requests interface {
	ListAwaitingKYC(ctx context.Context) ([]*provisioning.Request, error)
	ListAwaitingOrder(ctx context.Context) ([]*provisioning.Request, error)
}

// Reconciler fetches one request's provider status and applies it. The bool
// reports whether the request changed status.
type Reconciler interface {
	ReconcileKYC(ctx context.Context, req *provisioning.Request) (bool, error)
	ReconcileOrder(ctx context.Context, req *provisioning.Request) (bool, error)
}

// Provider reports whether provider credentials exist.
type Provider interface {
	Configured(ctx context.Context) (bool, error)
}

// Config sizes the poller.
type Config struct {
	Interval          time.Duration // between ticks in Start
	LockDuration      time.Duration // lease length, sized to one full pass
	HeartbeatInterval time.Duration // zero disables lease heartbeats
}

// DefaultConfig returns a 5 minute interval with a 2 minute lease renewed every 30s.
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		LockDuration:      2 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped      bool          `json:"skipped" yaml:"skipped"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Checked      int           `json:"checked" yaml:"checked"`
	Transitioned int           `json:"transitioned" yaml:"transitioned"`
	Failed       int           `json:"failed" yaml:"failed"`
	LeaseLost    bool          `json:"lease_lost,omitempty" yaml:"lease_lost,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Poller reconciles provisioning requests on a timer.
type Poller struct {
	leases     *lease.Manager
	requests   Requests
	reconciler Reconciler
	provider   Provider
	cfg        Config
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun TickResult
}

// NewPoller returns a stopped poller. Zero durations in cfg take their defaults.
func NewPoller(leases *lease.Manager, requests Requests, reconciler Reconciler, prov Provider, cfg Config, log *zap.SugaredLogger) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = def.LockDuration
	}
	if cfg.HeartbeatInterval < 0 {
		cfg.HeartbeatInterval = 0
	}
	return &Poller{
		leases:     leases,
		requests:   requests,
		reconciler: reconciler,
		provider:   prov,
		cfg:        cfg,
		logger:     logger.OrNop(log),
	}
}

// Tick runs one reconciliation pass. It is safe to call from several
// goroutines or processes at once; all but one are skipped by the lease.
// Errors are only returned for failures outside the per-request checks.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	res, err := p.tick(ctx)
	res.Duration = time.Since(start)

	switch {
	case err != nil:
		metrics.RecordPollerTick(metrics.ResultError)
	case res.Skipped:
		metrics.RecordPollerTick(metrics.ResultSkipped)
	default:
		metrics.RecordPollerTick(metrics.ResultOK)
	}

	p.mu.Lock()
	p.lastRun = res
	p.mu.Unlock()
	return res, err
}

func (p *Poller) tick(ctx context.Context) (TickResult, error) {
	configured, err := p.provider.Configured(ctx)
	if err != nil {
		return TickResult{}, errors.Wrap(err, "check provider configuration")
	}
	if !configured {
		return TickResult{Skipped: true, Reason: ReasonNotConfigured}, nil
	}

	var res TickResult
	run, err := p.leases.RunWithLock(ctx, JobName, func(ctx context.Context) error {
		start := time.Now()
		defer func() { metrics.ObservePollerPass(time.Since(start)) }()

		p.kycPass(ctx, &res)
		if ctx.Err() == nil {
			p.orderPass(ctx, &res)
		}
		return nil
	}, lease.RunOptions{
		Duration:          p.cfg.LockDuration,
		HeartbeatInterval: p.cfg.HeartbeatInterval,
	})
	if err != nil {
		return res, errors.Wrap(err, "reconcile provisioning")
	}
	if run.Skipped {
		p.logger.Debugw("Reconciliation skipped, lease held elsewhere", logger.FieldJobName, JobName)
		return TickResult{Skipped: true, Reason: ReasonLeaseHeld}, nil
	}
	if run.LeaseLost {
		res.LeaseLost = true
		p.logger.Warnw("Reconciliation lease lost mid-pass, remaining requests left for the next tick",
			logger.FieldJobName, JobName)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if res.Checked > 0 {
		p.logger.Infow("Reconciliation pass complete",
			logger.FieldChecked, res.Checked,
			"transitioned", res.Transitioned,
			logger.FieldFailed, res.Failed)
	}
	return res, nil
}

func (p *Poller) kycPass(ctx context.Context, res *TickResult) {
	reqs, err := p.requests.ListAwaitingKYC(ctx)
	if err != nil {
		res.Failed++
		p.logger.Warnw("List requests awaiting KYC failed", logger.FieldError, err)
		return
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		p.check(ctx, res, passKYC, req, p.reconciler.ReconcileKYC)
	}
}

func (p *Poller) orderPass(ctx context.Context, res *TickResult) {
	reqs, err := p.requests.ListAwaitingOrder(ctx)
	if err != nil {
		res.Failed++
		p.logger.Warnw("List requests awaiting number orders failed", logger.FieldError, err)
		return
	}
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		p.check(ctx, res, passOrder, req, p.reconciler.ReconcileOrder)
	}
}

// check runs one request's reconciliation. A panic is contained like an error.
func (p *Poller) check(ctx context.Context, res *TickResult, pass string, req *provisioning.Request,
	fn func(context.Context, *provisioning.Request) (bool, error)) {
	res.Checked++
	moved, err := func() (moved bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic: %v", r)
			}
		}()
		return fn(ctx, req)
	}()

	log := logger.FromContext(logger.WithRequestID(logger.WithComponent(ctx, "reconcile"), req.ID), p.logger)
	switch {
	case err != nil:
		res.Failed++
		metrics.RecordPollerCheck(pass, metrics.ResultError)
		fields := []interface{}{"pass", pass, logger.FieldStatus, req.Status, logger.FieldError, err}
		if apiErr, ok := provider.AsAPIError(err); ok && apiErr.Code != "" {
			fields = append(fields, logger.FieldErrorCode, apiErr.Code)
		}
		log.Warnw("Reconciliation check failed, continuing with the batch", fields...)
	case moved:
		res.Transitioned++
		metrics.RecordPollerCheck(pass, metrics.ResultTransitioned)
	default:
		metrics.RecordPollerCheck(pass, metrics.ResultUnchanged)
	}
}

// LastResult returns the most recent tick's result.
func (p *Poller) LastResult() TickResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

// Start runs Tick every interval until Stop. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Infow("Reconciliation poller started", "interval", p.cfg.Interval.String())
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Infow("Reconciliation poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warnw("Reconciliation tick error", logger.FieldError, err)
			}
		}
	}
}
