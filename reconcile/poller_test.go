package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	qtest "github.com/AlessioChianetta/Coachale-sub034/internal/testing"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
)

type stubProvider struct {
	configured bool
	err        error
}

func (s stubProvider) Configured(context.Context) (bool, error) {
	return s.configured, s.err
}

type stubRequests struct {
	kyc, order       []*provisioning.Request
	kycErr, orderErr error
	calls            int
}

func (s *stubRequests) ListAwaitingKYC(context.Context) ([]*provisioning.Request, error) {
	s.calls++
	return s.kyc, s.kycErr
}

func (s *stubRequests) ListAwaitingOrder(context.Context) ([]*provisioning.Request, error) {
	s.calls++
	return s.order, s.orderErr
}

// stubReconciler records the order of checks. Outcomes are keyed by request id.
type stubReconciler struct {
	mu       sync.Mutex
	seen     []string
	failures map[int64]error
	panics   map[int64]bool
	moves    map[int64]bool
}

func newStubReconciler() *stubReconciler {
	return &stubReconciler{
		failures: make(map[int64]error),
		panics:   make(map[int64]bool),
		moves:    make(map[int64]bool),
	}
}

func (s *stubReconciler) record(pass string, req *provisioning.Request) (bool, error) {
	s.mu.Lock()
	s.seen = append(s.seen, pass+":"+req.RequirementGroupID+req.NumberOrderID)
	fail, panics, moved := s.failures[req.ID], s.panics[req.ID], s.moves[req.ID]
	s.mu.Unlock()
	if panics {
		panic("boom")
	}
	return moved, fail
}

func (s *stubReconciler) ReconcileKYC(_ context.Context, req *provisioning.Request) (bool, error) {
	return s.record("kyc", req)
}

func (s *stubReconciler) ReconcileOrder(_ context.Context, req *provisioning.Request) (bool, error) {
	return s.record("order", req)
}

func (s *stubReconciler) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func newLeases(t *testing.T, db *sql.DB, holder string) *lease.Manager {
	t.Helper()
	return lease.NewManager(lease.NewSQLStore(db), lease.WithHolderID(holder))
}

func TestTick_SkipsWhenUnconfigured(t *testing.T) {
	db := qtest.CreateTestDB(t)
	leases := newLeases(t, db, "poller-a")
	reqs := &stubRequests{}
	rec := newStubReconciler()

	p := NewPoller(leases, reqs, rec, stubProvider{configured: false}, Config{}, nil)
	res, err := p.Tick(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonNotConfigured, res.Reason)
	assert.Zero(t, reqs.calls)

	var attempts int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM job_locks`).Scan(&attempts))
	assert.Zero(t, attempts, "the lease is not touched")
}

func TestTick_ConfigurationError(t *testing.T) {
	db := qtest.CreateTestDB(t)
	p := NewPoller(newLeases(t, db, "poller-a"), &stubRequests{}, newStubReconciler(),
		stubProvider{err: errors.New("database is locked")}, Config{}, nil)

	_, err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check provider configuration")
}

func TestTick_SkipsWhenLeaseHeld(t *testing.T) {
	db := qtest.CreateTestDB(t)
	ctx := context.Background()

	other := newLeases(t, db, "poller-b")
	ok, err := other.Acquire(ctx, JobName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	reqs := &stubRequests{kyc: []*provisioning.Request{{ID: 1, RequirementGroupID: "rg-1"}}}
	rec := newStubReconciler()
	p := NewPoller(newLeases(t, db, "poller-a"), reqs, rec, stubProvider{configured: true}, Config{}, nil)

	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonLeaseHeld, res.Reason)
	assert.Empty(t, rec.calls())

	locks, err := other.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "poller-b", locks[0].HolderID, "the holder keeps its lease")
}

func TestTick_KYCBeforeOrdersAndReleases(t *testing.T) {
	db := qtest.CreateTestDB(t)
	ctx := context.Background()
	leases := newLeases(t, db, "poller-a")

	reqs := &stubRequests{
		kyc:   []*provisioning.Request{{ID: 1, RequirementGroupID: "rg-1"}, {ID: 2, RequirementGroupID: "rg-2"}},
		order: []*provisioning.Request{{ID: 3, NumberOrderID: "ord-3"}},
	}
	rec := newStubReconciler()
	rec.moves[2] = true
	rec.moves[3] = true

	p := NewPoller(leases, reqs, rec, stubProvider{configured: true}, Config{}, nil)
	res, err := p.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"kyc:rg-1", "kyc:rg-2", "order:ord-3"}, rec.calls())
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 2, res.Transitioned)
	assert.Zero(t, res.Failed)
	assert.Equal(t, res, p.LastResult())

	locks, err := leases.Locks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks, "lease released after the pass")
}

func TestTick_IsolatesFailures(t *testing.T) {
	db := qtest.CreateTestDB(t)
	reqs := &stubRequests{
		kyc: []*provisioning.Request{
			{ID: 1, RequirementGroupID: "rg-a"},
			{ID: 2, RequirementGroupID: "rg-b"},
			{ID: 3, RequirementGroupID: "rg-c"},
		},
		order: []*provisioning.Request{{ID: 4, NumberOrderID: "ord-d"}},
	}
	rec := newStubReconciler()
	rec.failures[1] = errors.New("provider timeout")
	rec.panics[2] = true
	rec.moves[3] = true
	rec.moves[4] = true

	p := NewPoller(newLeases(t, db, "poller-a"), reqs, rec, stubProvider{configured: true}, Config{}, nil)
	res, err := p.Tick(context.Background())
	require.NoError(t, err, "per-request errors are not propagated")

	assert.Equal(t, []string{"kyc:rg-a", "kyc:rg-b", "kyc:rg-c", "order:ord-d"}, rec.calls())
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Transitioned)
}

func TestTick_ListFailureStillRunsOrderPass(t *testing.T) {
	db := qtest.CreateTestDB(t)
	reqs := &stubRequests{
		kycErr: errors.New("no such table"),
		order:  []*provisioning.Request{{ID: 4, NumberOrderID: "ord-d"}},
	}
	rec := newStubReconciler()

	p := NewPoller(newLeases(t, db, "poller-a"), reqs, rec, stubProvider{configured: true}, Config{}, nil)
	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"order:ord-d"}, rec.calls())
}

func TestTick_ConcurrentTicksRunOnce(t *testing.T) {
	db := qtest.CreateTestDB(t)
	ctx := context.Background()

	release := make(chan struct{})
	blocking := &blockingReconciler{entered: make(chan struct{}, 1), release: release}
	reqs := &stubRequests{kyc: []*provisioning.Request{{ID: 1, RequirementGroupID: "rg-1"}}}

	first := NewPoller(newLeases(t, db, "poller-a"), reqs, blocking, stubProvider{configured: true}, Config{}, nil)
	second := NewPoller(newLeases(t, db, "poller-b"), &stubRequests{}, newStubReconciler(), stubProvider{configured: true}, Config{}, nil)

	done := make(chan TickResult, 1)
	go func() {
		res, err := first.Tick(ctx)
		assert.NoError(t, err)
		done <- res
	}()
	<-blocking.entered

	res, err := second.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonLeaseHeld, res.Reason)

	close(release)
	firstRes := <-done
	assert.False(t, firstRes.Skipped)
	assert.Equal(t, 1, firstRes.Checked)
}

type blockingReconciler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingReconciler) ReconcileKYC(context.Context, *provisioning.Request) (bool, error) {
	b.entered <- struct{}{}
	<-b.release
	return false, nil
}

func (b *blockingReconciler) ReconcileOrder(context.Context, *provisioning.Request) (bool, error) {
	return false, nil
}

func TestPoller_StartStop(t *testing.T) {
	db := qtest.CreateTestDB(t)
	reqs := &stubRequests{kyc: []*provisioning.Request{{ID: 1, RequirementGroupID: "rg-1"}}}
	rec := newStubReconciler()

	p := NewPoller(newLeases(t, db, "poller-a"), reqs, rec, stubProvider{configured: true},
		Config{Interval: 10 * time.Millisecond}, nil)

	p.Stop() // not started
	p.Start(context.Background())
	p.Start(context.Background())

	require.Eventually(t, func() bool { return len(rec.calls()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	n := len(rec.calls())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(rec.calls()), "no ticks after Stop")
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, Config{HeartbeatInterval: -1}, nil)
	def := DefaultConfig()
	assert.Equal(t, def.Interval, p.cfg.Interval)
	assert.Equal(t, def.LockDuration, p.cfg.LockDuration)
	assert.Zero(t, p.cfg.HeartbeatInterval)
}

// TestTick_WithWorkflow runs the poller against the real store and workflow
// with a provider that fails one of the groups.
func TestTick_WithWorkflow(t *testing.T) {
	db := qtest.CreateTestDB(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data interface{}
		switch r.URL.Path {
		case "/v2/requirement_groups/rg-bad":
			http.Error(w, `{"errors":[{"code":"50000","title":"Internal","detail":"group lookup failed"}]}`, http.StatusInternalServerError)
			return
		case "/v2/requirement_groups/rg-ok":
			data = provider.RequirementGroup{ID: "rg-ok", Status: provider.RequirementGroupApproved}
		case "/v2/number_orders/ord-1":
			data = provider.NumberOrder{ID: "ord-1", Status: provider.NumberOrderSuccess,
				PhoneNumbers: []provider.OrderedNumber{{PhoneNumber: "+390212345678"}}}
		case "/v2/number_orders/ord-2":
			data = provider.NumberOrder{ID: "ord-2", Status: provider.NumberOrderSuccess}
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	t.Cleanup(server.Close)

	cache, err := provider.NewCredentialsCache(provider.StaticConfigSource{Credentials: provider.Credentials{APIKey: "MASTER"}}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	client := provider.NewClient(server.URL, cache)

	store := provisioning.NewStore(db)
	wf := provisioning.NewWorkflow(store, client, provisioning.Options{})

	seed := func(status provisioning.Status, col, val, desired string) int64 {
		in := provisioning.NewRequest{ConsultantID: "c", BusinessName: "Studio", ContactEmail: "a@b.it", DesiredNumber: desired}
		req, err := store.Create(ctx, in)
		require.NoError(t, err)
		_, err = db.Exec(`UPDATE provisioning_requests SET status = ?, `+col+` = ? WHERE id = ?`, status, val, req.ID)
		require.NoError(t, err)
		return req.ID
	}
	bad := seed(provisioning.StatusKYCSubmitted, "requirement_group_id", "rg-bad", "")
	good := seed(provisioning.StatusKYCSubmitted, "requirement_group_id", "rg-ok", "")
	withNumber := seed(provisioning.StatusNumberOrdered, "number_order_id", "ord-1", "+390200000001")
	fallback := seed(provisioning.StatusNumberOrdered, "number_order_id", "ord-2", "+390200000002")

	core, logs := observer.New(zapcore.WarnLevel)
	p := NewPoller(newLeases(t, db, "poller-a"), store, wf, client, Config{}, zap.New(core).Sugar())
	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 3, res.Transitioned)
	assert.Equal(t, 1, res.Failed)

	failures := logs.FilterMessage("Reconciliation check failed, continuing with the batch").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.Equal(t, "50000", fields[logger.FieldErrorCode])
	assert.Equal(t, "reconcile", fields[logger.FieldComponent])
	assert.Equal(t, bad, fields[logger.FieldRequestID])

	get := func(id int64) *provisioning.Request {
		req, err := store.Get(ctx, id)
		require.NoError(t, err)
		return req
	}
	assert.Equal(t, provisioning.StatusKYCSubmitted, get(bad).Status)
	assert.Contains(t, get(bad).ErrorLog, "kyc status check failed")
	assert.Contains(t, get(bad).ErrorLog, "group lookup failed")
	assert.Equal(t, provisioning.StatusKYCApproved, get(good).Status)
	assert.Equal(t, "+390212345678", get(withNumber).AssignedNumber)
	assert.Equal(t, "+390200000002", get(fallback).AssignedNumber)

	// the approved request is no longer polled
	res, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 0, res.Transitioned)
	assert.True(t, strings.Contains(get(good).ErrorLog, "KYC approved"))
}
