package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	qtest "github.com/AlessioChianetta/Coachale-sub034/internal/testing"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider answers the provider endpoints the workflow uses and counts
// calls by "METHOD /path".
type fakeProvider struct {
	t *testing.T

	mu          sync.Mutex
	calls       map[string]int
	auth        map[string]string
	bodies      map[string][]byte
	failures    map[string]int
	hooks       map[string]func()
	groupStatus string
	groupReqs   []provider.RequirementValue
	order       provider.NumberOrder
	docSeq      int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	return &fakeProvider{
		t:           t,
		calls:       make(map[string]int),
		auth:        make(map[string]string),
		bodies:      make(map[string][]byte),
		failures:    make(map[string]int),
		hooks:       make(map[string]func()),
		groupStatus: provider.RequirementGroupPendingApproval,
		order:       provider.NumberOrder{ID: "ord-1", Status: provider.NumberOrderPending},
	}
}

func (f *fakeProvider) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeProvider) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProvider) failWith(key string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, key)
		return
	}
	f.failures[key] = status
}

func (f *fakeProvider) onCall(key string, hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[key] = hook
}

func (f *fakeProvider) setGroup(status string, reqs ...provider.RequirementValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupStatus = status
	f.groupReqs = reqs
}

func (f *fakeProvider) setOrder(o provider.NumberOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = o
}

func (f *fakeProvider) authFor(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth[key]
}

func (f *fakeProvider) body(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls[key]++
	f.auth[key] = r.Header.Get("Authorization")
	f.bodies[key] = body
	status := f.failures[key]
	hook := f.hooks[key]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"errors":[{"code":"10015","title":"Bad Request","detail":"rejected by fake for %s"}]}`, key)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var data interface{}
	switch {
	case key == "POST /v2/managed_accounts":
		data = provider.ManagedAccount{ID: "ma-1", APIKey: "KEYSUB"}
	case key == "POST /v2/documents":
		f.docSeq++
		data = provider.Document{ID: fmt.Sprintf("doc-%d", f.docSeq), Status: "pending"}
	case key == "POST /v2/requirement_groups":
		data = provider.RequirementGroup{ID: "rg-1", Status: provider.RequirementGroupUnapproved}
	case key == "PATCH /v2/requirement_groups/rg-1":
		data = provider.RequirementGroup{ID: "rg-1", Status: provider.RequirementGroupUnapproved}
	case key == "POST /v2/requirement_groups/rg-1/submit_for_approval":
		data = provider.RequirementGroup{ID: "rg-1", Status: provider.RequirementGroupPendingApproval}
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/requirement_groups/"):
		data = provider.RequirementGroup{
			ID:                     strings.TrimPrefix(r.URL.Path, "/v2/requirement_groups/"),
			Status:                 f.groupStatus,
			RegulatoryRequirements: f.groupReqs,
		}
	case key == "POST /v2/number_orders":
		data = provider.NumberOrder{ID: f.order.ID, Status: provider.NumberOrderPending}
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/number_orders/"):
		data = f.order
	case key == "GET /v2/available_phone_numbers":
		data = []provider.AvailableNumber{{PhoneNumber: "+390212345678"}, {PhoneNumber: "+390212345679"}}
	case strings.HasSuffix(key, "/update_global_channel_limit"):
		data = provider.ManagedAccount{ID: "ma-1"}
	default:
		f.t.Errorf("unexpected provider call %s", key)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

type harness struct {
	store    *Store
	workflow *Workflow
	fake     *fakeProvider
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewStore(qtest.CreateTestDB(t), WithStoreClock(clock.Now))

	fake := newFakeProvider(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cache, err := provider.NewCredentialsCache(provider.StaticConfigSource{Credentials: provider.Credentials{
		APIKey:       "MASTER",
		ConnectionID: "conn-1",
	}}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	wf := NewWorkflow(store, provider.NewClient(server.URL, cache), Options{
		Requirements: map[string]string{"identity_front": "req-identity-front"},
	}, WithWorkflowClock(clock.Now))

	return &harness{store: store, workflow: wf, fake: fake, clock: clock}
}

func sampleRequest() NewRequest {
	return NewRequest{
		ConsultantID:  "consultant-1",
		BusinessName:  "Studio Rossi",
		ContactEmail:  "info@rossi.it",
		DesiredPrefix: "02",
		DesiredNumber: "+390200000001",
		Details: BusinessDetails{
			BusinessType: "professional",
			VATNumber:    "IT01234567890",
			City:         "Milano",
		},
	}
}

// createReady creates a request with every required document attached.
func (h *harness) createReady(t *testing.T) *Request {
	t.Helper()
	ctx := context.Background()
	req, err := h.workflow.Create(ctx, sampleRequest())
	require.NoError(t, err)
	for _, dt := range RequiredDocuments {
		_, err := h.workflow.AddDocument(ctx, req.ID, dt, string(dt)+".pdf", "application/pdf", []byte("%PDF "+string(dt)))
		require.NoError(t, err)
	}
	return req
}

// advanceTo drives a fresh request to status using the fake provider.
func (h *harness) advanceTo(t *testing.T, status Status) *Request {
	t.Helper()
	ctx := context.Background()
	req := h.createReady(t)

	req, err := h.workflow.Run(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusKYCSubmitted, req.Status)
	if status == StatusKYCSubmitted {
		return req
	}

	h.fake.setGroup(provider.RequirementGroupApproved)
	ok, err := h.workflow.ReconcileKYC(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	req, err = h.store.Get(ctx, req.ID)
	require.NoError(t, err)
	if status == StatusKYCApproved {
		return req
	}

	req, err = h.workflow.OrderNumber(ctx, req.ID, "+390212345678")
	require.NoError(t, err)
	require.Equal(t, StatusNumberOrdered, req.Status)
	if status == StatusNumberOrdered {
		return req
	}

	h.fake.setOrder(provider.NumberOrder{
		ID:           "ord-1",
		Status:       provider.NumberOrderSuccess,
		PhoneNumbers: []provider.OrderedNumber{{PhoneNumber: "+390212345678"}},
	})
	ok, err = h.workflow.ReconcileOrder(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	req, err = h.store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusNumberActive, req.Status)
	return req
}

func auditMessages(req *Request) []string {
	var out []string
	for _, e := range req.Audit() {
		out = append(out, e.Message)
	}
	return out
}
