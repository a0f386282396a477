package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	qtest "github.com/AlessioChianetta/Coachale-sub034/internal/testing"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
	"github.com/AlessioChianetta/Coachale-sub034/reconcile"
)

// upstream is a minimal provider API. Failures are keyed by "METHOD /path".
type upstream struct {
	mu          sync.Mutex
	groupStatus string
	orderStatus string
	failures    map[string]int
	docSeq      int
}

func newUpstream() *upstream {
	return &upstream{
		groupStatus: provider.RequirementGroupPendingApproval,
		orderStatus: provider.NumberOrderPending,
		failures:    make(map[string]int),
	}
}

func (u *upstream) fail(key string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[key] = status
}

func (u *upstream) setGroupStatus(s string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.groupStatus = s
}

func (u *upstream) setOrderStatus(s string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.orderStatus = s
}

func (u *upstream) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u.mu.Lock()
			status := u.failures[r.Method+" "+r.URL.Path]
			u.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				fmt.Fprint(w, `{"errors":[{"code":"10015","title":"Unprocessable","detail":"rejected upstream"}]}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v2/managed_accounts", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.ManagedAccount{ID: "ma-1", APIKey: "KEYSUB"})
	})
	r.Patch("/v2/managed_accounts/{id}/update_global_channel_limit", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.ManagedAccount{ID: chi.URLParam(r, "id")})
	})
	r.Post("/v2/documents", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.docSeq++
		id := fmt.Sprintf("doc-%d", u.docSeq)
		u.mu.Unlock()
		reply(w, provider.Document{ID: id})
	})
	r.Post("/v2/requirement_groups", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.RequirementGroup{ID: "rg-1", Status: provider.RequirementGroupUnapproved})
	})
	r.Patch("/v2/requirement_groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.RequirementGroup{ID: chi.URLParam(r, "id"), Status: provider.RequirementGroupUnapproved})
	})
	r.Post("/v2/requirement_groups/{id}/submit_for_approval", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.RequirementGroup{ID: chi.URLParam(r, "id"), Status: provider.RequirementGroupPendingApproval})
	})
	r.Get("/v2/requirement_groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		status := u.groupStatus
		u.mu.Unlock()
		reply(w, provider.RequirementGroup{ID: chi.URLParam(r, "id"), Status: status})
	})
	r.Get("/v2/available_phone_numbers", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []provider.AvailableNumber{
			{PhoneNumber: "+390212345678"},
			{PhoneNumber: "+390212345679"},
		})
	})
	r.Post("/v2/number_orders", func(w http.ResponseWriter, r *http.Request) {
		reply(w, provider.NumberOrder{ID: "ord-1", Status: provider.NumberOrderPending})
	})
	r.Get("/v2/number_orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		status := u.orderStatus
		u.mu.Unlock()
		reply(w, provider.NumberOrder{
			ID:           chi.URLParam(r, "id"),
			Status:       status,
			PhoneNumbers: []provider.OrderedNumber{{PhoneNumber: "+390212345678"}},
		})
	})
	return r
}

func reply(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

type harness struct {
	server   *Server
	workflow *provisioning.Workflow
	leases   *lease.Manager
	creds    *provider.CredentialsCache
	source   *provider.SQLConfigSource
	upstream *upstream
}

type harnessOptions struct {
	configured     bool
	maxUploadBytes int64
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	db := qtest.CreateTestDB(t)

	up := newUpstream()
	api := httptest.NewServer(up.handler())
	t.Cleanup(api.Close)

	source := provider.NewSQLConfigSource(db, "telnyx")
	if opts.configured {
		require.NoError(t, source.Save(context.Background(), provider.Credentials{APIKey: "MASTER", ConnectionID: "conn-1"}))
	}
	creds, err := provider.NewCredentialsCache(source, time.Minute)
	require.NoError(t, err)
	t.Cleanup(creds.Close)

	client := provider.NewClient(api.URL, creds, provider.WithHTTPClient(api.Client()))
	store := provisioning.NewStore(db)
	wf := provisioning.NewWorkflow(store, client, provisioning.Options{})
	leases := lease.NewManager(lease.NewSQLStore(db), lease.WithHolderID("api-test"))
	poller := reconcile.NewPoller(leases, store, wf, client, reconcile.Config{HeartbeatInterval: 0}, nil)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.RegisterMetrics(reg))

	srv := New(Deps{
		Workflow: wf,
		Poller:   poller,
		Leases:   leases,
		Gatherer: reg,
	}, config.ServerConfig{MaxUploadBytes: opts.maxUploadBytes}, nil)

	return &harness{
		server:   srv,
		workflow: wf,
		leases:   leases,
		creds:    creds,
		source:   source,
		upstream: up,
	}
}

func (h *harness) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return h.do(method, path, body, "application/json")
}

func (h *harness) createRequest(t *testing.T) *provisioning.Request {
	t.Helper()
	rec := h.doJSON(t, http.MethodPost, "/api/provisioning/requests", map[string]interface{}{
		"consultant_id":  "cons-1",
		"business_name":  "Studio Rossi",
		"contact_email":  "mario@studiorossi.it",
		"desired_prefix": "02",
		"desired_number": "+390212345678",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*provisioning.Request](t, rec)
}

func (h *harness) upload(t *testing.T, id int64, docType, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if docType != "" {
		require.NoError(t, mw.WriteField("document_type", docType))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return h.do(http.MethodPost, fmt.Sprintf("/api/provisioning/requests/%d/documents", id), &buf, mw.FormDataContentType())
}

func (h *harness) uploadRequired(t *testing.T, id int64) {
	t.Helper()
	for _, dt := range provisioning.RequiredDocuments {
		rec := h.upload(t, id, string(dt), string(dt)+".pdf", []byte("%PDF-1.4 "+dt))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func httptestDo(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}
