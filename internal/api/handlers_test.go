package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flexinfer/flowreach/internal/config"
	"github.com/flexinfer/flowreach/internal/discover"
	"github.com/flexinfer/flowreach/internal/export"
	"github.com/flexinfer/flowreach/internal/flowstore"
	"github.com/flexinfer/flowreach/internal/graphcache"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/internal/rules"
	"github.com/flexinfer/flowreach/internal/validator"
	"github.com/flexinfer/flowreach/pkg/types"
)

type testServer struct {
	srv   *Server
	flows flowstore.Store
}

func newTestServer(t *testing.T, exporter *export.Service) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flows := flowstore.NewMemoryStore()
	store := reachstore.NewMemoryStore()
	hub := graphcache.NewHub()
	t.Cleanup(hub.Close)

	disc := discover.New(flows, rules.NewExprEvaluator(), store, 0, 0, logger)
	cache := graphcache.NewService(graphcache.Config{WaitTimeout: time.Second}, store, disc, hub, nil, logger)

	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}

	cfg := &config.Config{
		CORSOrigins: []string{"http://localhost:5173"},
	}

	h := NewHandlers(flows, cache, v, exporter, cfg, logger)
	return &testServer{srv: NewServer(h), flows: flows}
}

func memoryExporter(t *testing.T) *export.Service {
	t.Helper()
	exporter, err := export.New(&export.Config{Type: "memory"})
	if err != nil {
		t.Fatalf("export.New: %v", err)
	}
	return exporter
}

// seedGraph installs a small triggering graph: a -> {b, d}, b -> {c}.
func (ts *testServer) seedGraph(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	flows := []*types.Flow{
		{Slug: "a", Screens: []types.FlowScreen{{ScreenSlug: "home", AllowedTriggers: []string{"b", "d"}}}},
		{Slug: "b", Screens: []types.FlowScreen{{ScreenSlug: "detail", AllowedTriggers: []string{"c"}}}},
		{Slug: "c"},
		{Slug: "d"},
	}
	for _, f := range flows {
		if err := ts.flows.CreateFlow(ctx, f); err != nil {
			t.Fatalf("CreateFlow(%s): %v", f.Slug, err)
		}
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal request body: %v", err)
			}
			rdr = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func testEnv() types.Environment {
	return types.Environment{Platform: "ios", AppVersion: "3.0.0", SubscriptionTier: "free"}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/health", "/healthz"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}

	rec := ts.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ready status = %d, want %d", rec.Code, http.StatusOK)
	}
	var ready struct {
		Status       string `json:"status"`
		CacheVersion int64  `json:"cache_version"`
	}
	decodeBody(t, rec, &ready)
	if ready.Status != "ready" || ready.CacheVersion != 1 {
		t.Errorf("ready = %+v, want status ready version 1", ready)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "# HELP") {
		t.Error("metrics exposition is empty")
	}
}

func TestLockLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedGraph(t)

	acquireReq := AcquireLockRequest{GraphID: "main", Environment: testEnv()}

	rec := ts.do(t, http.MethodPost, "/api/v1/locks/write", acquireReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("acquire status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var acquired LockResponse
	decodeBody(t, rec, &acquired)
	if acquired.Lock == nil || acquired.Lock.Kind != reachstore.LockKindWriter {
		t.Fatalf("lock = %+v, want writer lock", acquired.Lock)
	}
	if acquired.Outcome != reachstore.OutcomeInitialized {
		t.Errorf("outcome = %q, want %q", acquired.Outcome, reachstore.OutcomeInitialized)
	}
	if !acquired.State.Writer {
		t.Errorf("state = %+v, want writer held", acquired.State)
	}

	t.Run("second writer conflicts", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/locks/write", acquireReq)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeAlreadyLocked {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeAlreadyLocked)
		}
	})

	t.Run("release", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/locks/release", ReleaseLockRequest{Lock: acquired.Lock})
		if rec.Code != http.StatusOK {
			t.Fatalf("release status = %d (body %s)", rec.Code, rec.Body.String())
		}
		var released ReleaseLockResponse
		decodeBody(t, rec, &released)
		if released.State.Writer || released.State.Readers != 0 {
			t.Errorf("state after release = %+v, want idle", released.State)
		}
	})

	t.Run("release again not held", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/locks/release", ReleaseLockRequest{Lock: acquired.Lock})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeNotHeld {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeNotHeld)
		}
	})
}

func TestLockRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{name: "missing graph id", path: "/api/v1/locks/write", body: AcquireLockRequest{}},
		{name: "malformed body", path: "/api/v1/locks/write", body: `{"graph_id":`},
		{name: "release without lock", path: "/api/v1/locks/release", body: ReleaseLockRequest{}},
		{name: "wait without graph id", path: "/api/v1/locks/wait", body: WaitLockRequest{Version: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestWaitLockChanged(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("timeout", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/locks/wait", WaitLockRequest{
			GraphID:   "main",
			Version:   1,
			Filter:    "writer-lockable",
			TimeoutMS: 50,
		})
		if rec.Code != http.StatusRequestTimeout {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusRequestTimeout, rec.Body.String())
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeWaitTimeout {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeWaitTimeout)
		}
	})

	t.Run("unknown filter", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/locks/wait", WaitLockRequest{
			GraphID: "main",
			Version: 1,
			Filter:  "bogus",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestFlowCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	flow := types.Flow{
		Slug:    "home",
		Title:   "Home",
		Screens: []types.FlowScreen{{ScreenSlug: "root", AllowedTriggers: []string{"settings"}}},
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/flows", flow)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}

	t.Run("duplicate conflicts", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/flows", flow)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeFlowExists {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeFlowExists)
		}
	})

	t.Run("create bumps version", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/cache/version", nil)
		var resp struct {
			Version int64 `json:"version"`
		}
		decodeBody(t, rec, &resp)
		if resp.Version != 2 {
			t.Errorf("version = %d, want 2", resp.Version)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/flows/home", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var got types.Flow
		decodeBody(t, rec, &got)
		if got.Slug != "home" || got.Title != "Home" {
			t.Errorf("flow = %+v", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/flows/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/flows", nil)
		var resp struct {
			Flows []*types.Flow `json:"flows"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Flows) != 1 {
			t.Errorf("got %d flows, want 1", len(resp.Flows))
		}
	})

	t.Run("update", func(t *testing.T) {
		updated := flow
		updated.Title = "Home v2"
		rec := ts.do(t, http.MethodPut, "/api/v1/flows/home", updated)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}

		rec = ts.do(t, http.MethodGet, "/api/v1/flows/home", nil)
		var got types.Flow
		decodeBody(t, rec, &got)
		if got.Title != "Home v2" {
			t.Errorf("title = %q after update", got.Title)
		}
	})

	t.Run("update slug mismatch", func(t *testing.T) {
		other := flow
		other.Slug = "other"
		rec := ts.do(t, http.MethodPut, "/api/v1/flows/home", other)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("schema rejects bad document", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/flows", `{"slug": "Bad Slug!"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeValidationFailed {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeValidationFailed)
		}
		if errResp.Details == nil {
			t.Error("validation failure carries no details")
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/v1/flows/home", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}

		rec = ts.do(t, http.MethodGet, "/api/v1/flows/home", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestScreenEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	screen := types.Screen{
		Slug:   "promo",
		Title:  "Promo",
		Schema: json.RawMessage(`{"type":"object","properties":{"cta":{"type":"string","x-trigger-target":true}}}`),
	}

	rec := ts.do(t, http.MethodPut, "/api/v1/screens/promo", screen)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d (body %s)", rec.Code, rec.Body.String())
	}

	t.Run("get round trip", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/screens/promo", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var got types.Screen
		decodeBody(t, rec, &got)
		if got.Slug != "promo" || got.Title != "Promo" {
			t.Errorf("screen = %+v", got)
		}
		if !bytes.Contains(got.Schema, []byte("x-trigger-target")) {
			t.Error("schema lost trigger annotation")
		}
	})

	t.Run("invalid schema shape", func(t *testing.T) {
		rec := ts.do(t, http.MethodPut, "/api/v1/screens/bad", `{"slug": "bad", "schema": "cta"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.do(t, http.MethodDelete, "/api/v1/screens/promo", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}

		rec = ts.do(t, http.MethodGet, "/api/v1/screens/promo", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status after delete = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestQueryReachable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedGraph(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/reachability/query", QueryRequest{
		GraphID:     "main",
		Environment: testEnv(),
		Source:      "a",
		MaxSteps:    1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var res graphcache.QueryResult
	decodeBody(t, rec, &res)
	if len(res.Targets) != 2 || res.Targets[0] != "b" || res.Targets[1] != "d" {
		t.Errorf("targets = %v, want [b d]", res.Targets)
	}
	if res.Version != 1 {
		t.Errorf("version = %d, want 1", res.Version)
	}

	t.Run("unknown source", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reachability/query", QueryRequest{
			GraphID:     "main",
			Environment: testEnv(),
			Source:      "ghost",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestLockedReadCycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedGraph(t)
	env := testEnv()

	// Acquire writer
	rec := ts.do(t, http.MethodPost, "/api/v1/locks/write", AcquireLockRequest{GraphID: "main", Environment: env})
	if rec.Code != http.StatusOK {
		t.Fatalf("acquire status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var acquired LockResponse
	decodeBody(t, rec, &acquired)

	// Compute the unit
	rec = ts.do(t, http.MethodPost, "/api/v1/reachability/transfer", TransferRequest{
		Lock:        acquired.Lock,
		Environment: env,
		Source:      "a",
		MaxSteps:    0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer status = %d (body %s)", rec.Code, rec.Body.String())
	}

	// Page through targets
	rec = ts.do(t, http.MethodPost, "/api/v1/reachability/targets", TargetsRequest{
		Lock:   acquired.Lock,
		Source: "a",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("targets status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var page graphcache.ReachablePage
	decodeBody(t, rec, &page)
	if len(page.Targets) != 3 {
		t.Fatalf("targets = %v, want [b c d]", page.Targets)
	}

	// Paths for the two-hop target
	rec = ts.do(t, http.MethodPost, "/api/v1/reachability/paths", PathsRequest{
		Lock:   acquired.Lock,
		Source: "a",
		Target: "c",
		Limit:  10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("paths status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var paths graphcache.PathsPage
	decodeBody(t, rec, &paths)
	if paths.Total != 2 {
		t.Errorf("paths total = %d, want 2 (one path, one done marker)", paths.Total)
	}
	if len(paths.Items) == 0 || !paths.Items[len(paths.Items)-1].IsDone() {
		t.Errorf("paths items = %+v, want done marker tail", paths.Items)
	}

	// Release
	rec = ts.do(t, http.MethodPost, "/api/v1/locks/release", ReleaseLockRequest{Lock: acquired.Lock})
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d", rec.Code)
	}

	// Readers can use the computed snapshot now
	rec = ts.do(t, http.MethodPost, "/api/v1/locks/read", AcquireLockRequest{GraphID: "main", Environment: env})
	if rec.Code != http.StatusOK {
		t.Fatalf("read acquire status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var reader LockResponse
	decodeBody(t, rec, &reader)

	t.Run("transfer requires writer", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reachability/transfer", TransferRequest{
			Lock:        reader.Lock,
			Environment: env,
			Source:      "a",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusConflict, rec.Body.String())
		}
		var errResp ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.Error != ErrCodeNotHeld {
			t.Errorf("error code = %q, want %q", errResp.Error, ErrCodeNotHeld)
		}
	})

	ts.do(t, http.MethodPost, "/api/v1/locks/release", ReleaseLockRequest{Lock: reader.Lock})
}

func TestFlowDeletable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedGraph(t)

	t.Run("referenced flow is blocked", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/flows/c/deletable?platform=ios&subscription_tier=free", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}
		var resp DeletableResponse
		decodeBody(t, rec, &resp)
		if resp.Deletable {
			t.Error("flow c reported deletable while b still triggers it")
		}
		if len(resp.BlockedBy) == 0 {
			t.Error("blocked_by is empty")
		}
	})

	t.Run("orphan flow is deletable", func(t *testing.T) {
		if err := ts.flows.CreateFlow(context.Background(), &types.Flow{Slug: "orphan"}); err != nil {
			t.Fatalf("CreateFlow: %v", err)
		}
		rec := ts.do(t, http.MethodGet, "/api/v1/flows/orphan/deletable?platform=ios&subscription_tier=free", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}
		var resp DeletableResponse
		decodeBody(t, rec, &resp)
		if !resp.Deletable {
			t.Errorf("orphan reported blocked by %v", resp.BlockedBy)
		}
	})

	t.Run("unknown flow", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/flows/ghost/deletable", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestEvictCache(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/cache/evict", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evict status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Version int64 `json:"version"`
	}
	decodeBody(t, rec, &resp)
	if resp.Version != 2 {
		t.Errorf("version = %d, want 2", resp.Version)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/evict", EvictRequest{GraphID: "main", Reason: "definitions changed"})
	decodeBody(t, rec, &resp)
	if resp.Version != 3 {
		t.Errorf("version = %d, want 3", resp.Version)
	}
}

func TestReportEndpoints(t *testing.T) {
	ts := newTestServer(t, memoryExporter(t))
	ts.seedGraph(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/reports", CreateReportRequest{
		GraphID:     "main",
		Environment: testEnv(),
		Source:      "a",
		MaxSteps:    1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create report status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var created CreateReportResponse
	decodeBody(t, rec, &created)
	if !strings.Contains(created.Key, "reports/main/a/") {
		t.Errorf("report key = %q, want reports/main/a/ prefix", created.Key)
	}
	if created.Report == nil || created.Report.Size == 0 {
		t.Errorf("report ref = %+v", created.Report)
	}

	t.Run("list", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reports?graph_id=main", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Reports []*export.ReportRef `json:"reports"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Reports) != 1 {
			t.Errorf("got %d reports, want 1", len(resp.Reports))
		}
	})

	t.Run("latest", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reports/latest?graph_id=main&source=a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}
		var resp struct {
			Report *export.Report `json:"report"`
		}
		decodeBody(t, rec, &resp)
		if resp.Report == nil || len(resp.Report.Targets) != 2 {
			t.Errorf("latest report = %+v, want targets [b d]", resp.Report)
		}
	})

	t.Run("latest for unknown source", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reports/latest?graph_id=main&source=ghost", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestReportsUnconfigured(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedGraph(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/reports", CreateReportRequest{
		GraphID: "main",
		Source:  "a",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flows/ghost", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("response X-Request-ID = %q, want req-123", got)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.RequestID != "req-123" {
		t.Errorf("error request_id = %q, want req-123", errResp.RequestID)
	}
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flows", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
