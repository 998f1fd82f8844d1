package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/flexinfer/flowreach/internal/config"
	"github.com/flexinfer/flowreach/internal/export"
	"github.com/flexinfer/flowreach/internal/flowstore"
	"github.com/flexinfer/flowreach/internal/graphcache"
	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/internal/validator"
	"github.com/flexinfer/flowreach/pkg/types"
)

// defaultGraphID is the graph used when a request does not name one.
const defaultGraphID = "main"

// presignExpiry bounds report download URLs.
const presignExpiry = 15 * time.Minute

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	flows     flowstore.Store
	cache     *graphcache.Service
	validator *validator.Validator
	exporter  *export.Service
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance. validator and exporter may
// be nil; the endpoints depending on them degrade or 503 accordingly.
func NewHandlers(flows flowstore.Store, cache *graphcache.Service, v *validator.Validator, exporter *export.Service, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		flows:     flows,
		cache:     cache,
		validator: v,
		exporter:  exporter,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the cache store.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := h.cache.Version(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "cache store unhealthy", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ready",
		"cache_version": version,
	})
}

// --- Locks ---

// AcquireLockRequest is the request body for acquiring a lock.
type AcquireLockRequest struct {
	GraphID     string            `json:"graph_id"`
	Environment types.Environment `json:"environment"`
}

// LockResponse is the response body after acquiring a lock.
type LockResponse struct {
	Lock    *reachstore.Lock          `json:"lock"`
	Outcome reachstore.AcquireOutcome `json:"outcome"`
	State   reachstore.LockState      `json:"state"`
}

// AcquireWriteLock handles POST /api/v1/locks/write
func (h *Handlers) AcquireWriteLock(w http.ResponseWriter, r *http.Request) {
	h.acquireLock(w, r, h.cache.AcquireWriteLock)
}

// AcquireReadLock handles POST /api/v1/locks/read
func (h *Handlers) AcquireReadLock(w http.ResponseWriter, r *http.Request) {
	h.acquireLock(w, r, h.cache.AcquireReadLock)
}

func (h *Handlers) acquireLock(w http.ResponseWriter, r *http.Request, acquire func(ctx context.Context, graphID string, env types.Environment, now time.Time) (*reachstore.Acquired, error)) {
	ctx := r.Context()

	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.GraphID == "" {
		h.respondValidation(w, r, "graph_id is required")
		return
	}

	acq, err := acquire(ctx, req.GraphID, req.Environment, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "acquire lock", err)
		return
	}

	h.respondJSON(w, http.StatusOK, LockResponse{
		Lock:    acq.Lock,
		Outcome: acq.Outcome,
		State:   acq.State,
	})
}

// ReleaseLockRequest is the request body for releasing a lock.
type ReleaseLockRequest struct {
	Lock *reachstore.Lock `json:"lock"`
}

// ReleaseLockResponse reports the lock state left behind by a release.
type ReleaseLockResponse struct {
	Result string               `json:"result"`
	State  reachstore.LockState `json:"state"`
}

// ReleaseLock handles POST /api/v1/locks/release
func (h *Handlers) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Lock == nil {
		h.respondValidation(w, r, "lock is required")
		return
	}

	state, err := h.cache.ReleaseLock(ctx, req.Lock, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "release lock", err)
		return
	}

	h.respondJSON(w, http.StatusOK, ReleaseLockResponse{Result: "released", State: state})
}

// WaitLockRequest is the request body for waiting on a lock change.
type WaitLockRequest struct {
	GraphID   string `json:"graph_id"`
	Version   int64  `json:"version"`
	Filter    string `json:"filter"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// WaitLockChanged handles POST /api/v1/locks/wait
func (h *Handlers) WaitLockChanged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req WaitLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.GraphID == "" {
		h.respondValidation(w, r, "graph_id is required")
		return
	}

	filter, err := graphcache.ParseFilter(req.Filter)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid filter", err)
		return
	}

	version := req.Version
	if version == 0 {
		version, err = h.cache.Version(ctx)
		if err != nil {
			h.respondError(w, r, http.StatusInternalServerError, "failed to read cache version", err)
			return
		}
	}

	change, err := h.cache.ListenForLockChanged(ctx, req.GraphID, version, filter, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		h.respondDomainError(w, r, "wait for lock change", err)
		return
	}

	h.respondJSON(w, http.StatusOK, change)
}

// --- Reachability ---

// TransferRequest is the request body for computing a reachability unit.
type TransferRequest struct {
	Lock        *reachstore.Lock  `json:"lock"`
	Environment types.Environment `json:"environment"`
	Source      string            `json:"source"`
	MaxSteps    int               `json:"max_steps"`
	Inverted    bool              `json:"inverted"`
}

// TransferReachable handles POST /api/v1/reachability/transfer
func (h *Handlers) TransferReachable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Lock == nil {
		h.respondValidation(w, r, "lock is required")
		return
	}
	if req.Source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}

	if _, err := h.flows.GetFlow(ctx, req.Source); err != nil {
		h.respondDomainError(w, r, "resolve source flow", err)
		return
	}

	if err := h.cache.TransferReachable(ctx, req.Lock, req.Environment, req.Source, req.MaxSteps, req.Inverted, time.Now().UTC()); err != nil {
		h.respondDomainError(w, r, "transfer reachable set", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "computed",
		"source":    req.Source,
		"max_steps": req.MaxSteps,
		"inverted":  req.Inverted,
	})
}

// TargetsRequest is the request body for one page of reachable targets.
type TargetsRequest struct {
	Lock     *reachstore.Lock `json:"lock"`
	Source   string           `json:"source"`
	Cursor   uint64           `json:"cursor"`
	MaxSteps int              `json:"max_steps"`
	Inverted bool             `json:"inverted"`
}

// ReadTargets handles POST /api/v1/reachability/targets
func (h *Handlers) ReadTargets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Lock == nil {
		h.respondValidation(w, r, "lock is required")
		return
	}
	if req.Source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}

	page, err := h.cache.ReadReachablePage(ctx, req.Lock, req.Source, req.MaxSteps, req.Inverted, req.Cursor, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "read reachable targets", err)
		return
	}

	h.respondJSON(w, http.StatusOK, page)
}

// PathsRequest is the request body for one window of a target's paths.
type PathsRequest struct {
	Lock     *reachstore.Lock `json:"lock"`
	Source   string           `json:"source"`
	Target   string           `json:"target"`
	MaxSteps int              `json:"max_steps"`
	Inverted bool             `json:"inverted"`
	Offset   int64            `json:"offset"`
	Limit    int64            `json:"limit"`
}

// ReadPaths handles POST /api/v1/reachability/paths
func (h *Handlers) ReadPaths(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PathsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Lock == nil {
		h.respondValidation(w, r, "lock is required")
		return
	}
	if req.Source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}
	if req.Target == "" {
		h.respondValidation(w, r, "target is required")
		return
	}

	page, err := h.cache.ReadPathsPage(ctx, req.Lock, req.Source, req.Target, req.MaxSteps, req.Inverted, req.Offset, req.Limit, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "read paths", err)
		return
	}

	h.respondJSON(w, http.StatusOK, page)
}

// QueryRequest is the request body for a full reachability query.
type QueryRequest struct {
	GraphID     string            `json:"graph_id"`
	Environment types.Environment `json:"environment"`
	Source      string            `json:"source"`
	MaxSteps    int               `json:"max_steps"`
	Inverted    bool              `json:"inverted"`
	WaitMS      int64             `json:"wait_ms"`
}

// QueryReachable handles POST /api/v1/reachability/query
func (h *Handlers) QueryReachable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.GraphID == "" {
		h.respondValidation(w, r, "graph_id is required")
		return
	}
	if req.Source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}

	if _, err := h.flows.GetFlow(ctx, req.Source); err != nil {
		h.respondDomainError(w, r, "resolve source flow", err)
		return
	}

	res, err := h.cache.QueryReachable(ctx, req.GraphID, req.Environment, req.Source, req.MaxSteps, req.Inverted, time.Duration(req.WaitMS)*time.Millisecond, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "query reachable set", err)
		return
	}

	h.respondJSON(w, http.StatusOK, res)
}

// --- Flow Definitions ---

// ListFlows handles GET /api/v1/flows
func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flows, err := h.flows.ListFlows(ctx)
	recordFlowOp("list", err)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list flows", err)
		return
	}
	if flows == nil {
		flows = []*types.Flow{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

// CreateFlow handles POST /api/v1/flows
func (h *Handlers) CreateFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flow, ok := h.decodeFlow(w, r, "")
	if !ok {
		return
	}

	err := h.flows.CreateFlow(ctx, flow)
	recordFlowOp("create", err)
	if err != nil {
		h.respondDomainError(w, r, "create flow", err)
		return
	}

	if !h.evictAfterMutation(w, r, "flow created: "+flow.Slug) {
		return
	}

	h.respondJSON(w, http.StatusCreated, flow)
}

// GetFlow handles GET /api/v1/flows/{slug}
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	flow, err := h.flows.GetFlow(ctx, slug)
	recordFlowOp("get", err)
	if err != nil {
		h.respondDomainError(w, r, "get flow", err)
		return
	}

	h.respondJSON(w, http.StatusOK, flow)
}

// UpdateFlow handles PUT /api/v1/flows/{slug}
func (h *Handlers) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	flow, ok := h.decodeFlow(w, r, slug)
	if !ok {
		return
	}

	err := h.flows.UpdateFlow(ctx, flow)
	recordFlowOp("update", err)
	if err != nil {
		h.respondDomainError(w, r, "update flow", err)
		return
	}

	if !h.evictAfterMutation(w, r, "flow updated: "+flow.Slug) {
		return
	}

	h.respondJSON(w, http.StatusOK, flow)
}

// DeleteFlow handles DELETE /api/v1/flows/{slug}
func (h *Handlers) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	err := h.flows.DeleteFlow(ctx, slug)
	recordFlowOp("delete", err)
	if err != nil {
		h.respondDomainError(w, r, "delete flow", err)
		return
	}

	if !h.evictAfterMutation(w, r, "flow deleted: "+slug) {
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeletableResponse answers whether a flow can go away safely.
type DeletableResponse struct {
	Slug      string   `json:"slug"`
	Deletable bool     `json:"deletable"`
	BlockedBy []string `json:"blocked_by"`
	Version   int64    `json:"version"`
}

// FlowDeletable handles GET /api/v1/flows/{slug}/deletable
func (h *Handlers) FlowDeletable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	if _, err := h.flows.GetFlow(ctx, slug); err != nil {
		h.respondDomainError(w, r, "get flow", err)
		return
	}

	graphID := r.URL.Query().Get("graph_id")
	if graphID == "" {
		graphID = defaultGraphID
	}
	env := environmentFromQuery(r)

	deletable, blockedBy, err := h.cache.Deletable(ctx, graphID, env, slug, time.Now().UTC())
	if err != nil {
		h.respondDomainError(w, r, "check deletability", err)
		return
	}
	if blockedBy == nil {
		blockedBy = []string{}
	}

	version, err := h.cache.Version(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to read cache version", err)
		return
	}

	h.respondJSON(w, http.StatusOK, DeletableResponse{
		Slug:      slug,
		Deletable: deletable,
		BlockedBy: blockedBy,
		Version:   version,
	})
}

// decodeFlow reads, validates, and decodes a flow body. A non-empty slug
// pins the document to a path; a conflicting body slug is rejected.
func (h *Handlers) decodeFlow(w http.ResponseWriter, r *http.Request, slug string) (*types.Flow, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return nil, false
	}

	if h.validator != nil {
		if result := h.validator.ValidateFlowJSON(body); !result.Valid {
			writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
				"flow document is invalid", map[string]interface{}{"errors": result.Errors})
			return nil, false
		}
	}

	var flow types.Flow
	if err := json.Unmarshal(body, &flow); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return nil, false
	}

	if slug != "" {
		if flow.Slug != "" && flow.Slug != slug {
			h.respondValidation(w, r, "slug in body does not match path")
			return nil, false
		}
		flow.Slug = slug
	}

	if err := flowstore.ValidateFlow(&flow); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid flow", err)
		return nil, false
	}

	return &flow, true
}

// --- Screen Definitions ---

// PutScreen handles PUT /api/v1/screens/{slug}
func (h *Handlers) PutScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateScreenJSON(body); !result.Valid {
			writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
				"screen document is invalid", map[string]interface{}{"errors": result.Errors})
			return
		}
	}

	var screen types.Screen
	if err := json.Unmarshal(body, &screen); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if screen.Slug != "" && screen.Slug != slug {
		h.respondValidation(w, r, "slug in body does not match path")
		return
	}
	screen.Slug = slug

	if err := flowstore.ValidateScreen(&screen); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid screen", err)
		return
	}

	perr := h.flows.PutScreen(ctx, &screen)
	recordFlowOp("put_screen", perr)
	if perr != nil {
		h.respondDomainError(w, r, "store screen", perr)
		return
	}

	if !h.evictAfterMutation(w, r, "screen updated: "+slug) {
		return
	}

	h.respondJSON(w, http.StatusOK, screen)
}

// GetScreen handles GET /api/v1/screens/{slug}
func (h *Handlers) GetScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	screen, err := h.flows.GetScreen(ctx, slug)
	recordFlowOp("get_screen", err)
	if err != nil {
		h.respondDomainError(w, r, "get screen", err)
		return
	}

	h.respondJSON(w, http.StatusOK, screen)
}

// DeleteScreen handles DELETE /api/v1/screens/{slug}
func (h *Handlers) DeleteScreen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]

	err := h.flows.DeleteScreen(ctx, slug)
	recordFlowOp("delete_screen", err)
	if err != nil {
		h.respondDomainError(w, r, "delete screen", err)
		return
	}

	if !h.evictAfterMutation(w, r, "screen deleted: "+slug) {
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Cache Control ---

// EvictRequest is the request body for a manual cache eviction.
type EvictRequest struct {
	GraphID string `json:"graph_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EvictCache handles POST /api/v1/cache/evict
func (h *Handlers) EvictCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	scope := "manual eviction"
	if req.Reason != "" {
		scope = req.Reason
	}
	if req.GraphID != "" {
		scope += " (graph " + req.GraphID + ")"
	}

	version, err := h.cache.Evict(ctx, scope)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to evict cache", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"version": version})
}

// CacheVersion handles GET /api/v1/cache/version
func (h *Handlers) CacheVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := h.cache.Version(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to read cache version", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"version": version})
}

// --- Impact Reports ---

// CreateReportRequest is the request body for exporting an impact report.
type CreateReportRequest struct {
	GraphID     string            `json:"graph_id"`
	Environment types.Environment `json:"environment"`
	Source      string            `json:"source"`
	MaxSteps    int               `json:"max_steps"`
	Inverted    bool              `json:"inverted"`
}

// CreateReportResponse points at the exported report.
type CreateReportResponse struct {
	Key    string            `json:"key"`
	Report *export.ReportRef `json:"report"`
	URL    string            `json:"url,omitempty"`
}

// CreateReport handles POST /api/v1/reports
func (h *Handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.exporter == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail,
			"report export is not configured", nil)
		return
	}

	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.GraphID == "" {
		h.respondValidation(w, r, "graph_id is required")
		return
	}
	if req.Source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}

	if _, err := h.flows.GetFlow(ctx, req.Source); err != nil {
		h.respondDomainError(w, r, "resolve source flow", err)
		return
	}

	now := time.Now().UTC()
	res, err := h.cache.QueryReachable(ctx, req.GraphID, req.Environment, req.Source, req.MaxSteps, req.Inverted, 0, now)
	if err != nil {
		h.respondDomainError(w, r, "query reachable set", err)
		return
	}

	ref, err := h.exporter.ExportReport(ctx, &export.Report{
		GraphID:     req.GraphID,
		Environment: req.Environment,
		Source:      res.Source,
		MaxSteps:    res.MaxSteps,
		Inverted:    res.Inverted,
		Targets:     res.Targets,
		Version:     res.Version,
		GeneratedAt: now,
	})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to export report", err)
		return
	}

	resp := CreateReportResponse{Key: ref.URI, Report: ref}
	if url, err := h.exporter.DownloadURL(ctx, ref, presignExpiry); err == nil {
		resp.URL = url
	} else {
		h.logger.Debug("report presign unavailable", "error", err)
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

// ListReports handles GET /api/v1/reports
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.exporter == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail,
			"report export is not configured", nil)
		return
	}

	graphID := r.URL.Query().Get("graph_id")
	if graphID == "" {
		graphID = defaultGraphID
	}
	source := r.URL.Query().Get("source")

	refs, err := h.exporter.ListReports(ctx, graphID, source)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list reports", err)
		return
	}
	if refs == nil {
		refs = []*export.ReportRef{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"reports": refs})
}

// LatestReport handles GET /api/v1/reports/latest
func (h *Handlers) LatestReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.exporter == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail,
			"report export is not configured", nil)
		return
	}

	graphID := r.URL.Query().Get("graph_id")
	if graphID == "" {
		graphID = defaultGraphID
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		h.respondValidation(w, r, "source is required")
		return
	}

	rep, ref, err := h.exporter.LatestReport(ctx, graphID, source)
	if err != nil {
		if errors.Is(err, export.ErrNoReports) {
			writeErrorResponse(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to load report", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": rep,
		"ref":    ref,
	})
}

// --- Helpers ---

// environmentFromQuery assembles a trigger environment from query
// parameters, for GET endpoints that cannot carry a body.
func environmentFromQuery(r *http.Request) types.Environment {
	q := r.URL.Query()
	env := types.Environment{
		Platform:         q.Get("platform"),
		AppVersion:       q.Get("app_version"),
		SubscriptionTier: q.Get("subscription_tier"),
	}
	if v, err := strconv.Atoi(q.Get("account_age_days")); err == nil {
		env.AccountAgeDays = v
	}
	if v, err := strconv.Atoi(q.Get("last_feedback_score")); err == nil {
		env.LastFeedbackScore = v
	}
	return env
}

// recordFlowOp counts a definition-store operation by outcome.
func recordFlowOp(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.FlowStoreOperations.WithLabelValues(operation, result).Inc()
}

// evictAfterMutation bumps the cache version after a definition change.
// The mutation has already landed, so a failed bump is a 500: stale
// snapshots would otherwise keep serving the old graph.
func (h *Handlers) evictAfterMutation(w http.ResponseWriter, r *http.Request, scope string) bool {
	if _, err := h.cache.Evict(r.Context(), scope); err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "definition stored but cache eviction failed", err)
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "error", err, "status", status)
	} else {
		h.logger.Warn(message, "error", err, "status", status)
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, map[string]interface{}{
		"cause": err.Error(),
	})
}

// respondDomainError translates a domain sentinel into its HTTP shape.
func (h *Handlers) respondDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, "error", err)
	} else {
		h.logger.Warn(op, "error", err)
	}
	writeErrorResponse(w, r, status, code, err.Error(), nil)
}

func (h *Handlers) respondValidation(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, ErrCodeBadRequest, message, nil)
}
