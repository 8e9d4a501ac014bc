// Package handler serves the searcher's HTTP API over an indexing engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/tracing"
)

const (
	// maxBodyBytes bounds document upload bodies.
	maxBodyBytes = 8 << 20
	// slowSearch promotes a search's span tree from debug to warn.
	slowSearch = 500 * time.Millisecond
)

// Engine is the part of indexer.Engine the API needs.
type Engine interface {
	Schema() *field.Schema
	AddDocument(fields map[string]field.Value) (document.ID, error)
	Commit(ctx context.Context) (*snapshot.Handle, error)
	AcquireSnapshot() *snapshot.Handle
	Search(ctx context.Context, h *snapshot.Handle, q query.Query, k int) (*executor.Result, error)
	MaybeRefresh() bool
	MaybeRefreshAndAcquire() (bool, *snapshot.Handle)
	MaybeRefreshBlocking(ctx context.Context) error
	Stats() indexer.Stats
}

type Handler struct {
	engine Engine
	cache  *cache.QueryCache
	logger *slog.Logger
}

// New returns a Handler. queryCache may be nil.
func New(engine Engine, queryCache *cache.QueryCache) *Handler {
	return &Handler{
		engine: engine,
		cache:  queryCache,
		logger: logger.WithComponent("search-handler"),
	}
}

type addDocumentsRequest struct {
	Documents []map[string]any `json:"documents"`
	Commit    bool             `json:"commit"`
}

type addDocumentsResponse struct {
	IDs        []document.ID `json:"ids"`
	Generation *uint64       `json:"generation,omitempty"`
}

// AddDocuments buffers a batch of documents. Every document is validated
// before any is added, so a bad batch adds nothing.
func (h *Handler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err))
		return
	}
	if len(req.Documents) == 0 {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "documents must not be empty"))
		return
	}
	schema := h.engine.Schema()
	batch := make([]map[string]field.Value, 0, len(req.Documents))
	for i, raw := range req.Documents {
		fields, err := schema.Coerce(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("document %d: %w", i, err))
			return
		}
		batch = append(batch, fields)
	}

	resp := addDocumentsResponse{IDs: make([]document.ID, 0, len(batch))}
	for _, fields := range batch {
		id, err := h.engine.AddDocument(fields)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.IDs = append(resp.IDs, id)
	}
	if req.Commit {
		snap, err := h.engine.Commit(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		gen := snap.Generation()
		_ = snap.Release()
		resp.Generation = &gen
	}
	logger.FromContext(r.Context()).Info("documents added", "count", len(resp.IDs), "committed", req.Commit)
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetDocument returns a document visible in the current snapshot.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "id must be an unsigned integer"))
		return
	}
	handle := h.engine.AcquireSnapshot()
	defer handle.Release()
	snap, err := handle.Snapshot()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, ok := snap.Doc(id)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: %d at generation %d", apperrors.ErrDocumentNotFound, id, snap.Generation()))
		return
	}
	hit := executor.Hit{DocID: id, Fields: make(map[string]any, doc.Len())}
	for name, v := range doc.Fields() {
		hit.Fields[name] = v.Any()
	}
	h.writeJSON(w, http.StatusOK, hit)
}

type commitResponse struct {
	Generation uint64 `json:"generation"`
	DocCount   uint64 `json:"doc_count"`
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Commit(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer snap.Release()
	resp := commitResponse{Generation: snap.Generation()}
	if s, err := snap.Snapshot(); err == nil {
		resp.DocCount = s.DocCount()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type searchResponse struct {
	*executor.Result
	CacheHit  bool  `json:"cache_hit"`
	LatencyMs int64 `json:"latency_ms"`
}

// Search runs the q parameter against the current snapshot.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	raw := r.URL.Query().Get("q")
	if raw == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	ctx, span := tracing.Start(ctx, "search")
	defer func() {
		span.End()
		span.Log(logger.FromContext(ctx), slowSearch)
	}()

	_, parseSpan := tracing.Start(ctx, "parse")
	q, err := parser.Parse(raw)
	parseSpan.End()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttr("query", q.String())

	handle := h.engine.AcquireSnapshot()
	defer handle.Release()
	span.SetAttr("generation", handle.Generation())
	compute := func() (*executor.Result, error) {
		_, execSpan := tracing.Start(ctx, "execute")
		defer execSpan.End()
		return h.engine.Search(ctx, handle, q, limit)
	}
	var (
		result   *executor.Result
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, handle.Generation(), q.String(), limit, compute)
	} else {
		result, err = compute()
	}
	span.SetAttr("cache_hit", cacheHit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := searchResponse{Result: result, CacheHit: cacheHit, LatencyMs: time.Since(start).Milliseconds()}
	logger.FromContext(ctx).Info("search completed",
		"query", result.Query,
		"generation", result.Generation,
		"total_matches", result.TotalMatches,
		"returned", len(result.Hits),
		"cache_hit", cacheHit,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Mode       string  `json:"mode"`
	Changed    *bool   `json:"changed,omitempty"`
	Generation uint64  `json:"generation"`
	DocCount   *uint64 `json:"doc_count,omitempty"`
}

// Refresh exposes the three refresh modes: check reports whether a newer
// generation exists, acquire also reports the document count of the
// snapshot it picked up, and blocking waits for an in-flight commit.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "check"
	}
	resp := refreshResponse{Mode: mode}
	switch mode {
	case "check":
		changed := h.engine.MaybeRefresh()
		resp.Changed = &changed
		resp.Generation = h.engine.Stats().Snapshot.Generation
	case "acquire":
		changed, handle := h.engine.MaybeRefreshAndAcquire()
		defer handle.Release()
		resp.Changed = &changed
		resp.Generation = handle.Generation()
		if s, err := handle.Snapshot(); err == nil {
			n := s.DocCount()
			resp.DocCount = &n
		}
	case "blocking":
		if err := h.engine.MaybeRefreshBlocking(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Generation = h.engine.Stats().Snapshot.Generation
	default:
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown refresh mode %q", mode))
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Server-side failures are logged and
// reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrTimeout) && !errors.Is(err, apperrors.ErrClosed) {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
