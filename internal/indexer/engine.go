package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

// SegmentSink persists a built segment before it becomes visible. Write
// returns the name the segment was stored under; Remove discards a segment
// that was written but never published.
type SegmentSink interface {
	Write(seg *index.Segment) (string, error)
	Remove(name string) error
}

// CommitInfo describes one published generation.
type CommitInfo struct {
	Generation  uint64        `json:"generation"`
	DocCount    int           `json:"doc_count"`
	FirstID     document.ID   `json:"first_id"`
	LastID      document.ID   `json:"last_id"`
	Segment     string        `json:"segment,omitempty"`
	Reloaded    bool          `json:"reloaded,omitempty"`
	Duration    time.Duration `json:"duration"`
	CommittedAt time.Time     `json:"committed_at"`
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSink overrides the segment sink chosen from the config.
func WithSink(s SegmentSink) Option {
	return func(e *Engine) { e.sink = s }
}

// AsFollower makes the engine read-only: it loads segments written by the
// process that owns the data directory and rejects document adds, so only
// one writer ever assigns IDs for that directory.
func AsFollower() Option {
	return func(e *Engine) {
		e.follower = true
		e.sink = nil
	}
}

// Engine ties the document buffer, index builder, snapshot manager and query
// executor together.
type Engine struct {
	cfg     config.Config
	schema  *field.Schema
	store   *document.Store
	mgr     *snapshot.Manager
	exec    *executor.Executor
	sink    SegmentSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	follower bool

	listenersMu sync.RWMutex
	listeners   []func(CommitInfo)

	loadedMu sync.Mutex
	loaded   map[string]struct{}

	closed atomic.Bool
}

// NewEngine builds an engine from cfg. With indexer.persist set, segment
// files already in the data directory are loaded as the first generation and
// new IDs continue after them.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	schema, err := field.SchemaFromConfig(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("building schema: %w", err)
	}
	e := &Engine{
		cfg:    *cfg,
		schema: schema,
		store:  document.NewStore(schema, 0),
		logger: logger.WithComponent("indexer"),
		loaded: make(map[string]struct{}),
	}
	if cfg.Indexer.Persist {
		c, err := segment.ParseCompression(cfg.Indexer.Compression)
		if err != nil {
			return nil, err
		}
		e.sink = segment.NewWriter(cfg.Indexer.DataDir, c)
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mgr = snapshot.NewManager(e.metrics)
	e.exec = executor.New(cfg.Search.DefaultLimit, cfg.Search.MaxResults, e.metrics)

	if cfg.Indexer.Persist {
		n, err := e.ReloadSegments(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading existing segments: %w", err)
		}
		e.logger.Info("segment recovery complete",
			"segments_loaded", n,
			"generation", e.mgr.Generation(),
			"next_id", e.store.NextID(),
		)
	}
	return e, nil
}

func (e *Engine) Schema() *field.Schema { return e.schema }

func (e *Engine) Manager() *snapshot.Manager { return e.mgr }

// OnCommit registers fn to run after every publish.
func (e *Engine) OnCommit(fn func(CommitInfo)) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenersMu.Unlock()
}

// AddDocument validates and buffers a document. It is not searchable until
// the next commit.
func (e *Engine) AddDocument(fields map[string]field.Value) (document.ID, error) {
	if e.closed.Load() {
		return 0, apperrors.ErrClosed
	}
	if e.follower {
		return 0, apperrors.ErrReadOnly
	}
	id, err := e.store.Add(fields)
	e.metrics.DocAdded(err == nil)
	if err != nil {
		return 0, err
	}
	pending := e.store.PendingCount()
	e.metrics.SetPending(pending)
	if limit := e.cfg.Indexer.MaxPending; limit > 0 && pending >= limit {
		h, err := e.TryCommit()
		switch {
		case err == nil:
			_ = h.Release()
		case errors.Is(err, apperrors.ErrCommitInProgress):
		default:
			e.logger.Error("threshold commit failed", "pending", pending, "error", err)
		}
	}
	return id, nil
}

// AddRaw coerces loosely typed values, as decoded from JSON or a data file,
// and adds the document.
func (e *Engine) AddRaw(raw map[string]any) (document.ID, error) {
	fields, err := e.schema.Coerce(raw)
	if err != nil {
		e.metrics.DocAdded(false)
		return 0, err
	}
	return e.AddDocument(fields)
}

func (e *Engine) PendingCount() int { return e.store.PendingCount() }

// Commit waits for any in-flight commit, then indexes the buffered documents
// and publishes them as a new generation. The returned handle is on the
// snapshot current after the commit and must be released.
func (e *Engine) Commit(ctx context.Context) (*snapshot.Handle, error) {
	r, err := e.mgr.BeginRefresh(ctx)
	if err != nil {
		e.metrics.CommitFinished("busy", 0)
		return nil, err
	}
	return e.runCommit(r)
}

// TryCommit is Commit that fails with ErrCommitInProgress instead of waiting.
func (e *Engine) TryCommit() (*snapshot.Handle, error) {
	r, err := e.mgr.TryBeginRefresh()
	if err != nil {
		e.metrics.CommitFinished("busy", 0)
		return nil, err
	}
	return e.runCommit(r)
}

func (e *Engine) runCommit(r *snapshot.Refresh) (*snapshot.Handle, error) {
	h, info, err := e.commit(r)
	r.End()
	if info != nil {
		e.notify(*info)
	}
	return h, err
}

// commit leaves both the current snapshot and the buffer untouched unless
// every step succeeds.
func (e *Engine) commit(r *snapshot.Refresh) (*snapshot.Handle, *CommitInfo, error) {
	start := time.Now()
	batch := e.store.Pending()
	if len(batch) == 0 {
		e.metrics.CommitFinished("empty", 0)
		return r.Current(), nil, nil
	}
	if floor, ok := r.Floor(); ok && batch[0].ID() <= floor {
		n := e.store.Resume(floor + 1)
		e.logger.Warn("pending documents renumbered past visible ids", "count", n, "visible_max_id", floor)
		batch = e.store.Pending()
	}

	seg, err := index.Build(batch, e.schema)
	if err != nil {
		e.metrics.CommitFinished("failed", 0)
		e.logger.Error("building segment failed", "docs", len(batch), "error", err)
		return nil, nil, err
	}
	var name string
	if e.sink != nil {
		name, err = e.sink.Write(seg)
		if err != nil {
			e.metrics.CommitFinished("failed", 0)
			e.logger.Error("persisting segment failed", "docs", len(batch), "error", err)
			return nil, nil, fmt.Errorf("%w: persisting segment: %w", apperrors.ErrIndexBuild, err)
		}
		e.markLoaded(name)
	}
	h, err := r.Publish(seg)
	if err != nil {
		e.metrics.CommitFinished("failed", 0)
		if name != "" {
			e.unmarkLoaded(name)
			if rmErr := e.sink.Remove(name); rmErr != nil {
				e.logger.Error("removing unpublished segment failed", "segment", name, "error", rmErr)
			}
		}
		return nil, nil, err
	}
	if err := e.store.Ack(len(batch)); err != nil {
		// Only commits remove from the buffer and they are serialised.
		_ = h.Release()
		return nil, nil, fmt.Errorf("%w: %w", apperrors.ErrInternal, err)
	}
	e.metrics.SetPending(e.store.PendingCount())

	info := &CommitInfo{
		Generation:  h.Generation(),
		DocCount:    len(batch),
		FirstID:     seg.MinID(),
		LastID:      seg.MaxID(),
		Segment:     name,
		Duration:    time.Since(start),
		CommittedAt: time.Now().UTC(),
	}
	e.metrics.CommitFinished("ok", info.Duration.Seconds())
	e.logger.Info("commit complete",
		"generation", info.Generation,
		"docs", info.DocCount,
		"first_id", info.FirstID,
		"last_id", info.LastID,
		"segment", name,
		"duration", info.Duration,
	)
	return h, info, nil
}

func (e *Engine) notify(info CommitInfo) {
	e.listenersMu.RLock()
	listeners := make([]func(CommitInfo), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(info)
	}
}

func (e *Engine) markLoaded(name string) {
	e.loadedMu.Lock()
	e.loaded[name] = struct{}{}
	e.loadedMu.Unlock()
}

func (e *Engine) unmarkLoaded(name string) {
	e.loadedMu.Lock()
	delete(e.loaded, name)
	e.loadedMu.Unlock()
}

func (e *Engine) isLoaded(name string) bool {
	e.loadedMu.Lock()
	defer e.loadedMu.Unlock()
	_, ok := e.loaded[name]
	return ok
}

// ReloadSegments publishes segment files written into the data directory by
// another process since the last call, all as one generation. Files that
// overlap IDs already visible are skipped. Buffered documents whose IDs the
// loaded segments claimed are renumbered after them. It returns the number
// loaded.
func (e *Engine) ReloadSegments(ctx context.Context) (int, error) {
	dir := e.cfg.Indexer.DataDir
	names, err := segment.List(dir)
	if err != nil {
		return 0, err
	}
	r, err := e.mgr.BeginRefresh(ctx)
	if err != nil {
		return 0, err
	}
	defer r.End()

	floor, hasFloor := r.Floor()

	var segs []*index.Segment
	var loadedNames []string
	for _, name := range names {
		if e.isLoaded(name) {
			continue
		}
		reader, err := segment.OpenReader(filepath.Join(dir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping", "segment", name, "error", err)
			continue
		}
		seg := reader.Segment()
		if hasFloor && seg.MinID() <= floor {
			e.logger.Warn("segment overlaps visible documents, skipping",
				"segment", name,
				"min_id", seg.MinID(),
				"visible_max_id", floor,
			)
			e.markLoaded(name)
			continue
		}
		floor, hasFloor = seg.MaxID(), true
		segs = append(segs, seg)
		loadedNames = append(loadedNames, name)
		e.logger.Info("loaded segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	if len(segs) == 0 {
		return 0, nil
	}
	start := time.Now()
	h, err := r.Publish(segs...)
	if err != nil {
		return 0, err
	}
	docs := 0
	for _, seg := range segs {
		docs += seg.DocCount()
	}
	info := CommitInfo{
		Generation:  h.Generation(),
		DocCount:    docs,
		FirstID:     segs[0].MinID(),
		LastID:      floor,
		Segment:     strings.Join(loadedNames, ","),
		Reloaded:    true,
		Duration:    time.Since(start),
		CommittedAt: time.Now().UTC(),
	}
	_ = h.Release()
	for _, name := range loadedNames {
		e.markLoaded(name)
	}
	if n := e.store.Resume(floor + 1); n > 0 {
		e.logger.Warn("pending documents renumbered past reloaded segments", "count", n, "next_id", floor+1+document.ID(n))
	}
	r.End()
	e.notify(info)
	return len(segs), nil
}

// StartCommitLoop commits buffered documents every CommitInterval until ctx
// is done, then makes a final commit.
func (e *Engine) StartCommitLoop(ctx context.Context) {
	interval := e.cfg.Indexer.CommitInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("commit loop stopping, performing final commit")
				e.commitPending(context.Background())
				return
			case <-ticker.C:
				e.commitPending(ctx)
			}
		}
	}()
}

// StartReloadLoop picks up segment files from other processes every
// ReloadInterval until ctx is done.
func (e *Engine) StartReloadLoop(ctx context.Context) {
	interval := e.cfg.Indexer.ReloadInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.ReloadSegments(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error("segment reload failed", "error", err)
				}
			}
		}
	}()
}

func (e *Engine) commitPending(ctx context.Context) {
	if e.store.PendingCount() == 0 {
		return
	}
	h, err := e.Commit(ctx)
	if err != nil {
		e.logger.Error("periodic commit failed", "error", err)
		return
	}
	_ = h.Release()
}

// Close commits anything still buffered and rejects further adds.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.store.PendingCount() == 0 {
		return nil
	}
	h, err := e.Commit(context.Background())
	if err != nil {
		e.logger.Error("final commit on close failed", "error", err)
		return err
	}
	return h.Release()
}

func (e *Engine) AcquireSnapshot() *snapshot.Handle { return e.mgr.Acquire() }

func (e *Engine) ReleaseSnapshot(h *snapshot.Handle) error { return e.mgr.Release(h) }

func (e *Engine) MaybeRefresh() bool { return e.mgr.MaybeRefresh() }

func (e *Engine) MaybeRefreshAndAcquire() (bool, *snapshot.Handle) {
	return e.mgr.MaybeRefreshAndAcquire()
}

// MaybeRefreshBlocking waits for an in-flight commit, bounded by
// search.refreshTimeout when ctx has no deadline of its own.
func (e *Engine) MaybeRefreshBlocking(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return e.mgr.MaybeRefreshBlocking(ctx)
	}
	return resilience.WithTimeout(ctx, e.cfg.Search.RefreshTimeout, "refresh-blocking", e.mgr.MaybeRefreshBlocking)
}

// Stats summarises the engine for health and admin endpoints.
type Stats struct {
	Snapshot snapshot.Stats `json:"snapshot"`
	Pending  int            `json:"pending"`
	NextID   document.ID    `json:"next_id"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Snapshot: e.mgr.Stats(),
		Pending:  e.store.PendingCount(),
		NextID:   e.store.NextID(),
	}
}

// HealthCheck reports down once closed and degraded while the buffer holds
// more than twice MaxPending documents, which means commits are failing.
func (e *Engine) HealthCheck(ctx context.Context) health.ComponentHealth {
	if e.closed.Load() {
		return health.ComponentHealth{Status: health.StatusDown, Message: "engine closed"}
	}
	st := e.Stats()
	msg := fmt.Sprintf("generation %d, %d docs, %d pending", st.Snapshot.Generation, st.Snapshot.DocCount, st.Pending)
	if limit := e.cfg.Indexer.MaxPending; limit > 0 && st.Pending > 2*limit {
		return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: msg}
}

func (e *Engine) Search(ctx context.Context, h *snapshot.Handle, q query.Query, k int) (*executor.Result, error) {
	return e.exec.Search(ctx, h, q, k)
}

func (e *Engine) TermQuery(ctx context.Context, h *snapshot.Handle, name, text string, k int) (*executor.Result, error) {
	return e.exec.TermQuery(ctx, h, name, text, k)
}

func (e *Engine) WildcardQuery(ctx context.Context, h *snapshot.Handle, name, pattern string, k int) (*executor.Result, error) {
	return e.exec.WildcardQuery(ctx, h, name, pattern, k)
}

func (e *Engine) NumericRangeQuery(ctx context.Context, h *snapshot.Handle, name string, lo, hi int64, loInclusive, hiInclusive bool, k int) (*executor.Result, error) {
	return e.exec.NumericRangeQuery(ctx, h, name, lo, hi, loInclusive, hiInclusive, k)
}

func (e *Engine) MatchAllQuery(ctx context.Context, h *snapshot.Handle, k int) (*executor.Result, error) {
	return e.exec.MatchAllQuery(ctx, h, k)
}

func (e *Engine) BooleanQuery(ctx context.Context, h *snapshot.Handle, clauses []query.Clause, k int) (*executor.Result, error) {
	return e.exec.BooleanQuery(ctx, h, clauses, k)
}
