package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

// Manager owns the current snapshot. Readers acquire handles from it and
// a single writer at a time publishes new generations through a Refresh.
type Manager struct {
	current  atomic.Pointer[Snapshot]
	commit   chan struct{}
	reported atomic.Uint64

	live      atomic.Int64
	reclaimed atomic.Uint64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Generation uint64 `json:"generation"`
	DocCount   uint64 `json:"doc_count"`
	Segments   int    `json:"segments"`
	Live       int64  `json:"live_snapshots"`
	Reclaimed  uint64 `json:"reclaimed_snapshots"`
	Committing bool   `json:"committing"`
}

// NewManager starts at generation 0 with an empty snapshot. m may be nil.
func NewManager(m *metrics.Metrics) *Manager {
	mgr := &Manager{
		commit:  make(chan struct{}, 1),
		metrics: m,
		logger:  logger.WithComponent("snapshot"),
	}
	mgr.install(newSnapshot(0, nil, roaring64.New(), mgr.reclaim))
	return mgr
}

func (m *Manager) install(s *Snapshot) {
	m.live.Add(1)
	m.current.Store(s)
	m.metrics.SnapshotPublished(s.generation)
}

func (m *Manager) reclaim(s *Snapshot) {
	m.live.Add(-1)
	m.reclaimed.Add(1)
	m.metrics.SnapshotReclaimed()
	m.logger.Debug("snapshot reclaimed", "generation", s.generation)
}

// Acquire returns a handle on the current snapshot.
func (m *Manager) Acquire() *Handle {
	for {
		s := m.current.Load()
		if s.TryIncRef() {
			return newHandle(s)
		}
		// Lost a race with Publish dropping the old current; the new one is
		// already installed.
		runtime.Gosched()
	}
}

func (m *Manager) Release(h *Handle) error {
	return h.Release()
}

// Generation is the generation of the current snapshot.
func (m *Manager) Generation() uint64 {
	return m.current.Load().generation
}

// MaybeRefresh reports whether a newer generation was published since the
// last time this manager reported one. It never touches outstanding handles.
func (m *Manager) MaybeRefresh() bool {
	return m.observe(m.current.Load().generation)
}

// MaybeRefreshAndAcquire is MaybeRefresh plus a fresh handle on the current
// snapshot, which the caller must release.
func (m *Manager) MaybeRefreshAndAcquire() (bool, *Handle) {
	h := m.Acquire()
	return m.observe(h.Generation()), h
}

func (m *Manager) observe(gen uint64) bool {
	for {
		seen := m.reported.Load()
		if gen <= seen {
			return false
		}
		if m.reported.CompareAndSwap(seen, gen) {
			return true
		}
	}
}

// MaybeRefreshBlocking waits until no commit is in flight. It makes no
// promise that a newer generation exists afterwards.
func (m *Manager) MaybeRefreshBlocking(ctx context.Context) error {
	select {
	case m.commit <- struct{}{}:
		<-m.commit
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-flight commit: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

// BeginRefresh waits for exclusive publish rights.
func (m *Manager) BeginRefresh(ctx context.Context) (*Refresh, error) {
	select {
	case m.commit <- struct{}{}:
		return &Refresh{m: m}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting to commit: %v", apperrors.ErrTimeout, ctx.Err())
	}
}

// TryBeginRefresh is BeginRefresh that fails with ErrCommitInProgress instead
// of waiting.
func (m *Manager) TryBeginRefresh() (*Refresh, error) {
	select {
	case m.commit <- struct{}{}:
		return &Refresh{m: m}, nil
	default:
		return nil, apperrors.ErrCommitInProgress
	}
}

func (m *Manager) Stats() Stats {
	h := m.Acquire()
	defer h.Release()
	s := h.snap
	return Stats{
		Generation: s.generation,
		DocCount:   s.DocCount(),
		Segments:   len(s.segments),
		Live:       m.live.Load(),
		Reclaimed:  m.reclaimed.Load(),
		Committing: len(m.commit) > 0,
	}
}

// Refresh is the exclusive right to publish. End must be called exactly
// when the caller is done, whether or not anything was published.
type Refresh struct {
	m    *Manager
	done atomic.Bool
}

// Current returns a handle on the snapshot that Publish would extend.
func (r *Refresh) Current() *Handle {
	return r.m.Acquire()
}

// Floor is the largest ID visible in the snapshot Publish would extend. A
// segment must start above it.
func (r *Refresh) Floor() (document.ID, bool) {
	return r.m.current.Load().MaxID()
}

// Publish installs a new generation made of the current segments followed by
// segs and returns an acquired handle on it. Every added segment must start
// above the IDs already visible.
func (r *Refresh) Publish(segs ...*index.Segment) (*Handle, error) {
	if r.done.Load() {
		return nil, fmt.Errorf("%w: refresh already ended", apperrors.ErrInternal)
	}
	if len(segs) == 0 {
		return nil, &index.BuildError{Reason: "nothing to publish"}
	}
	m := r.m
	prev := m.current.Load()
	floor, hasFloor := prev.MaxID()
	for _, seg := range segs {
		if hasFloor && seg.MinID() <= floor {
			return nil, &index.BuildError{
				Reason: fmt.Sprintf("segment starts at %d, at or below visible id %d", seg.MinID(), floor),
				DocID:  seg.MinID(),
			}
		}
		floor, hasFloor = seg.MaxID(), true
	}

	next := prev.extend(segs, m.reclaim)
	next.IncRef()
	m.install(next)
	prev.DecRef()

	m.logger.Info("snapshot published",
		"generation", next.generation,
		"segments", len(next.segments),
		"doc_count", next.DocCount(),
	)
	return newHandle(next), nil
}

// End gives up publish rights. Extra calls are no-ops.
func (r *Refresh) End() {
	if r.done.CompareAndSwap(false, true) {
		<-r.m.commit
	}
}
