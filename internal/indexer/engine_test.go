package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Indexer.DataDir = t.TempDir()
	cfg.Indexer.Persist = false
	cfg.Indexer.MaxPending = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	return e
}

func record(i int) map[string]any {
	return map[string]any{
		"num":     i,
		"str_num": fmt.Sprint(i),
		"val":     fmt.Sprintf("value%d", i%1000),
		"date":    "2026-10-17",
	}
}

func addN(t *testing.T, e *Engine, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		_, err := e.AddRaw(record(i))
		require.NoError(t, err)
	}
}

func TestCommitMakesDocumentsVisible(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	addN(t, e, 0, 10)

	before := e.AcquireSnapshot()
	defer e.ReleaseSnapshot(before)
	res, err := e.MatchAllQuery(ctx, before, 3)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)

	h, err := e.Commit(ctx)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, uint64(1), h.Generation())
	assert.Zero(t, e.PendingCount())

	res, err = e.TermQuery(ctx, h, "str_num", "7", 3)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, uint64(7), res.Hits[0].DocID)
	assert.Equal(t, int64(7), res.Hits[0].Fields["num"])

	res, err = e.MatchAllQuery(ctx, before, 3)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches, "old handle keeps its view")
}

func TestEmptyCommitPublishesNothing(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	h, err := e.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Generation())
	require.NoError(t, h.Release())
	assert.False(t, e.MaybeRefresh())
}

type flakySink struct {
	mu    sync.Mutex
	fail  bool
	names []string
}

func (s *flakySink) Write(seg *index.Segment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("disk full")
	}
	name := fmt.Sprintf("seg-%d", seg.MinID())
	s.names = append(s.names, name)
	return name, nil
}

func (s *flakySink) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = slices.DeleteFunc(s.names, func(n string) bool { return n == name })
	return nil
}

func TestFailedCommitKeepsBufferAndSnapshot(t *testing.T) {
	sink := &flakySink{fail: true}
	e := newTestEngine(t, testConfig(t), WithSink(sink))
	addN(t, e, 0, 5)

	_, err := e.Commit(context.Background())
	require.ErrorIs(t, err, apperrors.ErrIndexBuild)
	assert.Equal(t, uint64(0), e.Manager().Generation())
	assert.Equal(t, 5, e.PendingCount())

	sink.fail = false
	h, err := e.Commit(context.Background())
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, uint64(1), h.Generation())
	assert.Equal(t, []string{"seg-0"}, sink.names)

	res, err := e.MatchAllQuery(context.Background(), h, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.TotalMatches)
}

func TestAddRawRejectsBadDocument(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	_, err := e.AddRaw(map[string]any{"num": "not a number"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	var verr *field.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Zero(t, e.PendingCount())

	id, err := e.AddRaw(record(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestMaxPendingTriggersCommit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.MaxPending = 4
	e := newTestEngine(t, cfg)

	var infos []CommitInfo
	e.OnCommit(func(info CommitInfo) { infos = append(infos, info) })

	addN(t, e, 0, 9)
	assert.Equal(t, 1, e.PendingCount())
	require.Len(t, infos, 2)
	assert.Equal(t, uint64(0), infos[0].FirstID)
	assert.Equal(t, uint64(3), infos[0].LastID)
	assert.Equal(t, uint64(2), infos[1].Generation)
}

func TestTryCommitWhileCommitting(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	addN(t, e, 0, 1)
	r, err := e.Manager().BeginRefresh(context.Background())
	require.NoError(t, err)

	_, err = e.TryCommit()
	assert.ErrorIs(t, err, apperrors.ErrCommitInProgress)
	r.End()

	h, err := e.TryCommit()
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func TestRefreshModes(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	addN(t, e, 0, 3)
	h, err := e.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	assert.True(t, e.MaybeRefresh())
	assert.False(t, e.MaybeRefresh())

	addN(t, e, 3, 6)
	h, err = e.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	changed, fresh := e.MaybeRefreshAndAcquire()
	defer fresh.Release()
	assert.True(t, changed)
	res, err := e.MatchAllQuery(ctx, fresh, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), res.TotalMatches)

	require.NoError(t, e.MaybeRefreshBlocking(ctx))
}

func TestPersistedSegmentsReload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.Persist = true
	cfg.Indexer.Compression = "zstd"
	ctx := context.Background()

	writer := newTestEngine(t, cfg)
	addN(t, writer, 0, 20)
	h, err := writer.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	reader := newTestEngine(t, cfg)
	assert.Equal(t, uint64(1), reader.Manager().Generation())
	assert.Equal(t, uint64(20), reader.Stats().NextID)

	addN(t, writer, 20, 30)
	h, err = writer.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	var reloaded []CommitInfo
	reader.OnCommit(func(info CommitInfo) { reloaded = append(reloaded, info) })
	n, err := reader.ReloadSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, reloaded, 1)
	assert.True(t, reloaded[0].Reloaded)
	assert.Equal(t, 10, reloaded[0].DocCount)
	assert.Equal(t, uint64(2), reloaded[0].Generation)
	n, err = reader.ReloadSegments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rh := reader.AcquireSnapshot()
	defer rh.Release()
	res, err := reader.NumericRangeQuery(ctx, rh, "num", 25, 27, true, true, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.TotalMatches)
	assert.Equal(t, uint64(25), res.Hits[0].DocID)
}

func TestBufferedDocumentsSurviveReloadFromAnotherWriter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.Persist = true
	ctx := context.Background()

	local := newTestEngine(t, cfg)
	addN(t, local, 100, 103)
	assert.Equal(t, uint64(3), local.Stats().NextID)

	other := newTestEngine(t, cfg)
	addN(t, other, 0, 20)
	h, err := other.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	n, err := local.ReloadSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, local.PendingCount())
	assert.Equal(t, uint64(23), local.Stats().NextID)

	h, err = local.Commit(ctx)
	require.NoError(t, err)
	defer h.Release()
	assert.Zero(t, local.PendingCount())
	res, err := local.NumericRangeQuery(ctx, h, "num", 100, 102, true, true, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.TotalMatches)
	assert.Equal(t, uint64(20), res.Hits[0].DocID)

	files, err := segment.List(cfg.Indexer.DataDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	restarted := newTestEngine(t, cfg)
	rh := restarted.AcquireSnapshot()
	defer rh.Release()
	res, err = restarted.MatchAllQuery(ctx, rh, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(23), res.TotalMatches, "no committed document lost")
	assert.Equal(t, uint64(23), restarted.Stats().NextID)
}

func TestFollowerLoadsButNeverWrites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.Persist = true
	ctx := context.Background()

	owner := newTestEngine(t, cfg)
	addN(t, owner, 0, 5)
	h, err := owner.Commit(ctx)
	require.NoError(t, err)
	h.Release()

	follower := newTestEngine(t, cfg, AsFollower())
	_, err = follower.AddRaw(record(99))
	require.ErrorIs(t, err, apperrors.ErrReadOnly)
	assert.Zero(t, follower.PendingCount())

	addN(t, owner, 5, 8)
	h, err = owner.Commit(ctx)
	require.NoError(t, err)
	h.Release()
	n, err := follower.ReloadSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fh, err := follower.Commit(ctx)
	require.NoError(t, err)
	defer fh.Release()
	res, err := follower.MatchAllQuery(ctx, fh, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), res.TotalMatches)

	files, err := segment.List(cfg.Indexer.DataDir)
	require.NoError(t, err)
	assert.Len(t, files, 2, "only the owner writes segment files")
}

func TestCloseCommitsAndRejects(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	addN(t, e, 0, 2)
	require.NoError(t, e.Close())
	assert.Equal(t, uint64(1), e.Manager().Generation())

	_, err := e.AddRaw(record(3))
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	require.NoError(t, e.Close())
}

func TestCommitLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Indexer.CommitInterval = 10 * time.Millisecond
	e := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartCommitLoop(ctx)

	addN(t, e, 0, 3)
	require.Eventually(t, func() bool {
		return e.Stats().Snapshot.DocCount == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentAddAndCommit(t *testing.T) {
	e := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_, err := e.AddRaw(record(w*250 + i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			h, err := e.Commit(ctx)
			if assert.NoError(t, err) {
				h.Release()
			}
		}
	}()
	wg.Wait()

	h, err := e.Commit(ctx)
	require.NoError(t, err)
	defer h.Release()
	res, err := e.MatchAllQuery(ctx, h, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.TotalMatches)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{res.Hits[0].DocID, res.Hits[1].DocID, res.Hits[2].DocID})
}
