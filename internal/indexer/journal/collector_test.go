package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
)

type memorySink struct {
	name string
	mu   sync.Mutex
	fail bool
	got  []uint64
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Flush(_ context.Context, batch []indexer.CommitInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("unavailable")
	}
	for _, info := range batch {
		m.got = append(m.got, info.Generation)
	}
	return nil
}

func (m *memorySink) generations() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.got...)
}

func commit(gen uint64) indexer.CommitInfo {
	return indexer.CommitInfo{Generation: gen, DocCount: 1, FirstID: gen, LastID: gen, CommittedAt: time.Now()}
}

func TestFlushRequeuesFailedSink(t *testing.T) {
	ok := &memorySink{name: "ok"}
	down := &memorySink{name: "down", fail: true}
	c := NewCollector(10, time.Hour, ok, down)

	c.Track(commit(1))
	c.Track(commit(2))
	c.Flush(context.Background())
	assert.Equal(t, []uint64{1, 2}, ok.generations())
	assert.Equal(t, 2, c.Pending("down"))
	assert.Zero(t, c.Pending("ok"))

	down.fail = false
	c.Track(commit(3))
	c.Flush(context.Background())
	assert.Equal(t, []uint64{1, 2, 3}, down.generations())
	assert.Equal(t, []uint64{1, 2, 3}, ok.generations())
}

func TestRequeueDropsOldest(t *testing.T) {
	down := &memorySink{name: "down", fail: true}
	c := NewCollector(2, time.Hour, down)
	for g := uint64(1); g <= 8; g++ {
		c.Track(commit(g))
	}
	c.Flush(context.Background())
	assert.Equal(t, 6, c.Pending("down"))

	down.fail = false
	c.Flush(context.Background())
	assert.Equal(t, []uint64{3, 4, 5, 6, 7, 8}, down.generations())
}

func TestFullBatchFlushesInBackground(t *testing.T) {
	sink := &memorySink{name: "mem"}
	c := NewCollector(2, time.Hour, sink)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(commit(1))
	c.Track(commit(2))
	require.Eventually(t, func() bool { return len(sink.generations()) == 2 }, time.Second, 5*time.Millisecond)

	c.Track(commit(3))
	cancel()
	c.Close()
	assert.Equal(t, []uint64{1, 2, 3}, sink.generations())
}
