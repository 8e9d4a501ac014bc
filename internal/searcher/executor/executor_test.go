package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

var testSchema = field.NewSchema(map[string]field.Kind{
	"num":     field.KindInteger,
	"str_num": field.KindKeyword,
	"val":     field.KindKeyword,
})

type fixture struct {
	mgr  *snapshot.Manager
	next document.ID
}

func (f *fixture) commit(t *testing.T, batch ...map[string]field.Value) {
	t.Helper()
	docs := make([]document.Document, 0, len(batch))
	for _, fields := range batch {
		docs = append(docs, document.New(f.next, fields))
		f.next++
	}
	seg, err := index.Build(docs, testSchema)
	require.NoError(t, err)
	r, err := f.mgr.BeginRefresh(context.Background())
	require.NoError(t, err)
	defer r.End()
	h, err := r.Publish(seg)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func (f *fixture) acquire(t *testing.T) *snapshot.Handle {
	h := f.mgr.Acquire()
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func newFixture() *fixture {
	return &fixture{mgr: snapshot.NewManager(nil)}
}

func numDoc(n int64) map[string]field.Value {
	return map[string]field.Value{
		"num":     field.Int(n),
		"str_num": field.Keyword(fmt.Sprint(n)),
	}
}

func ids(res *Result) []document.ID {
	out := make([]document.ID, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.DocID)
	}
	return out
}

func TestTermQueryReturnsIncreasingIDs(t *testing.T) {
	f := newFixture()
	f.commit(t, map[string]field.Value{"val": field.Keyword("x")}, map[string]field.Value{"val": field.Keyword("y")})
	f.commit(t, map[string]field.Value{"val": field.Keyword("x")}, map[string]field.Value{"val": field.Keyword("x")})
	ex := New(3, 100, nil)

	res, err := ex.TermQuery(context.Background(), f.acquire(t), "val", "x", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.TotalMatches)
	assert.Equal(t, []document.ID{0, 2, 3}, ids(res))
	assert.Equal(t, "x", res.Hits[0].Fields["val"])

	res, err = ex.TermQuery(context.Background(), f.acquire(t), "val", "nope", 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)
	assert.Empty(t, res.Hits)
}

func TestNumericRangeInclusivityGrid(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(12), numDoc(9), numDoc(11))
	f.commit(t, numDoc(10), numDoc(13))
	ex := New(3, 100, nil)
	h := f.acquire(t)

	values := func(res *Result) []int64 {
		var out []int64
		for _, hit := range res.Hits {
			out = append(out, hit.Fields["num"].(int64))
		}
		return out
	}
	tests := []struct {
		name       string
		minIn, max bool
		want       []int64
	}{
		{"incl incl", true, true, []int64{10, 11, 12}},
		{"excl excl", false, false, []int64{11}},
		{"incl excl", true, false, []int64{10, 11}},
		{"excl incl", false, true, []int64{11, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ex.NumericRangeQuery(context.Background(), h, "num", 10, 12, tt.minIn, tt.max, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, values(res))
			assert.Equal(t, uint64(len(tt.want)), res.TotalMatches)
		})
	}

	res, err := ex.NumericRangeQuery(context.Background(), h, "num", 12, 10, true, true, 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)
	res, err = ex.NumericRangeQuery(context.Background(), h, "num", 11, 12, false, false, 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)
}

func TestNumericRangeOrdersByValueThenID(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(5), numDoc(3))
	f.commit(t, numDoc(3), numDoc(4))
	ex := New(3, 100, nil)

	res, err := ex.NumericRangeQuery(context.Background(), f.acquire(t), "num", 0, 10, true, true, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.TotalMatches)
	assert.Equal(t, []document.ID{1, 2, 3}, ids(res))
}

func TestWildcardPrefix(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(1), numDoc(10))
	f.commit(t, numDoc(100), numDoc(2))
	ex := New(3, 100, nil)

	res, err := ex.WildcardQuery(context.Background(), f.acquire(t), "str_num", "1*", 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{0, 1, 2}, ids(res))

	_, err = ex.WildcardQuery(context.Background(), f.acquire(t), "str_num", "", 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)
}

func TestBooleanOccurrences(t *testing.T) {
	f := newFixture()
	doc := func(val string, n int64) map[string]field.Value {
		return map[string]field.Value{"val": field.Keyword(val), "num": field.Int(n)}
	}
	f.commit(t, doc("a", 1), doc("b", 2), doc("a", 3))
	f.commit(t, doc("c", 4), doc("a", 5))
	ex := New(3, 100, nil)
	h := f.acquire(t)
	ctx := context.Background()

	termA := query.Term{Field: "val", Text: "a"}
	termB := query.Term{Field: "val", Text: "b"}
	small := query.NumericRange{Field: "num", Min: 1, Max: 3, MinInclusive: true, MaxInclusive: true}

	res, err := ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: termA, Occur: query.Must},
		{Query: small, Occur: query.Must},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{0, 2}, ids(res))

	res, err = ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: termA, Occur: query.Should},
		{Query: termB, Occur: query.Should},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{0, 1, 2, 4}, ids(res))

	res, err = ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: termA, Occur: query.MustNot},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{1, 3}, ids(res))

	res, err = ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: small, Occur: query.Must},
		{Query: termA, Occur: query.Should},
		{Query: query.Term{Field: "num", Text: "3"}, Occur: query.MustNot},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{0}, ids(res))

	res, err = ex.BooleanQuery(ctx, h, nil, 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)
}

func TestBooleanOnlyMustNotComplementsAllDocuments(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(1), numDoc(2), numDoc(3))
	f.commit(t, numDoc(4))
	ex := New(3, 100, nil)
	h := f.acquire(t)
	ctx := context.Background()

	res, err := ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: query.Term{Field: "str_num", Text: "1"}, Occur: query.MustNot},
		{Query: query.Term{Field: "str_num", Text: "4"}, Occur: query.MustNot},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []document.ID{1, 2}, ids(res))
	assert.Equal(t, uint64(2), res.TotalMatches)

	res, err = ex.BooleanQuery(ctx, h, []query.Clause{
		{Query: query.MatchAll{}, Occur: query.MustNot},
	}, 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalMatches)
}

func TestMatchAllLimits(t *testing.T) {
	f := newFixture()
	for batch := 0; batch < 10; batch++ {
		docs := make([]map[string]field.Value, 0, 1000)
		for i := 0; i < 1000; i++ {
			docs = append(docs, numDoc(int64(batch*1000+i)))
		}
		f.commit(t, docs...)
	}
	ex := New(3, 50, nil)
	h := f.acquire(t)

	res, err := ex.MatchAllQuery(context.Background(), h, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), res.TotalMatches)
	assert.Equal(t, []document.ID{0, 1, 2}, ids(res))

	res, err = ex.MatchAllQuery(context.Background(), h, 0)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 3)

	res, err = ex.MatchAllQuery(context.Background(), h, 5000)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 50)
}

func TestSearchIsolationAcrossCommit(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(1))
	ex := New(3, 100, nil)
	old := f.mgr.Acquire()
	defer old.Release()

	f.commit(t, numDoc(2), numDoc(3))

	res, err := ex.MatchAllQuery(context.Background(), old, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.TotalMatches)

	changed, fresh := f.mgr.MaybeRefreshAndAcquire()
	defer fresh.Release()
	require.True(t, changed)
	res, err = ex.MatchAllQuery(context.Background(), fresh, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.TotalMatches)
	assert.Equal(t, uint64(2), res.Generation)
}

func TestSearchReleasedHandle(t *testing.T) {
	f := newFixture()
	ex := New(3, 100, nil)
	h := f.mgr.Acquire()
	require.NoError(t, h.Release())
	_, err := ex.MatchAllQuery(context.Background(), h, 3)
	assert.ErrorIs(t, err, apperrors.ErrHandleReleased)
}

func TestSearchCancelledContext(t *testing.T) {
	f := newFixture()
	ex := New(3, 100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.MatchAllQuery(ctx, f.acquire(t), 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchRecordsMetrics(t *testing.T) {
	f := newFixture()
	f.commit(t, numDoc(1))
	m := metrics.New(prometheus.NewRegistry())
	ex := New(3, 100, m)

	_, err := ex.TermQuery(context.Background(), f.acquire(t), "str_num", "1", 3)
	require.NoError(t, err)
	_, err = ex.WildcardQuery(context.Background(), f.acquire(t), "str_num", "", 3)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("term", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("wildcard", "error")))
}

func BenchmarkMatchAll(b *testing.B) {
	mgr := snapshot.NewManager(nil)
	docs := make([]document.Document, 0, 10000)
	for i := 0; i < 10000; i++ {
		docs = append(docs, document.New(document.ID(i), numDoc(int64(i))))
	}
	seg, err := index.Build(docs, testSchema)
	if err != nil {
		b.Fatal(err)
	}
	r, _ := mgr.BeginRefresh(context.Background())
	h, _ := r.Publish(seg)
	r.End()
	defer h.Release()
	ex := New(3, 100, nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ex.MatchAllQuery(context.Background(), h, 3); err != nil {
			b.Fatal(err)
		}
	}
}
