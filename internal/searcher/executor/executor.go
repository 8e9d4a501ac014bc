package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
)

// DefaultLimit is used when a caller passes k <= 0.
const DefaultLimit = 3

type Hit struct {
	DocID  document.ID    `json:"doc_id"`
	Fields map[string]any `json:"fields"`
}

type Result struct {
	Query        string `json:"query"`
	Generation   uint64 `json:"generation"`
	TotalMatches uint64 `json:"total_matches"`
	Hits         []Hit  `json:"hits"`
}

type Executor struct {
	defaultLimit int
	maxResults   int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New returns an executor. Non-positive limits fall back to DefaultLimit
// and no cap. m may be nil.
func New(defaultLimit, maxResults int, m *metrics.Metrics) *Executor {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Executor{
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		metrics:      m,
		logger:       logger.WithComponent("query-executor"),
	}
}

func (e *Executor) limit(k int) int {
	if k <= 0 {
		k = e.defaultLimit
	}
	if e.maxResults > 0 && k > e.maxResults {
		k = e.maxResults
	}
	return k
}

// Search evaluates q against the handle's snapshot and returns the total
// match count with the first k hits. Range queries are ordered by value then
// doc ID, everything else by doc ID.
func (e *Executor) Search(ctx context.Context, h *snapshot.Handle, q query.Query, k int) (*Result, error) {
	start := time.Now()
	res, err := e.search(ctx, h, q, e.limit(k))
	hits := 0
	if res != nil {
		hits = len(res.Hits)
	}
	e.metrics.QueryFinished(q.Kind(), time.Since(start).Seconds(), hits, err)
	if err != nil {
		e.logger.Warn("query failed", "query", q.String(), "error", err)
		return nil, err
	}
	e.logger.Debug("query executed",
		"query", res.Query,
		"generation", res.Generation,
		"total_matches", res.TotalMatches,
		"results", hits,
		"duration", time.Since(start),
	)
	return res, nil
}

func (e *Executor) search(ctx context.Context, h *snapshot.Handle, q query.Query, k int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search cancelled: %w", err)
	}
	snap, err := h.Snapshot()
	if err != nil {
		return nil, err
	}
	res := &Result{
		Query:      q.String(),
		Generation: snap.Generation(),
		Hits:       []Hit{},
	}

	if rq, ok := q.(query.NumericRange); ok {
		runs := rq.Entries(snap)
		for _, run := range runs {
			res.TotalMatches += uint64(len(run))
		}
		for _, entry := range merger.Merge(runs, k) {
			res.Hits = append(res.Hits, e.hit(snap, entry.DocID))
		}
		return res, nil
	}

	matches, err := q.Evaluate(snap)
	if err != nil {
		return nil, err
	}
	res.TotalMatches = matches.GetCardinality()
	it := matches.Iterator()
	for len(res.Hits) < k && it.HasNext() {
		res.Hits = append(res.Hits, e.hit(snap, it.Next()))
	}
	return res, nil
}

func (e *Executor) hit(snap *snapshot.Snapshot, id document.ID) Hit {
	h := Hit{DocID: id, Fields: map[string]any{}}
	doc, ok := snap.Doc(id)
	if !ok {
		return h
	}
	for name, v := range doc.Fields() {
		h.Fields[name] = v.Any()
	}
	return h
}

func (e *Executor) TermQuery(ctx context.Context, h *snapshot.Handle, name, text string, k int) (*Result, error) {
	return e.Search(ctx, h, query.Term{Field: name, Text: text}, k)
}

func (e *Executor) WildcardQuery(ctx context.Context, h *snapshot.Handle, name, pattern string, k int) (*Result, error) {
	return e.Search(ctx, h, query.Wildcard{Field: name, Pattern: pattern}, k)
}

func (e *Executor) NumericRangeQuery(ctx context.Context, h *snapshot.Handle, name string, lo, hi int64, loInclusive, hiInclusive bool, k int) (*Result, error) {
	return e.Search(ctx, h, query.NumericRange{
		Field:        name,
		Min:          lo,
		Max:          hi,
		MinInclusive: loInclusive,
		MaxInclusive: hiInclusive,
	}, k)
}

func (e *Executor) MatchAllQuery(ctx context.Context, h *snapshot.Handle, k int) (*Result, error) {
	return e.Search(ctx, h, query.MatchAll{}, k)
}

func (e *Executor) BooleanQuery(ctx context.Context, h *snapshot.Handle, clauses []query.Clause, k int) (*Result, error) {
	return e.Search(ctx, h, query.Boolean{Clauses: clauses}, k)
}
