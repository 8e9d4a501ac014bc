// Package benchmark contains Go benchmarks for the engine: document adds,
// commits, query parsing and query execution over published snapshots.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
)

var queries = []struct {
	name  string
	query string
}{
	{"term", "str_num:4242"},
	{"wildcard_prefix", "val:value11*"},
	{"wildcard_inner", "val:v?lue*1"},
	{"range", "num:[1000 TO 2000]"},
	{"match_all", "*:*"},
	{"boolean", "+val:value1* -num:[0 TO 500] str_num:77"},
}

func newEngine(b *testing.B) *indexer.Engine {
	b.Helper()
	cfg := config.Default()
	cfg.Indexer.DataDir = b.TempDir()
	cfg.Indexer.Persist = false
	cfg.Indexer.MaxPending = 0
	e, err := indexer.NewEngine(cfg)
	if err != nil {
		b.Fatal(err)
	}
	return e
}

func record(i int) map[string]any {
	return map[string]any{
		"num":     i,
		"str_num": fmt.Sprint(i),
		"val":     fmt.Sprintf("value%d", i%1000),
		"date":    "Sat Oct 17 10:00:00 UTC 2026",
	}
}

// loaded returns an engine holding n documents spread over segments of
// segSize documents each.
func loaded(b *testing.B, n, segSize int) *indexer.Engine {
	b.Helper()
	e := newEngine(b)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := e.AddRaw(record(i)); err != nil {
			b.Fatal(err)
		}
		if (i+1)%segSize == 0 {
			h, err := e.Commit(ctx)
			if err != nil {
				b.Fatal(err)
			}
			h.Release()
		}
	}
	h, err := e.Commit(ctx)
	if err != nil {
		b.Fatal(err)
	}
	h.Release()
	return e
}

func BenchmarkAddRaw(b *testing.B) {
	e := newEngine(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.AddRaw(record(i)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCommit measures building and publishing one segment of the
// given size.
func BenchmarkCommit(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", size), func(b *testing.B) {
			e := newEngine(b)
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for j := 0; j < size; j++ {
					if _, err := e.AddRaw(record(i*size + j)); err != nil {
						b.Fatal(err)
					}
				}
				b.StartTimer()
				h, err := e.Commit(ctx)
				if err != nil {
					b.Fatal(err)
				}
				h.Release()
			}
		})
	}
}

func BenchmarkQueryParse(b *testing.B) {
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := parser.Parse(q.query); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	e := loaded(b, 20000, 2000)
	ctx := context.Background()
	h := e.AcquireSnapshot()
	defer h.Release()

	for _, q := range queries {
		parsed, err := parser.Parse(q.query)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := e.Search(ctx, h, parsed, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSearchParallel measures concurrent readers, each acquiring and
// releasing its own snapshot handle per query.
func BenchmarkSearchParallel(b *testing.B) {
	e := loaded(b, 20000, 2000)
	ctx := context.Background()
	parsed, err := parser.Parse("val:value1*")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h := e.AcquireSnapshot()
			if _, err := e.Search(ctx, h, parsed, 10); err != nil {
				b.Error(err)
			}
			h.Release()
		}
	})
}

func BenchmarkAcquireRelease(b *testing.B) {
	e := loaded(b, 1000, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h := e.AcquireSnapshot()
			h.Release()
		}
	})
}
