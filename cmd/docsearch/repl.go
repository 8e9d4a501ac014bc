package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
)

const separatorLine = "***************************"

// demoQueries is the fixed tour run by the "all" command.
var demoQueries = []query.Query{
	query.Term{Field: "str_num", Text: "16"},
	query.Term{Field: "val", Text: "value840"},
	query.NumericRange{Field: "num", Min: 10, Max: 10, MinInclusive: true, MaxInclusive: true},
	query.Wildcard{Field: "str_num", Pattern: "1*"},
	query.Wildcard{Field: "val", Pattern: "value9*"},
	query.Term{Field: "str_num", Text: "100"},
	query.Term{Field: "val", Text: "value99"},
	query.MatchAll{},
}

// repl reads one command per line. It holds a snapshot handle that only
// moves forward on refresh_acquire, so "search" keeps showing the view it
// acquired until then.
type repl struct {
	engine   *indexer.Engine
	held     *snapshot.Handle
	dataPath string
	records  int
	limit    int
	rng      *rand.Rand
	now      func() time.Time
	out      io.Writer
}

func newREPL(engine *indexer.Engine, dataPath string, records, limit int, out io.Writer) *repl {
	return &repl{
		engine:   engine,
		held:     engine.AcquireSnapshot(),
		dataPath: dataPath,
		records:  records,
		limit:    limit,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		out:      out,
	}
}

// Run processes commands until an empty line or EOF.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	defer r.held.Release()
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintln(r.out, separatorLine)
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			fmt.Fprintln(r.out, "bye")
			return nil
		}
		if err := r.dispatch(ctx, line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) dispatch(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "create":
		return r.create(ctx)
	case "search":
		return r.run(ctx, query.Wildcard{Field: "val", Pattern: "value11*"})
	case "all":
		for _, q := range demoQueries {
			if err := r.run(ctx, q); err != nil {
				return err
			}
		}
		return nil
	case "q":
		q, err := parser.Parse(arg)
		if err != nil {
			return err
		}
		return r.run(ctx, q)
	case "refresh":
		fmt.Fprintf(r.out, "newer snapshot available: %t\n", r.engine.MaybeRefresh())
		return nil
	case "refresh_acquire", "refresh_aquire":
		_, h := r.engine.MaybeRefreshAndAcquire()
		moved := h.Generation() != r.held.Generation()
		if err := r.held.Release(); err != nil {
			return err
		}
		r.held = h
		fmt.Fprintf(r.out, "changed: %t, now at generation %d\n", moved, h.Generation())
		return nil
	case "refresh_blocking":
		if err := r.engine.MaybeRefreshBlocking(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "no commit in flight")
		return nil
	default:
		fmt.Fprintf(r.out, "unrecognised command: %s\n", line)
		return nil
	}
}

// create writes a fresh data file, loads it and commits.
func (r *repl) create(ctx context.Context) error {
	fmt.Fprintf(r.out, "writing %d records to %s\n", r.records, r.dataPath)
	if err := loader.GenerateFile(r.dataPath, r.records, r.rng, r.now()); err != nil {
		return err
	}
	n, err := loader.LoadFile(r.dataPath, func(fields map[string]any) error {
		_, err := r.engine.AddRaw(fields)
		return err
	})
	if err != nil {
		return err
	}
	h, err := r.engine.Commit(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	fmt.Fprintf(r.out, "indexed %d documents, generation %d\n", n, h.Generation())
	return nil
}

func (r *repl) run(ctx context.Context, q query.Query) error {
	res, err := r.engine.Search(ctx, r.held, q, r.limit)
	if err != nil {
		return err
	}
	printResult(r.out, q, res)
	return nil
}

func printResult(w io.Writer, q query.Query, res *executor.Result) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "query -> %s\n", q)
	fmt.Fprintf(w, "hits: %d, total matches: %d\n", len(res.Hits), res.TotalMatches)
	for _, hit := range res.Hits {
		fmt.Fprintf(w, "doc:%d, num:%v, val:%v, date:%v\n",
			hit.DocID, hit.Fields["num"], hit.Fields["val"], hit.Fields["date"])
	}
}
