// Command loadtest drives concurrent searches and document adds against a
// running searcher and prints per-operation latency percentiles.
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 16 -rps 500
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
)

var defaultQueries = []string{
	"str_num:16",
	"val:value840",
	"num:[10 TO 10]",
	"str_num:1*",
	"val:value9*",
	"str_num:100",
	"val:value99",
	"*:*",
	"+val:value1* -str_num:1*",
	"num:>=500",
	"val:value5?",
	"num:[100 TO 200} OR val:value7",
}

type options struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	rps         float64
	writeRatio  float64
	limit       int
	apiKey      string
	queries     []string
}

func main() {
	var opts options
	var queryList string
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the search service")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&opts.rps, "rps", 0, "total request rate across workers, 0 for unlimited")
	flag.Float64Var(&opts.writeRatio, "write-ratio", 0.1, "fraction of requests that add a document; a searcher following a persisted index rejects them with 409")
	flag.IntVar(&opts.limit, "limit", 3, "results per search")
	flag.StringVar(&opts.apiKey, "api-key", os.Getenv("SS_API_KEY"), "key sent with document adds")
	flag.StringVar(&queryList, "queries", "", "semicolon separated queries, defaults to the demo set")
	flag.Parse()

	opts.queries = defaultQueries
	if queryList != "" {
		opts.queries = strings.Split(queryList, ";")
	}
	for _, q := range opts.queries {
		if _, err := parser.Parse(q); err != nil {
			fmt.Fprintf(os.Stderr, "invalid query %q: %v\n", q, err)
			os.Exit(2)
		}
	}

	fmt.Println("=== snapsearch load test ===")
	fmt.Printf("target:      %s\n", opts.baseURL)
	fmt.Printf("concurrency: %d\n", opts.concurrency)
	fmt.Printf("duration:    %s\n", opts.duration)
	fmt.Printf("queries:     %d\n", len(opts.queries))
	fmt.Printf("write ratio: %.2f\n", opts.writeRatio)
	if opts.rps > 0 {
		fmt.Printf("rate:        %.0f req/s\n", opts.rps)
	}
	fmt.Println()

	rec := newRecorder()
	if err := run(context.Background(), opts, rec); err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	rec.report(os.Stdout, opts.duration)
	if rec.total() == 0 {
		fmt.Println("\nno requests completed; is the service running?")
		os.Exit(1)
	}
}

func run(parent context.Context, opts options, rec *recorder) error {
	ctx, cancel := context.WithTimeout(parent, opts.duration)
	defer cancel()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rps), opts.concurrency)
	}

	var nextNum atomic.Int64
	nextNum.Store(1_000_000)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.concurrency; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w) + time.Now().UnixNano()))
			for i := w; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				if rng.Float64() < opts.writeRatio {
					rec.record(opWrite, doWrite(ctx, client, opts, nextNum.Add(1), rng))
				} else {
					rec.record(opSearch, doSearch(ctx, client, opts, opts.queries[i%len(opts.queries)]))
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		})
	}
	return g.Wait()
}

// outcome is one request as seen by the client.
type outcome struct {
	latency  time.Duration
	status   int
	cacheHit bool
	err      error
}

func doSearch(ctx context.Context, client *http.Client, opts options, q string) outcome {
	u := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", opts.baseURL, url.QueryEscape(q), opts.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return outcome{err: err}
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return outcome{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()
	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return outcome{latency: time.Since(start), status: resp.StatusCode, cacheHit: body.CacheHit}
}

func doWrite(ctx context.Context, client *http.Client, opts options, num int64, rng *rand.Rand) outcome {
	rec := loader.Record{
		Num:  num,
		Val:  fmt.Sprintf("value%d", rng.Intn(loader.ValueRange)),
		Date: time.Now().Format(time.UnixDate),
	}
	payload, err := json.Marshal(map[string]any{"documents": []map[string]any{rec.Fields()}})
	if err != nil {
		return outcome{err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/api/v1/documents", bytes.NewReader(payload))
	if err != nil {
		return outcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.apiKey)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return outcome{latency: time.Since(start), err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return outcome{latency: time.Since(start), status: resp.StatusCode}
}

// cancelled reports errors caused by the test ending mid-request.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
