package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"time"
)

type op string

const (
	opSearch op = "search"
	opWrite  op = "write"
)

type opStats struct {
	ok, failed, cacheHits int64
	latencies             []time.Duration
	statuses              map[int]int64
}

// recorder collects outcomes from every worker.
type recorder struct {
	mu  sync.Mutex
	ops map[op]*opStats
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[op]*opStats)}
}

func (r *recorder) record(kind op, o outcome) {
	if o.err != nil && cancelled(o.err) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ops[kind]
	if !ok {
		s = &opStats{statuses: make(map[int]int64)}
		r.ops[kind] = s
	}
	if o.err != nil {
		s.failed++
		return
	}
	s.statuses[o.status]++
	s.latencies = append(s.latencies, o.latency)
	if o.status < 200 || o.status >= 300 {
		s.failed++
		return
	}
	s.ok++
	if o.cacheHit {
		s.cacheHits++
	}
}

func (r *recorder) total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.ops {
		n += s.ok + s.failed
	}
	return n
}

// summary is the latency distribution of one operation kind.
type summary struct {
	Count                   int
	Min, Avg, P50, P90, P99 time.Duration
	Max, StdDev             time.Duration
}

func summarize(latencies []time.Duration) summary {
	if len(latencies) == 0 {
		return summary{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum float64
	for _, l := range sorted {
		sum += float64(l)
	}
	mean := sum / float64(len(sorted))
	var sq float64
	for _, l := range sorted {
		d := float64(l) - mean
		sq += d * d
	}
	return summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Avg:    time.Duration(mean),
		P50:    percentile(sorted, 50),
		P90:    percentile(sorted, 90),
		P99:    percentile(sorted, 99),
		Max:    sorted[len(sorted)-1],
		StdDev: time.Duration(math.Sqrt(sq / float64(len(sorted)))),
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func (r *recorder) report(w io.Writer, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kind := range []op{opSearch, opWrite} {
		s, ok := r.ops[kind]
		if !ok {
			continue
		}
		total := s.ok + s.failed
		fmt.Fprintf(w, "=== %s ===\n", kind)
		fmt.Fprintf(w, "requests:   %d (%.1f/s)\n", total, float64(total)/elapsed.Seconds())
		fmt.Fprintf(w, "ok:         %d\n", s.ok)
		fmt.Fprintf(w, "failed:     %d (%.2f%%)\n", s.failed, 100*float64(s.failed)/float64(max(total, 1)))
		if kind == opSearch {
			fmt.Fprintf(w, "cache hits: %d\n", s.cacheHits)
		}
		sum := summarize(s.latencies)
		fmt.Fprintf(w, "latency:    min %s  avg %s  p50 %s  p90 %s  p99 %s  max %s  stddev %s\n",
			sum.Min, sum.Avg, sum.P50, sum.P90, sum.P99, sum.Max, sum.StdDev)

		codes := make([]int, 0, len(s.statuses))
		for code := range s.statuses {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %d: %d\n", code, s.statuses[code])
		}
		fmt.Fprintln(w)
	}
}
