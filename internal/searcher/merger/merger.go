package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

// Merge combines per-segment runs, each sorted by value then doc ID, into
// the first limit entries of their sorted union. limit <= 0 keeps all.
func Merge(runs [][]index.NumericEntry, limit int) []index.NumericEntry {
	total := 0
	h := &cursorHeap{}
	for _, run := range runs {
		if len(run) > 0 {
			*h = append(*h, cursor{run: run})
			total += len(run)
		}
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	heap.Init(h)
	result := make([]index.NumericEntry, 0, limit)
	for len(result) < limit && h.Len() > 0 {
		top := &(*h)[0]
		result = append(result, top.head())
		top.pos++
		if top.pos == len(top.run) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return result
}

type cursor struct {
	run []index.NumericEntry
	pos int
}

func (c cursor) head() index.NumericEntry { return c.run[c.pos] }

type cursorHeap []cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	return a.DocID < b.DocID
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) {
	*h = append(*h, x.(cursor))
}

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
