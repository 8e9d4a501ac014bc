package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

func e(v int64, id uint64) index.NumericEntry {
	return index.NumericEntry{Value: v, DocID: id}
}

func TestMergeInterleavesRuns(t *testing.T) {
	runs := [][]index.NumericEntry{
		{e(1, 0), e(5, 1), e(5, 3)},
		{e(2, 10), e(5, 11)},
		nil,
		{e(0, 20), e(9, 21)},
	}
	got := Merge(runs, 0)
	assert.Equal(t, []index.NumericEntry{
		e(0, 20), e(1, 0), e(2, 10), e(5, 1), e(5, 3), e(5, 11), e(9, 21),
	}, got)
}

func TestMergeLimit(t *testing.T) {
	runs := [][]index.NumericEntry{
		{e(3, 0), e(4, 1)},
		{e(3, 5), e(4, 6)},
	}
	assert.Equal(t, []index.NumericEntry{e(3, 0), e(3, 5), e(4, 1)}, Merge(runs, 3))
	assert.Len(t, Merge(runs, 100), 4)
	assert.Empty(t, Merge(nil, 3))
}

func BenchmarkMerge(b *testing.B) {
	runs := make([][]index.NumericEntry, 16)
	for r := range runs {
		for i := 0; i < 1000; i++ {
			runs[r] = append(runs[r], e(int64(i), uint64(r*1000+i)))
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Merge(runs, 100)
	}
}
