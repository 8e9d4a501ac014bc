// Package snapshot publishes immutable point-in-time views of the index and
// tracks which of them are still held by readers.
package snapshot

import (
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

// Snapshot is the set of segments visible at one generation. Segments are
// ordered by ID range, so concatenating their results keeps doc IDs
// ascending.
type Snapshot struct {
	refs       int64
	generation uint64
	segments   []*index.Segment
	all        *roaring64.Bitmap
	reclaimed  atomic.Bool
	onReclaim  func(*Snapshot)
}

func newSnapshot(generation uint64, segments []*index.Segment, all *roaring64.Bitmap, onReclaim func(*Snapshot)) *Snapshot {
	return &Snapshot{
		refs:       1,
		generation: generation,
		segments:   segments,
		all:        all,
		onReclaim:  onReclaim,
	}
}

// extend returns the next generation: this snapshot's segments followed by
// added. The receiver is left untouched.
func (s *Snapshot) extend(added []*index.Segment, onReclaim func(*Snapshot)) *Snapshot {
	segments := make([]*index.Segment, 0, len(s.segments)+len(added))
	segments = append(segments, s.segments...)
	all := s.all.Clone()
	for _, seg := range added {
		segments = append(segments, seg)
		all.Or(seg.All())
	}
	all.RunOptimize()
	return newSnapshot(s.generation+1, segments, all, onReclaim)
}

// MaxID is the largest visible document ID, or false when empty.
func (s *Snapshot) MaxID() (document.ID, bool) {
	if len(s.segments) == 0 {
		return 0, false
	}
	return s.segments[len(s.segments)-1].MaxID(), true
}

func (s *Snapshot) Generation() uint64 { return s.generation }

// Segments returns the segments in ascending ID order. The slice is shared.
func (s *Snapshot) Segments() []*index.Segment { return s.segments }

// All is every document ID visible in the snapshot. Read-only.
func (s *Snapshot) All() *roaring64.Bitmap { return s.all }

func (s *Snapshot) DocCount() uint64 { return s.all.GetCardinality() }

// Doc returns the stored document with the given ID.
func (s *Snapshot) Doc(id document.ID) (document.Document, bool) {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].MaxID() >= id
	})
	if i == len(s.segments) {
		return document.Document{}, false
	}
	return s.segments[i].Doc(id)
}

// FieldKind reports the kind a field was indexed with in any segment.
func (s *Snapshot) FieldKind(name string) (field.Kind, bool) {
	for _, seg := range s.segments {
		if k, ok := seg.Kind(name); ok {
			return k, true
		}
	}
	return 0, false
}

func (s *Snapshot) Refs() int64 { return atomic.LoadInt64(&s.refs) }

func (s *Snapshot) Reclaimed() bool { return s.reclaimed.Load() }

func (s *Snapshot) IncRef() {
	atomic.AddInt64(&s.refs, 1)
}

// TryIncRef takes a reference unless the snapshot has already been
// reclaimed.
func (s *Snapshot) TryIncRef() bool {
	for {
		refs := atomic.LoadInt64(&s.refs)
		if refs <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.refs, refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference and reclaims the snapshot when it was the last.
// Reclaiming drops the snapshot's segments so they can be collected once no
// newer generation shares them; no handle can reach it any more.
func (s *Snapshot) DecRef() {
	if atomic.AddInt64(&s.refs, -1) == 0 {
		s.reclaimed.Store(true)
		if s.onReclaim != nil {
			s.onReclaim(s)
		}
		s.segments = nil
		s.all = nil
	}
}
