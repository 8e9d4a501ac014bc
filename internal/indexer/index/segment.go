// Package index builds immutable segments from committed batches: keyword
// posting lists as roaring bitmaps and sorted arrays for integer fields.
package index

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
)

// termDict is the dictionary of one keyword field.
type termDict struct {
	terms    []string
	postings map[string]*roaring64.Bitmap
}

// Segment is the index of one committed batch. It is never mutated after
// Build or Assemble returns; bitmaps handed out must be treated as read-only.
type Segment struct {
	docs     []document.Document
	kinds    map[string]field.Kind
	keywords map[string]*termDict
	numerics map[string][]NumericEntry
	all      *roaring64.Bitmap
}

func (s *Segment) DocCount() int { return len(s.docs) }

func (s *Segment) MinID() document.ID { return s.docs[0].ID() }

func (s *Segment) MaxID() document.ID { return s.docs[len(s.docs)-1].ID() }

// Docs returns the segment's documents in ID order. Callers must not modify
// the slice.
func (s *Segment) Docs() []document.Document { return s.docs }

// Doc looks up a stored document by ID.
func (s *Segment) Doc(id document.ID) (document.Document, bool) {
	i := sort.Search(len(s.docs), func(i int) bool {
		return s.docs[i].ID() >= id
	})
	if i < len(s.docs) && s.docs[i].ID() == id {
		return s.docs[i], true
	}
	return document.Document{}, false
}

// Kinds returns the kind of every field present in the segment.
func (s *Segment) Kinds() map[string]field.Kind {
	return maps.Clone(s.kinds)
}

func (s *Segment) Kind(name string) (field.Kind, bool) {
	k, ok := s.kinds[name]
	return k, ok
}

// All is the set of every document ID in the segment.
func (s *Segment) All() *roaring64.Bitmap { return s.all }

// Postings returns the documents holding exactly term in the keyword field,
// or nil.
func (s *Segment) Postings(name, term string) *roaring64.Bitmap {
	dict, ok := s.keywords[name]
	if !ok {
		return nil
	}
	return dict.postings[term]
}

// Terms returns the sorted distinct terms of a keyword field.
func (s *Segment) Terms(name string) []string {
	dict, ok := s.keywords[name]
	if !ok {
		return nil
	}
	return dict.terms
}

// TermsWithPrefix returns the sorted run of terms starting with prefix.
func (s *Segment) TermsWithPrefix(name, prefix string) []string {
	terms := s.Terms(name)
	if prefix == "" {
		return terms
	}
	lo := sort.SearchStrings(terms, prefix)
	hi := lo
	for hi < len(terms) && strings.HasPrefix(terms[hi], prefix) {
		hi++
	}
	return terms[lo:hi]
}

// NumericEntries returns the sorted (value, doc) entries of an integer field.
func (s *Segment) NumericEntries(name string) []NumericEntry {
	return s.numerics[name]
}

// NumericRange returns the contiguous entries with lo <= value <= hi.
func (s *Segment) NumericRange(name string, lo, hi int64) []NumericEntry {
	entries := s.numerics[name]
	if len(entries) == 0 || lo > hi {
		return nil
	}
	start := sort.Search(len(entries), func(i int) bool {
		return entries[i].Value >= lo
	})
	end := sort.Search(len(entries), func(i int) bool {
		return entries[i].Value > hi
	})
	if start >= end {
		return nil
	}
	return entries[start:end]
}

// ForEachPosting visits every keyword posting list ordered by field then
// term.
func (s *Segment) ForEachPosting(fn func(name, term string, docs *roaring64.Bitmap) error) error {
	for _, name := range slices.Sorted(maps.Keys(s.keywords)) {
		dict := s.keywords[name]
		for _, term := range dict.terms {
			if err := fn(name, term, dict.postings[term]); err != nil {
				return err
			}
		}
	}
	return nil
}

// NumericFields returns the integer fields in sorted order.
func (s *Segment) NumericFields() []string {
	return slices.Sorted(maps.Keys(s.numerics))
}
