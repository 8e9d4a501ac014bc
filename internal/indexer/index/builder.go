package index

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
)

// Build indexes a committed batch in one pass. Documents must be in strictly
// ascending ID order, which makes every posting list ascending by
// construction. Build reads only docs and never touches earlier segments.
func Build(docs []document.Document, schema *field.Schema) (*Segment, error) {
	if len(docs) == 0 {
		return nil, &BuildError{Reason: "empty batch"}
	}
	seg := &Segment{
		docs:     make([]document.Document, len(docs)),
		kinds:    make(map[string]field.Kind),
		keywords: make(map[string]*termDict),
		numerics: make(map[string][]NumericEntry),
		all:      roaring64.New(),
	}
	copy(seg.docs, docs)

	ids := make([]uint64, 0, len(docs))
	for i, doc := range docs {
		if i > 0 && doc.ID() <= docs[i-1].ID() {
			return nil, &BuildError{
				Reason: fmt.Sprintf("ids not ascending: %d after %d", doc.ID(), docs[i-1].ID()),
				DocID:  doc.ID(),
			}
		}
		ids = append(ids, doc.ID())
		for _, name := range doc.Names() {
			v, _ := doc.Get(name)
			if err := seg.index(schema, doc.ID(), name, v); err != nil {
				return nil, err
			}
		}
	}
	seg.all.AddMany(ids)
	seg.finish()
	return seg, nil
}

func (s *Segment) index(schema *field.Schema, id document.ID, name string, v field.Value) error {
	want, ok := schema.Kind(name)
	if !ok {
		return &BuildError{Reason: "field not in schema", DocID: id, Field: name}
	}
	if want != v.Kind() {
		return &BuildError{
			Reason: fmt.Sprintf("schema kind %s, value kind %s", want, v.Kind()),
			DocID:  id,
			Field:  name,
		}
	}
	s.kinds[name] = want
	switch want {
	case field.KindKeyword:
		text, _ := v.Text()
		dict, ok := s.keywords[name]
		if !ok {
			dict = &termDict{postings: make(map[string]*roaring64.Bitmap)}
			s.keywords[name] = dict
		}
		bm, ok := dict.postings[text]
		if !ok {
			bm = roaring64.New()
			dict.postings[text] = bm
		}
		bm.Add(id)
	case field.KindInteger:
		n, _ := v.Int()
		s.numerics[name] = append(s.numerics[name], NumericEntry{Value: n, DocID: id})
	}
	return nil
}

// finish sorts the term dictionaries and numeric arrays. The numeric sort is
// stable and entries were appended in ID order, so ties stay ID-ascending.
func (s *Segment) finish() {
	for _, dict := range s.keywords {
		dict.terms = slices.Sorted(maps.Keys(dict.postings))
		for _, bm := range dict.postings {
			bm.RunOptimize()
		}
	}
	for name, entries := range s.numerics {
		slices.SortStableFunc(entries, func(a, b NumericEntry) int {
			return cmp.Compare(a.Value, b.Value)
		})
		s.numerics[name] = entries
	}
	s.all.RunOptimize()
}

// Assemble rebuilds a segment from its decoded parts, as read back from a
// segment file, and checks the invariants Build guarantees.
func Assemble(
	docs []document.Document,
	postings map[string]map[string]*roaring64.Bitmap,
	numerics map[string][]NumericEntry,
) (*Segment, error) {
	if len(docs) == 0 {
		return nil, &BuildError{Reason: "empty segment"}
	}
	seg := &Segment{
		docs:     docs,
		kinds:    make(map[string]field.Kind),
		keywords: make(map[string]*termDict, len(postings)),
		numerics: make(map[string][]NumericEntry, len(numerics)),
		all:      roaring64.New(),
	}
	for i, doc := range docs {
		if i > 0 && doc.ID() <= docs[i-1].ID() {
			return nil, &BuildError{Reason: "stored documents out of order", DocID: doc.ID()}
		}
		seg.all.Add(doc.ID())
		for _, name := range doc.Names() {
			v, _ := doc.Get(name)
			if prev, ok := seg.kinds[name]; ok && prev != v.Kind() {
				return nil, &BuildError{Reason: "mixed kinds in segment", DocID: doc.ID(), Field: name}
			}
			seg.kinds[name] = v.Kind()
		}
	}
	for name, terms := range postings {
		dict := &termDict{postings: terms}
		for term, bm := range terms {
			stray := bm.Clone()
			stray.AndNot(seg.all)
			if !stray.IsEmpty() {
				return nil, &BuildError{Reason: fmt.Sprintf("term %q lists unknown documents", term), Field: name}
			}
		}
		seg.keywords[name] = dict
	}
	for name, entries := range numerics {
		if !slices.IsSortedFunc(entries, compareNumeric) {
			return nil, &BuildError{Reason: "numeric entries out of order", Field: name}
		}
		seg.numerics[name] = entries
	}
	seg.finish()
	return seg, nil
}

func compareNumeric(a, b NumericEntry) int {
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	return cmp.Compare(a.DocID, b.DocID)
}
