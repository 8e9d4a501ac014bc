// Package query defines the query values the executor evaluates. Every query
// resolves against a snapshot to its complete match set; truncation to k is
// the executor's job.
package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

const (
	KindTerm     = "term"
	KindWildcard = "wildcard"
	KindRange    = "range"
	KindMatchAll = "match_all"
	KindBoolean  = "boolean"
)

type Query interface {
	// Kind names the query type for metrics and logs.
	Kind() string
	// Evaluate returns the IDs of every matching document. The result is
	// owned by the caller.
	Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error)
	String() string
}

// Term matches documents whose field holds exactly Text. On an integer field
// Text is read as a base-10 number.
type Term struct {
	Field string
	Text  string
}

func (q Term) Kind() string { return KindTerm }

func (q Term) String() string { return q.Field + ":" + q.Text }

func (q Term) Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	kind, ok := s.FieldKind(q.Field)
	if !ok {
		return out, nil
	}
	if kind == field.KindInteger {
		n, err := strconv.ParseInt(q.Text, 10, 64)
		if err != nil {
			return out, nil
		}
		return NumericRange{Field: q.Field, Min: n, Max: n, MinInclusive: true, MaxInclusive: true}.Evaluate(s)
	}
	for _, seg := range s.Segments() {
		if bm := seg.Postings(q.Field, q.Text); bm != nil {
			out.Or(bm)
		}
	}
	return out, nil
}

// Wildcard matches keyword terms against Pattern, where '*' stands for any
// run of bytes and '?' for exactly one. The match is anchored at both ends
// and case-sensitive.
type Wildcard struct {
	Field   string
	Pattern string
}

func (q Wildcard) Kind() string { return KindWildcard }

func (q Wildcard) String() string { return q.Field + ":" + q.Pattern }

func (q Wildcard) Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error) {
	if q.Pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern on field %q", apperrors.ErrInvalidPattern, q.Field)
	}
	out := roaring64.New()
	if kind, ok := s.FieldKind(q.Field); !ok || kind != field.KindKeyword {
		return out, nil
	}
	prefix := literalPrefix(q.Pattern)
	for _, seg := range s.Segments() {
		for _, term := range seg.TermsWithPrefix(q.Field, prefix) {
			if Match(q.Pattern, term) {
				out.Or(seg.Postings(q.Field, term))
			}
		}
	}
	return out, nil
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Match reports whether text matches the glob pattern in full. `?` stands
// for exactly one character, not one byte.
func Match(pattern, text string) bool {
	p, t := 0, 0
	star, mark := -1, 0
	for t < len(text) {
		_, tn := utf8.DecodeRuneInString(text[t:])
		if p < len(pattern) {
			pr, pn := utf8.DecodeRuneInString(pattern[p:])
			if pr == '*' {
				star, mark = p, t
				p += pn
				continue
			}
			if pr == '?' || pattern[p:p+pn] == text[t:t+tn] {
				p += pn
				t += tn
				continue
			}
		}
		if star < 0 {
			return false
		}
		_, mn := utf8.DecodeRuneInString(text[mark:])
		mark += mn
		p, t = star+1, mark
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// NumericRange matches integer values between Min and Max, each end
// inclusive or exclusive on its own.
type NumericRange struct {
	Field        string
	Min          int64
	Max          int64
	MinInclusive bool
	MaxInclusive bool
}

// OpenRange returns a range with no bound on either side.
func OpenRange(name string) NumericRange {
	return NumericRange{Field: name, Min: math.MinInt64, Max: math.MaxInt64, MinInclusive: true, MaxInclusive: true}
}

func (q NumericRange) Kind() string { return KindRange }

func (q NumericRange) String() string {
	lb, rb := "{", "}"
	if q.MinInclusive {
		lb = "["
	}
	if q.MaxInclusive {
		rb = "]"
	}
	return fmt.Sprintf("%s:%s%d TO %d%s", q.Field, lb, q.Min, q.Max, rb)
}

// Bounds converts the query to inclusive bounds. ok is false when no value
// can match.
func (q NumericRange) Bounds() (lo, hi int64, ok bool) {
	lo, hi = q.Min, q.Max
	if !q.MinInclusive {
		if lo == math.MaxInt64 {
			return 0, 0, false
		}
		lo++
	}
	if !q.MaxInclusive {
		if hi == math.MinInt64 {
			return 0, 0, false
		}
		hi--
	}
	return lo, hi, lo <= hi
}

// Entries returns, per segment, the matching entries in value-then-ID order.
func (q NumericRange) Entries(s *snapshot.Snapshot) [][]index.NumericEntry {
	lo, hi, ok := q.Bounds()
	if !ok {
		return nil
	}
	var runs [][]index.NumericEntry
	for _, seg := range s.Segments() {
		if run := seg.NumericRange(q.Field, lo, hi); len(run) > 0 {
			runs = append(runs, run)
		}
	}
	return runs
}

func (q NumericRange) Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	for _, run := range q.Entries(s) {
		for _, e := range run {
			out.Add(e.DocID)
		}
	}
	return out, nil
}

// MatchAll matches every visible document.
type MatchAll struct{}

func (MatchAll) Kind() string { return KindMatchAll }

func (MatchAll) String() string { return "*:*" }

func (MatchAll) Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error) {
	return s.All().Clone(), nil
}
