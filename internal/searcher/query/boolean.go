package query

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

type Occur int

const (
	Must Occur = iota + 1
	Should
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "MUST"
	case Should:
		return "SHOULD"
	case MustNot:
		return "MUST_NOT"
	default:
		return fmt.Sprintf("Occur(%d)", int(o))
	}
}

type Clause struct {
	Query Query
	Occur Occur
}

// Boolean combines clauses as
// (all MUST) AND (any SHOULD, or every document if there is none) AND NOT
// (any MUST_NOT). With no clauses it matches nothing. Clauses that are all
// MUST_NOT match every document outside their union.
type Boolean struct {
	Clauses []Clause
}

func (q Boolean) Kind() string { return KindBoolean }

func (q Boolean) String() string {
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		inner := c.Query.String()
		if _, nested := c.Query.(Boolean); nested {
			inner = "(" + inner + ")"
		}
		switch c.Occur {
		case Must:
			parts = append(parts, "+"+inner)
		case MustNot:
			parts = append(parts, "-"+inner)
		default:
			parts = append(parts, inner)
		}
	}
	return strings.Join(parts, " ")
}

func (q Boolean) Evaluate(s *snapshot.Snapshot) (*roaring64.Bitmap, error) {
	if len(q.Clauses) == 0 {
		return roaring64.New(), nil
	}
	var must []*roaring64.Bitmap
	var should *roaring64.Bitmap
	exclude := roaring64.New()
	for i, c := range q.Clauses {
		if c.Query == nil {
			return nil, fmt.Errorf("%w: clause %d has no query", apperrors.ErrInvalidInput, i)
		}
		bm, err := c.Query.Evaluate(s)
		if err != nil {
			return nil, err
		}
		switch c.Occur {
		case Must:
			must = append(must, bm)
		case Should:
			if should == nil {
				should = bm
			} else {
				should.Or(bm)
			}
		case MustNot:
			exclude.Or(bm)
		default:
			return nil, fmt.Errorf("%w: clause %d has occurrence %s", apperrors.ErrInvalidInput, i, c.Occur)
		}
	}

	var out *roaring64.Bitmap
	switch {
	case len(must) > 0:
		out = must[0]
		for _, bm := range must[1:] {
			out.And(bm)
		}
	default:
		out = s.All().Clone()
	}
	if should != nil {
		out.And(should)
	}
	out.AndNot(exclude)
	return out, nil
}
