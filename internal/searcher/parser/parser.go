// Package parser turns the text query syntax accepted by the HTTP API and the
// REPL into query values.
//
//	val:value7             term
//	val:value1*  val:v?x   wildcard
//	num:[10 TO 12}         range; [ ] inclusive, { } exclusive, * open
//	num:>=10  num:<3       range shorthand
//	*:*                    match all
//	+a -b c                MUST, MUST_NOT, SHOULD
//	a AND b, a OR b, NOT a keyword forms
//	+(a b) -c              grouping
//
// Values may be double-quoted to include spaces or reserved characters.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

// Parse parses q. A query that is a single clause without a MUST_NOT prefix
// parses to that clause's query rather than a one-clause Boolean.
func Parse(q string) (query.Query, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrInvalidInput)
	}
	p := &parser{src: q}
	b, err := p.parseGroup(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	return simplify(b), nil
}

func simplify(b query.Boolean) query.Query {
	if len(b.Clauses) == 1 && b.Clauses[0].Occur != query.MustNot {
		return b.Clauses[0].Query
	}
	return b
}

type parser struct {
	src string
	pos int
}

const maxDepth = 32

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", apperrors.ErrInvalidInput, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// parseGroup reads clauses until end of input or, inside parentheses, the
// closing paren.
func (p *parser) parseGroup(depth int) (query.Boolean, error) {
	if depth > maxDepth {
		return query.Boolean{}, p.errorf("nesting deeper than %d", maxDepth)
	}
	var (
		out         query.Boolean
		nextDefault = query.Should
	)
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			break
		}
		if p.src[p.pos] == ')' {
			if depth == 0 {
				return out, p.errorf("unbalanced ')'")
			}
			break
		}
		if kw, ok := p.keyword(); ok {
			switch kw {
			case "AND":
				if n := len(out.Clauses); n > 0 && out.Clauses[n-1].Occur == query.Should {
					out.Clauses[n-1].Occur = query.Must
				}
				nextDefault = query.Must
			case "OR":
				nextDefault = query.Should
			case "NOT":
				nextDefault = query.MustNot
			}
			continue
		}

		occur := nextDefault
		nextDefault = query.Should
		switch p.src[p.pos] {
		case '+':
			occur = query.Must
			p.pos++
		case '-':
			occur = query.MustNot
			p.pos++
		}

		var q query.Query
		if p.pos < len(p.src) && p.src[p.pos] == '(' {
			p.pos++
			inner, err := p.parseGroup(depth + 1)
			if err != nil {
				return out, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return out, p.errorf("missing ')'")
			}
			p.pos++
			q = simplify(inner)
		} else {
			var err error
			if q, err = p.parseClause(); err != nil {
				return out, err
			}
		}
		out.Clauses = append(out.Clauses, query.Clause{Query: q, Occur: occur})
	}
	if len(out.Clauses) == 0 {
		return out, p.errorf("no clauses")
	}
	return out, nil
}

// keyword consumes AND, OR or NOT when it stands alone as a word.
func (p *parser) keyword() (string, bool) {
	for _, kw := range []string{"AND", "OR", "NOT"} {
		end := p.pos + len(kw)
		if end > len(p.src) || p.src[p.pos:end] != kw {
			continue
		}
		if end < len(p.src) && !isSpace(p.src[end]) && p.src[end] != '(' {
			continue
		}
		p.pos = end
		return kw, true
	}
	return "", false
}

func (p *parser) parseClause() (query.Query, error) {
	if strings.HasPrefix(p.src[p.pos:], "*:*") {
		p.pos += 3
		return query.MatchAll{}, nil
	}
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != ':' && !isSpace(p.src[p.pos]) && p.src[p.pos] != ')' {
		p.pos++
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ':' {
		return nil, p.errorf("expected field:value, got %q", p.src[start:p.pos])
	}
	name := p.src[start:p.pos]
	if name == "" {
		return nil, p.errorf("missing field name")
	}
	p.pos++
	if p.pos >= len(p.src) {
		return nil, p.errorf("missing value for field %q", name)
	}

	switch c := p.src[p.pos]; {
	case c == '[' || c == '{':
		return p.parseRange(name)
	case c == '"':
		text, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return query.Term{Field: name, Text: text}, nil
	case c == '>' || c == '<':
		return p.parseComparison(name)
	}

	vstart := p.pos
	for p.pos < len(p.src) && !isSpace(p.src[p.pos]) && p.src[p.pos] != ')' {
		p.pos++
	}
	text := p.src[vstart:p.pos]
	if text == "" {
		return nil, p.errorf("missing value for field %q", name)
	}
	if strings.ContainsAny(text, "*?") {
		return query.Wildcard{Field: name, Pattern: text}, nil
	}
	return query.Term{Field: name, Text: text}, nil
}

func (p *parser) quoted() (string, error) {
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated quote")
}

func (p *parser) parseRange(name string) (query.Query, error) {
	minInclusive := p.src[p.pos] == '['
	p.pos++
	end := strings.IndexAny(p.src[p.pos:], "]}")
	if end < 0 {
		return nil, p.errorf("unterminated range for field %q", name)
	}
	body := p.src[p.pos : p.pos+end]
	maxInclusive := p.src[p.pos+end] == ']'
	p.pos += end + 1

	parts := strings.Fields(body)
	if len(parts) != 3 || parts[1] != "TO" {
		return nil, p.errorf("range must look like [min TO max], got %q", body)
	}
	q := query.OpenRange(name)
	q.MinInclusive, q.MaxInclusive = minInclusive, maxInclusive
	if parts[0] != "*" {
		n, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, p.errorf("bad range bound %q", parts[0])
		}
		q.Min = n
	} else {
		q.MinInclusive = true
	}
	if parts[2] != "*" {
		n, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, p.errorf("bad range bound %q", parts[2])
		}
		q.Max = n
	} else {
		q.MaxInclusive = true
	}
	return q, nil
}

func (p *parser) parseComparison(name string) (query.Query, error) {
	op := string(p.src[p.pos])
	p.pos++
	if p.pos < len(p.src) && p.src[p.pos] == '=' {
		op += "="
		p.pos++
	}
	start := p.pos
	for p.pos < len(p.src) && !isSpace(p.src[p.pos]) && p.src[p.pos] != ')' {
		p.pos++
	}
	n, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		return nil, p.errorf("bad number %q after %s", p.src[start:p.pos], op)
	}
	q := query.OpenRange(name)
	switch op {
	case ">":
		q.Min, q.MinInclusive = n, false
	case ">=":
		q.Min = n
	case "<":
		q.Max, q.MaxInclusive = n, false
	case "<=":
		q.Max = n
	}
	return q, nil
}
