// Package field holds the typed values stored in documents and the schema
// that pins each field name to one kind.
package field

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrKindMismatch is returned when two values of different kinds are compared.
var ErrKindMismatch = errors.New("field kinds differ")

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindKeyword
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int":
		return KindInteger, nil
	case "keyword", "string":
		return KindKeyword, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q", s)
	}
}

// Value is a tagged union of an int64 and an exact string. The zero Value has
// no kind and is never stored.
type Value struct {
	kind Kind
	num  int64
	text string
}

func Int(i int64) Value {
	return Value{kind: KindInteger, num: i}
}

func Keyword(s string) Value {
	return Value{kind: KindKeyword, text: s}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsZero() bool { return v.kind == 0 }

func (v Value) Int() (int64, bool) {
	return v.num, v.kind == KindInteger
}

func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindKeyword
}

// String renders the value the way result lines print it.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindKeyword:
		return v.text
	default:
		return ""
	}
}

// Any returns the value as a plain Go value for JSON encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.num
	case KindKeyword:
		return v.text
	default:
		return nil
	}
}

// Compare orders integers numerically and keywords byte-lexicographically.
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, fmt.Errorf("%w: %s vs %s", ErrKindMismatch, a.kind, b.kind)
	}
	switch a.kind {
	case KindInteger:
		return cmp.Compare(a.num, b.num), nil
	case KindKeyword:
		return strings.Compare(a.text, b.text), nil
	default:
		return 0, nil
	}
}

// Equal reports whether a and b have the same kind and value.
func Equal(a, b Value) bool {
	return a == b
}
