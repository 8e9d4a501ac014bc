package field

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

// ValidationError holds per-field failure messages for one rejected document.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// Schema pins field names to kinds. Declared fields come from configuration;
// any other field is registered with the kind of the first value seen for it.
type Schema struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

func NewSchema(declared map[string]Kind) *Schema {
	kinds := make(map[string]Kind, len(declared))
	for name, kind := range declared {
		kinds[name] = kind
	}
	return &Schema{kinds: kinds}
}

// SchemaFromConfig parses the field → kind names of the config file.
func SchemaFromConfig(declared map[string]string) (*Schema, error) {
	kinds := make(map[string]Kind, len(declared))
	for name, raw := range declared {
		kind, err := ParseKind(raw)
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", name, err)
		}
		kinds[name] = kind
	}
	return NewSchema(kinds), nil
}

func (s *Schema) Kind(name string) (Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, ok := s.kinds[name]
	return kind, ok
}

// Fields returns a copy of the known field kinds.
func (s *Schema) Fields() map[string]Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Kind, len(s.kinds))
	for name, kind := range s.kinds {
		out[name] = kind
	}
	return out
}

// Validate checks every value against the schema and registers unseen
// fields. Nothing is registered when the document is rejected.
func (s *Schema) Validate(fields map[string]Value) error {
	errs := make(map[string]string)
	if len(fields) == 0 {
		errs["_document"] = "document has no fields"
		return &ValidationError{Fields: errs}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[string]Kind)
	for name, v := range fields {
		if name == "" {
			errs["_document"] = "field name must not be empty"
			continue
		}
		if v.IsZero() {
			errs[name] = "value has no kind"
			continue
		}
		want, ok := s.kinds[name]
		if !ok {
			fresh[name] = v.Kind()
			continue
		}
		if want != v.Kind() {
			errs[name] = fmt.Sprintf("expected %s value, got %s", want, v.Kind())
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	for name, kind := range fresh {
		s.kinds[name] = kind
	}
	return nil
}

// Coerce converts loosely typed input (decoded JSON, parsed text columns)
// into Values using the declared kinds. Undeclared fields take their kind
// from the Go type: integers become KindInteger, strings KindKeyword.
func (s *Schema) Coerce(raw map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(raw))
	errs := make(map[string]string)
	for name, in := range raw {
		kind, declared := s.Kind(name)
		if !declared {
			kind = guessKind(in)
		}
		v, err := coerceValue(kind, in)
		if err != nil {
			errs[name] = err.Error()
			continue
		}
		out[name] = v
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return out, nil
}

func guessKind(in any) Kind {
	switch x := in.(type) {
	case int, int32, int64, uint32, json.Number:
		return KindInteger
	case float64:
		if x == math.Trunc(x) {
			return KindInteger
		}
		return KindKeyword
	default:
		return KindKeyword
	}
}

func coerceValue(kind Kind, in any) (Value, error) {
	switch kind {
	case KindInteger:
		switch x := in.(type) {
		case int:
			return Int(int64(x)), nil
		case int32:
			return Int(int64(x)), nil
		case int64:
			return Int(x), nil
		case uint32:
			return Int(int64(x)), nil
		case float64:
			if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
				return Value{}, fmt.Errorf("%v is not an integer", x)
			}
			return Int(int64(x)), nil
		case json.Number:
			i, err := x.Int64()
			if err != nil {
				return Value{}, fmt.Errorf("%q is not an integer", x.String())
			}
			return Int(i), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%q is not an integer", x)
			}
			return Int(i), nil
		default:
			return Value{}, fmt.Errorf("unsupported integer input %T", in)
		}
	case KindKeyword:
		x, ok := in.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected string, got %T", in)
		}
		return Keyword(x), nil
	default:
		return Value{}, fmt.Errorf("unknown kind %s", kind)
	}
}
