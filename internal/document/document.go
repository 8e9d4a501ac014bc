// Package document defines immutable documents and the store that assigns
// their identifiers and buffers them until the next commit.
package document

import (
	"maps"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
)

// ID identifies a document. IDs are assigned sequentially and never reused.
type ID = uint64

// Document is an immutable mapping of field name to value.
type Document struct {
	id     ID
	fields map[string]field.Value
}

// New copies fields so later changes to the caller's map are not observed.
func New(id ID, fields map[string]field.Value) Document {
	return Document{id: id, fields: maps.Clone(fields)}
}

func (d Document) ID() ID { return d.id }

func (d Document) Get(name string) (field.Value, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Fields returns a copy of the document's fields.
func (d Document) Fields() map[string]field.Value {
	return maps.Clone(d.fields)
}

// Names returns the field names in sorted order.
func (d Document) Names() []string {
	return slices.Sorted(maps.Keys(d.fields))
}

func (d Document) Len() int { return len(d.fields) }
