package document

import (
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
)

// Store assigns identifiers and holds documents that have not been committed.
// The buffer is ordered by ID because assignment and append happen under the
// same lock.
type Store struct {
	mu      sync.Mutex
	schema  *field.Schema
	nextID  ID
	pending []Document
}

func NewStore(schema *field.Schema, firstID ID) *Store {
	return &Store{
		schema: schema,
		nextID: firstID,
	}
}

// Add validates fields and appends a new document to the buffer. A rejected
// document does not consume an ID.
func (s *Store) Add(fields map[string]field.Value) (ID, error) {
	if err := s.schema.Validate(fields); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.pending = append(s.pending, New(id, fields))
	return id, nil
}

// Pending returns a copy of the buffered documents in ID order.
func (s *Store) Pending() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Ack drops the first n buffered documents once they are part of a published
// snapshot. Documents added after the commit took its copy stay buffered.
func (s *Store) Ack(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n > len(s.pending) {
		return fmt.Errorf("ack %d documents: only %d pending", n, len(s.pending))
	}
	rest := make([]Document, len(s.pending)-n)
	copy(rest, s.pending[n:])
	s.pending = rest
	return nil
}

func (s *Store) NextID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Resume moves the ID counter to next when it is behind. Buffered documents
// whose IDs are below next are given fresh IDs from next onwards, keeping
// their order, so they can still be committed after segments from another
// writer claimed those IDs. It returns how many documents were renumbered.
func (s *Store) Resume(next ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 && s.pending[0].ID() < next {
		for i, d := range s.pending {
			s.pending[i] = Document{id: next + ID(i), fields: d.fields}
		}
		s.nextID = next + ID(len(s.pending))
		return len(s.pending)
	}
	if next > s.nextID {
		s.nextID = next
	}
	return 0
}

func (s *Store) Schema() *field.Schema {
	return s.schema
}
