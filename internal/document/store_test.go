package document

import (
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(field.NewSchema(map[string]field.Kind{
		"num": field.KindInteger,
		"val": field.KindKeyword,
	}), 0)
}

func TestStoreAssignsSequentialIDs(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 5; i++ {
		id, err := s.Add(map[string]field.Value{"num": field.Int(int64(i))})
		require.NoError(t, err)
		assert.Equal(t, ID(i), id)
	}
	assert.Equal(t, 5, s.PendingCount())
	assert.Equal(t, ID(5), s.NextID())
}

func TestStoreRejectedDocumentConsumesNoID(t *testing.T) {
	s := newTestStore()
	_, err := s.Add(map[string]field.Value{"num": field.Keyword("abc")})
	require.Error(t, err)
	id, err := s.Add(map[string]field.Value{"num": field.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ID(0), id)
}

func TestStoreAckKeepsLaterDocuments(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		_, err := s.Add(map[string]field.Value{"num": field.Int(int64(i))})
		require.NoError(t, err)
	}
	batch := s.Pending()
	_, err := s.Add(map[string]field.Value{"num": field.Int(99)})
	require.NoError(t, err)

	require.NoError(t, s.Ack(len(batch)))
	rest := s.Pending()
	require.Len(t, rest, 1)
	assert.Equal(t, ID(3), rest[0].ID())

	assert.Error(t, s.Ack(2))
}

func TestStoreConcurrentAddsStayOrdered(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := s.Add(map[string]field.Value{"val": field.Keyword("x")})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	pending := s.Pending()
	require.Len(t, pending, 800)
	for i, d := range pending {
		assert.Equal(t, ID(i), d.ID())
	}
}

func TestDocumentIsImmutable(t *testing.T) {
	fields := map[string]field.Value{"val": field.Keyword("a")}
	d := New(1, fields)
	fields["val"] = field.Keyword("b")
	v, _ := d.Get("val")
	assert.Equal(t, field.Keyword("a"), v)

	copied := d.Fields()
	copied["val"] = field.Keyword("c")
	v, _ = d.Get("val")
	assert.Equal(t, field.Keyword("a"), v)
	assert.Equal(t, []string{"val"}, d.Names())
}

func TestStoreResume(t *testing.T) {
	s := newTestStore()
	s.Resume(100)
	id, err := s.Add(map[string]field.Value{"num": field.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ID(100), id)
	s.Resume(50)
	assert.Equal(t, ID(101), s.NextID())
}

func TestStoreResumeRenumbersPending(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		_, err := s.Add(map[string]field.Value{"num": field.Int(int64(i))})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.Resume(20))

	pending := s.Pending()
	require.Len(t, pending, 3)
	for i, d := range pending {
		assert.Equal(t, ID(20+i), d.ID())
		v, _ := d.Get("num")
		assert.Equal(t, field.Int(int64(i)), v)
	}
	id, err := s.Add(map[string]field.Value{"num": field.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, ID(23), id)

	assert.Zero(t, s.Resume(23), "pending already past the floor")
}
