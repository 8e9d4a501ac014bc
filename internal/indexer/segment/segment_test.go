package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

func buildSegment(t testing.TB, first document.ID, n int) *index.Segment {
	t.Helper()
	schema := field.NewSchema(map[string]field.Kind{
		"num":     field.KindInteger,
		"str_num": field.KindKeyword,
		"val":     field.KindKeyword,
		"date":    field.KindKeyword,
	})
	docs := make([]document.Document, 0, n)
	for i := 0; i < n; i++ {
		id := first + document.ID(i)
		docs = append(docs, document.New(id, map[string]field.Value{
			"num":     field.Int(int64(i % 50)),
			"str_num": field.Keyword(fmt.Sprint(i)),
			"val":     field.Keyword(fmt.Sprintf("value%d", i%37)),
			"date":    field.Keyword("2026-10-17"),
		}))
	}
	seg, err := index.Build(docs, schema)
	require.NoError(t, err)
	return seg
}

func TestWriteAndReadBack(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			seg := buildSegment(t, 100, 500)

			name, err := NewWriter(dir, c).Write(seg)
			require.NoError(t, err)
			assert.Equal(t, FileName(seg), name)

			r, err := OpenReader(filepath.Join(dir, name))
			require.NoError(t, err)
			assert.Equal(t, uint32(500), r.DocCount())
			assert.Equal(t, c, r.Header().Compression)

			got := r.Segment()
			assert.Equal(t, seg.MinID(), got.MinID())
			assert.Equal(t, seg.MaxID(), got.MaxID())
			assert.Equal(t, seg.Terms("val"), got.Terms("val"))
			assert.Equal(t, seg.Postings("val", "value3").ToArray(), got.Postings("val", "value3").ToArray())
			assert.Equal(t, seg.NumericEntries("num"), got.NumericEntries("num"))

			d, ok := got.Doc(150)
			require.True(t, ok)
			v, _ := d.Get("str_num")
			assert.Equal(t, field.Keyword("50"), v)
			n, _ := d.Get("num")
			assert.Equal(t, field.Int(0), n)
		})
	}
}

func TestListSortsByID(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, CompressionNone)
	for _, first := range []document.ID{2000, 5, 300} {
		_, err := w.Write(buildSegment(t, first, 3))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	names, err := List(dir)
	require.NoError(t, err)
	require.Len(t, names, 3)
	assert.Equal(t, FileName(buildSegment(t, 5, 3)), names[0])
	assert.Equal(t, FileName(buildSegment(t, 2000, 3)), names[2])

	names, err = List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemoveDeletesWrittenSegment(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, CompressionLZ4)
	name, err := w.Write(buildSegment(t, 0, 3))
	require.NoError(t, err)

	require.NoError(t, w.Remove(name))
	names, err := List(dir)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, w.Remove(name), "already gone")
}

func TestOpenReaderRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir, CompressionZSTD).Write(buildSegment(t, 0, 50))
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize+3] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum")

	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	_, err = OpenReader(path)
	assert.Error(t, err)

	bad := make([]byte, HeaderSize+FooterSize)
	require.NoError(t, os.WriteFile(path, bad, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "magic")
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestBlockRoundTrip(t *testing.T) {
	incompressible := []byte{0x01, 0x7f, 0x33}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, data := range [][]byte{incompressible, make([]byte, 4096), {}} {
			enc, err := encodeBlock(data, c)
			require.NoError(t, err)
			dec, err := decodeBlock(enc, c)
			require.NoError(t, err)
			assert.Equal(t, len(data), len(dec))
		}
	}
}

func BenchmarkWriteSegment(b *testing.B) {
	dir := b.TempDir()
	seg := buildSegment(b, 0, 1000)
	w := NewWriter(dir, CompressionLZ4)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := w.Write(seg); err != nil {
			b.Fatal(err)
		}
	}
}
