// Package segment stores built index segments as .spdx files so another
// process, or a restart, can load them back.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 80
	FooterSize    int    = 8
	Extension            = ".spdx"
)

// SegmentHeader is the fixed header at the start of every segment file. The
// four blocks follow it in order: documents, dictionary, postings, numerics.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	Compression Compression
	DocCount    uint32
	MinID       uint64
	MaxID       uint64
	CreatedAt   int64
	DocsSize    int64
	DictSize    int64
	PostSize    int64
	NumSize     int64
}

func (h SegmentHeader) marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.Compression))
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], h.MinID)
	binary.LittleEndian.PutUint64(b[24:32], h.MaxID)
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DocsSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.NumSize))
	return b
}

func unmarshalHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:       binary.LittleEndian.Uint32(b[0:4]),
		Version:     binary.LittleEndian.Uint32(b[4:8]),
		Compression: Compression(binary.LittleEndian.Uint32(b[8:12])),
		DocCount:    binary.LittleEndian.Uint32(b[12:16]),
		MinID:       binary.LittleEndian.Uint64(b[16:24]),
		MaxID:       binary.LittleEndian.Uint64(b[24:32]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DocsSize:    int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:    int64(binary.LittleEndian.Uint64(b[48:56])),
		PostSize:    int64(binary.LittleEndian.Uint64(b[56:64])),
		NumSize:     int64(binary.LittleEndian.Uint64(b[64:72])),
	}
}

// DictEntry locates one posting list inside the postings block.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    uint64 `json:"d"`
}

type storedDoc struct {
	ID       document.ID       `json:"id"`
	Ints     map[string]int64  `json:"i,omitempty"`
	Keywords map[string]string `json:"k,omitempty"`
}

// Writer serialises segments into .spdx files in one directory.
type Writer struct {
	dataDir     string
	compression Compression
}

func NewWriter(dataDir string, compression Compression) *Writer {
	return &Writer{dataDir: dataDir, compression: compression}
}

func (w *Writer) Dir() string { return w.dataDir }

// FileName is the name a segment is stored under. Names sort in ID order.
func FileName(seg *index.Segment) string {
	return fmt.Sprintf("seg_%020d_%020d%s", seg.MinID(), seg.MaxID(), Extension)
}

// Write atomically creates the segment file, writing to a .tmp file first and
// renaming on success. It returns the file name.
func (w *Writer) Write(seg *index.Segment) (string, error) {
	if seg == nil || seg.DocCount() == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	docs, err := encodeDocs(seg)
	if err != nil {
		return "", err
	}
	dict, postings, err := encodePostings(seg)
	if err != nil {
		return "", err
	}
	numerics := make(map[string][]index.NumericEntry)
	for _, name := range seg.NumericFields() {
		numerics[name] = seg.NumericEntries(name)
	}
	numData, err := json.Marshal(numerics)
	if err != nil {
		return "", fmt.Errorf("marshaling numeric entries: %w", err)
	}

	blocks := make([][]byte, 0, 4)
	for _, raw := range [][]byte{docs, dict, postings, numData} {
		b, err := encodeBlock(raw, w.compression)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, b)
	}
	header := SegmentHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		Compression: w.compression,
		DocCount:    uint32(seg.DocCount()),
		MinID:       seg.MinID(),
		MaxID:       seg.MaxID(),
		CreatedAt:   time.Now().Unix(),
		DocsSize:    int64(len(blocks[0])),
		DictSize:    int64(len(blocks[1])),
		PostSize:    int64(len(blocks[2])),
		NumSize:     int64(len(blocks[3])),
	}

	segmentName := FileName(seg)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"
	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(header.marshal()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	crc := crc32.NewIEEE()
	for _, b := range blocks {
		if _, err := f.Write(b); err != nil {
			return "", fmt.Errorf("writing block: %w", err)
		}
		crc.Write(b)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

// Remove deletes a segment file written by Write. A missing file is not an
// error.
func (w *Writer) Remove(name string) error {
	err := os.Remove(filepath.Join(w.dataDir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing segment %s: %w", name, err)
	}
	return nil
}

func encodeDocs(seg *index.Segment) ([]byte, error) {
	stored := make([]storedDoc, 0, seg.DocCount())
	for _, doc := range seg.Docs() {
		sd := storedDoc{ID: doc.ID()}
		for name, v := range doc.Fields() {
			switch v.Kind() {
			case field.KindInteger:
				if sd.Ints == nil {
					sd.Ints = make(map[string]int64)
				}
				sd.Ints[name], _ = v.Int()
			case field.KindKeyword:
				if sd.Keywords == nil {
					sd.Keywords = make(map[string]string)
				}
				sd.Keywords[name], _ = v.Text()
			}
		}
		stored = append(stored, sd)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshaling documents: %w", err)
	}
	return data, nil
}

func encodePostings(seg *index.Segment) (dictData, postings []byte, err error) {
	var dict []DictEntry
	err = seg.ForEachPosting(func(name, term string, docs *roaring64.Bitmap) error {
		data, err := docs.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshaling postings for %s:%q: %w", name, term, err)
		}
		dict = append(dict, DictEntry{
			Field:      name,
			Term:       term,
			PostOffset: int64(len(postings)),
			PostLen:    len(data),
			DocFreq:    docs.GetCardinality(),
		})
		postings = append(postings, data...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	dictData, err = json.Marshal(dict)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling dictionary: %w", err)
	}
	return dictData, postings, nil
}

// List returns the segment file names in dataDir in ID order.
func List(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
