package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
)

// Reader is a segment file decoded back into memory.
type Reader struct {
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	segment  *index.Segment
}

// OpenReader reads, verifies and decodes a segment file.
func OpenReader(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("invalid segment file %s: too short", filepath.Base(path))
	}
	header := unmarshalHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	payloadEnd := len(data) - FooterSize
	sizes := []int64{header.DocsSize, header.DictSize, header.PostSize, header.NumSize}
	var total int64
	for _, s := range sizes {
		total += s
	}
	if total != int64(payloadEnd-HeaderSize) {
		return nil, fmt.Errorf("segment block sizes %d do not match payload %d", total, payloadEnd-HeaderSize)
	}
	payload := data[HeaderSize:payloadEnd]
	footer := data[payloadEnd:]
	if got, want := crc32.ChecksumIEEE(payload), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return nil, fmt.Errorf("segment checksum mismatch: %08x != %08x", got, want)
	}

	blocks := make([][]byte, len(sizes))
	var off int64
	for i, s := range sizes {
		raw, err := decodeBlock(payload[off:off+s], header.Compression)
		if err != nil {
			return nil, fmt.Errorf("decoding block %d: %w", i, err)
		}
		blocks[i] = raw
		off += s
	}

	docs, err := decodeDocs(blocks[0])
	if err != nil {
		return nil, err
	}
	var dict []DictEntry
	if err := json.Unmarshal(blocks[1], &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	postings, err := decodePostings(dict, blocks[2])
	if err != nil {
		return nil, err
	}
	var numerics map[string][]index.NumericEntry
	if err := json.Unmarshal(blocks[3], &numerics); err != nil {
		return nil, fmt.Errorf("parsing numeric entries: %w", err)
	}

	seg, err := index.Assemble(docs, postings, numerics)
	if err != nil {
		return nil, fmt.Errorf("assembling segment %s: %w", filepath.Base(path), err)
	}
	if uint32(seg.DocCount()) != header.DocCount || seg.MinID() != header.MinID || seg.MaxID() != header.MaxID {
		return nil, fmt.Errorf("segment %s header disagrees with its documents", filepath.Base(path))
	}
	return &Reader{
		filePath: path,
		header:   header,
		dict:     dict,
		segment:  seg,
	}, nil
}

func decodeDocs(data []byte) ([]document.Document, error) {
	var stored []storedDoc
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing documents: %w", err)
	}
	docs := make([]document.Document, 0, len(stored))
	for _, sd := range stored {
		fields := make(map[string]field.Value, len(sd.Ints)+len(sd.Keywords))
		for name, n := range sd.Ints {
			fields[name] = field.Int(n)
		}
		for name, s := range sd.Keywords {
			fields[name] = field.Keyword(s)
		}
		docs = append(docs, document.New(sd.ID, fields))
	}
	return docs, nil
}

func decodePostings(dict []DictEntry, block []byte) (map[string]map[string]*roaring64.Bitmap, error) {
	out := make(map[string]map[string]*roaring64.Bitmap)
	for _, entry := range dict {
		end := entry.PostOffset + int64(entry.PostLen)
		if entry.PostOffset < 0 || end > int64(len(block)) {
			return nil, fmt.Errorf("postings for %s:%q out of bounds", entry.Field, entry.Term)
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(block[entry.PostOffset:end]); err != nil {
			return nil, fmt.Errorf("parsing postings for %s:%q: %w", entry.Field, entry.Term, err)
		}
		if bm.GetCardinality() != entry.DocFreq {
			return nil, fmt.Errorf("postings for %s:%q: doc freq %d, stored %d", entry.Field, entry.Term, bm.GetCardinality(), entry.DocFreq)
		}
		terms, ok := out[entry.Field]
		if !ok {
			terms = make(map[string]*roaring64.Bitmap)
			out[entry.Field] = terms
		}
		terms[entry.Term] = bm
	}
	return out, nil
}

func (r *Reader) Segment() *index.Segment { return r.segment }

func (r *Reader) Path() string { return r.filePath }

func (r *Reader) Header() SegmentHeader { return r.header }

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}
