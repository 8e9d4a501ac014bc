// Package loader reads and writes the tab-delimited demo data files. Each
// line is "<num>\tvalue<r>\t<date>" and becomes a document with the fields
// num (integer), str_num (keyword copy of num), val and date.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

const (
	separator = "\t"
	// ValueRange bounds the random suffix of the val column.
	ValueRange = 1000
	dateLayout = time.UnixDate
)

// Record is one parsed data line.
type Record struct {
	Num  int64
	Val  string
	Date string
}

// Fields returns the document fields for the record.
func (r Record) Fields() map[string]any {
	return map[string]any{
		"num":     r.Num,
		"str_num": strconv.FormatInt(r.Num, 10),
		"val":     r.Val,
		"date":    r.Date,
	}
}

// Generate writes n lines numbered 0..n-1 with a random val suffix in
// [0, ValueRange) and now as the date.
func Generate(w io.Writer, n int, rng *rand.Rand, now time.Time) error {
	bw := bufio.NewWriter(w)
	date := now.Format(dateLayout)
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(bw, "%d%svalue%d%s%s\n", i, separator, rng.Intn(ValueRange), separator, date); err != nil {
			return fmt.Errorf("writing data line %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing data file: %w", err)
	}
	return nil
}

// GenerateFile creates (or truncates) path and fills it via Generate.
func GenerateFile(path string, n int, rng *rand.Rand, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating data file: %w", err)
	}
	if err := Generate(f, n, rng, now); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ParseLine splits one data line into a Record.
func ParseLine(line string) (Record, error) {
	cols := strings.Split(line, separator)
	if len(cols) != 3 {
		return Record{}, fmt.Errorf("%w: expected 3 columns, got %d", apperrors.ErrInvalidInput, len(cols))
	}
	num, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: num column %q is not an integer", apperrors.ErrInvalidInput, cols[0])
	}
	return Record{Num: num, Val: cols[1], Date: cols[2]}, nil
}

// Load parses every non-empty line of r and hands its fields to add, in file
// order. It stops at the first malformed line or add error and returns how
// many records were added.
func Load(r io.Reader, add func(fields map[string]any) error) (int, error) {
	sc := bufio.NewScanner(r)
	added, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return added, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := add(rec.Fields()); err != nil {
			return added, fmt.Errorf("line %d: %w", lineNo, err)
		}
		added++
	}
	if err := sc.Err(); err != nil {
		return added, fmt.Errorf("reading data file: %w", err)
	}
	return added, nil
}

// LoadFile opens path and calls Load on it.
func LoadFile(path string, add func(fields map[string]any) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()
	return Load(f, add)
}
