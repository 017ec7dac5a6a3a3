// Package decoder turns uploaded files into a forward-only stream of
// header keyed rows.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/types"
)

// DefaultMaxRows is the data row cap applied when Options.MaxRows is zero
const DefaultMaxRows = 10000

var (
	// ErrRowCapExceeded is returned by Next when the file holds more data rows than allowed
	ErrRowCapExceeded = errors.New("row limit exceeded")
	// ErrMalformed is returned when a row boundary cannot be recovered
	ErrMalformed = errors.New("malformed file")
	// ErrNoHeader is returned for files without a header row
	ErrNoHeader = errors.New("file has no header row")
	// ErrDuplicateHeader is returned when two columns normalize to the same name
	ErrDuplicateHeader = errors.New("duplicate column header")
)

// Options tunes a stream
type Options struct {
	MaxRows int
}

func (o Options) maxRows() int {
	if o.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return o.MaxRows
}

// Row is one decoded data row. Number is 1-based with the header as row 1.
// Err is set when the row itself could not be decoded; the stream can still
// continue past it.
type Row struct {
	Number int
	Values models.RawRecord
	Err    error
}

// Stream is a pull based, non restartable sequence of rows. Next returns
// io.EOF after the last row.
type Stream interface {
	Headers() []string
	Next() (Row, error)
	// Rows returns the number of data rows handed out so far
	Rows() int
	Close() error
}

// Open picks the stream implementation for a format
func Open(format types.FileFormat, r io.Reader, opts Options) (Stream, error) {
	switch format {
	case types.FormatCSV:
		return NewCSVStream(r, opts)
	case types.FormatXLSX:
		return NewXLSXStream(r, opts)
	default:
		return nil, fmt.Errorf("unsupported file format %q", format)
	}
}

// FormatFor chooses a format from the detected MIME type, falling back to the file extension
func FormatFor(mimeType, fileName string) types.FileFormat {
	switch {
	case strings.Contains(mimeType, "spreadsheetml"), strings.EqualFold(filepath.Ext(fileName), ".xlsx"):
		return types.FormatXLSX
	default:
		return types.FormatCSV
	}
}

// PreviewResult is the head of a file used to suggest a mapping
type PreviewResult struct {
	Headers []string           `json:"headers"`
	Rows    []models.RawRecord `json:"rows"`
}

// Preview reads the headers and at most n rows. Rows that failed to decode
// are skipped.
func Preview(s Stream, n int) (*PreviewResult, error) {
	res := &PreviewResult{Headers: s.Headers(), Rows: make([]models.RawRecord, 0, n)}
	for len(res.Rows) < n {
		row, err := s.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, ErrRowCapExceeded) {
			break
		}
		if err != nil {
			return nil, err
		}
		if row.Err != nil {
			continue
		}
		res.Rows = append(res.Rows, row.Values)
	}
	return res, nil
}

// normalizeHeaders trims and lower-cases headers and rejects duplicates.
// Empty header cells are kept as "" so column positions stay aligned.
func normalizeHeaders(raw []string) ([]string, error) {
	headers := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.ToLower(strings.TrimSpace(h))
		headers[i] = h
		if h == "" {
			continue
		}
		if seen[h] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHeader, h)
		}
		seen[h] = true
	}
	for _, h := range headers {
		if h != "" {
			return headers, nil
		}
	}
	return nil, ErrNoHeader
}

// toRecord keys cells by header, dropping unnamed columns
func toRecord(headers, cells []string) models.RawRecord {
	rec := make(models.RawRecord, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			rec[h] = cells[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
