package decoder

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXStream iterates the first worksheet of a workbook. Row numbers are
// the sheet's own row numbers.
type XLSXStream struct {
	file    *excelize.File
	iter    *excelize.Rows
	headers []string
	number  int
	rows    int
	maxRows int
	done    bool
}

// NewXLSXStream opens the workbook and reads the header row, which is the
// first non-blank row of the first sheet
func NewXLSXStream(r io.Reader, opts Options) (*XLSXStream, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, ErrNoHeader
	}

	iter, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	s := &XLSXStream{file: f, iter: iter, maxRows: opts.maxRows()}

	for iter.Next() {
		s.number++
		cells, err := iter.Columns()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if isBlank(cells) {
			continue
		}
		headers, err := normalizeHeaders(cells)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.headers = headers
		return s, nil
	}

	_ = s.Close()
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil, ErrNoHeader
}

// Headers returns the normalized header row
func (s *XLSXStream) Headers() []string { return s.headers }

// Rows returns the number of data rows returned so far
func (s *XLSXStream) Rows() int { return s.rows }

// Next returns the next data row. Trailing empty cells are trimmed by the
// workbook reader so short rows are padded rather than rejected.
func (s *XLSXStream) Next() (Row, error) {
	for {
		if s.done {
			return Row{}, io.EOF
		}
		if !s.iter.Next() {
			s.done = true
			if err := s.iter.Error(); err != nil {
				return Row{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return Row{}, io.EOF
		}
		s.number++

		cells, err := s.iter.Columns()
		if err != nil {
			return Row{}, fmt.Errorf("%w: row %d: %v", ErrMalformed, s.number, err)
		}
		if isBlank(cells) {
			continue
		}

		s.rows++
		if s.rows > s.maxRows {
			s.done = true
			return Row{}, ErrRowCapExceeded
		}

		row := Row{Number: s.number, Values: toRecord(s.headers, cells)}
		if extra := nonEmptyBeyond(cells, len(s.headers)); extra > 0 {
			row.Err = fmt.Errorf("found %d values outside the header columns", extra)
		}
		return row, nil
	}
}

// Close releases the row iterator and the workbook
func (s *XLSXStream) Close() error {
	if s.iter != nil {
		_ = s.iter.Close()
	}
	return s.file.Close()
}

func nonEmptyBeyond(cells []string, n int) int {
	count := 0
	for i := n; i < len(cells); i++ {
		if cells[i] != "" {
			count++
		}
	}
	return count
}
