package decoder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// CSVStream decodes comma separated input one record at a time.
//
// Empty lines are dropped by the csv reader and do not take a row number.
// Records whose cells are all blank take a row number but are not returned
// and do not count toward the row cap.
type CSVStream struct {
	reader  *csv.Reader
	headers []string
	number  int
	rows    int
	maxRows int
	done    bool
}

// NewCSVStream reads the header record and returns a stream positioned at the first data row
func NewCSVStream(r io.Reader, opts Options) (*CSVStream, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}

	headers, err := normalizeHeaders(header)
	if err != nil {
		return nil, err
	}

	return &CSVStream{
		reader:  reader,
		headers: headers,
		number:  1,
		maxRows: opts.maxRows(),
	}, nil
}

// Headers returns the normalized header row
func (s *CSVStream) Headers() []string { return s.headers }

// Rows returns the number of data rows returned so far
func (s *CSVStream) Rows() int { return s.rows }

// Close is a no-op; the caller owns the underlying reader
func (s *CSVStream) Close() error { return nil }

// Next returns the next data row, io.EOF at the end, ErrRowCapExceeded once
// the cap is passed, or ErrMalformed when the parser lost the record boundary.
func (s *CSVStream) Next() (Row, error) {
	for {
		if s.done {
			return Row{}, io.EOF
		}

		cells, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			s.done = true
			return Row{}, io.EOF
		}
		s.number++

		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				s.done = true
				return Row{}, fmt.Errorf("reading row %d: %w", s.number, err)
			}
			// A quote error that ran across lines means we no longer know where rows start
			if errors.Is(perr.Err, csv.ErrQuote) && perr.Line > perr.StartLine {
				s.done = true
				return Row{}, fmt.Errorf("%w: unterminated quoted field starting on line %d", ErrMalformed, perr.StartLine)
			}
			if err := s.countRow(); err != nil {
				return Row{}, err
			}
			return Row{
				Number: s.number,
				Values: toRecord(s.headers, cells),
				Err:    fmt.Errorf("malformed CSV: %s", describeParseError(perr)),
			}, nil
		}

		if isBlank(cells) {
			continue
		}

		if err := s.countRow(); err != nil {
			return Row{}, err
		}

		row := Row{Number: s.number, Values: toRecord(s.headers, cells)}
		if len(cells) != len(s.headers) {
			row.Err = fmt.Errorf("expected %d columns but found %d", len(s.headers), len(cells))
		}
		return row, nil
	}
}

func (s *CSVStream) countRow() error {
	s.rows++
	if s.rows > s.maxRows {
		s.done = true
		return ErrRowCapExceeded
	}
	return nil
}

func describeParseError(perr *csv.ParseError) string {
	switch {
	case errors.Is(perr.Err, csv.ErrBareQuote):
		return fmt.Sprintf("unexpected quote in unquoted field at column %d", perr.Column)
	case errors.Is(perr.Err, csv.ErrQuote):
		return fmt.Sprintf("misplaced quote in quoted field at column %d", perr.Column)
	default:
		return perr.Err.Error()
	}
}
