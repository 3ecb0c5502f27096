package series

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrColumnNotFound is returned when a requested CSV column is missing.
var ErrColumnNotFound = errors.New("column not found")

// CSVOptions controls how LoadCSV maps columns onto a Series.
type CSVOptions struct {
	// TimeColumn names the time index column. Empty means the row number
	// is used as time.
	TimeColumn string

	// ValueColumns names the channels to load, in order. Empty means every
	// column other than TimeColumn.
	ValueColumns []string

	// Delimiter is the field separator, ',' if zero.
	Delimiter rune
}

// LoadCSV loads a series from a CSV file with a header row.
func LoadCSV(filename string, opts CSVOptions) (*Series, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return s, nil
}

// ReadCSV reads a series from r. The first row must be a header.
func ReadCSV(r io.Reader, opts CSVOptions) (*Series, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.Trim(h, "\""))
	}

	timeIdx := -1
	if opts.TimeColumn != "" {
		timeIdx = indexOf(header, opts.TimeColumn)
		if timeIdx < 0 {
			return nil, fmt.Errorf("%w: time column %q", ErrColumnNotFound, opts.TimeColumn)
		}
	}

	var valueIdx []int
	var names []string
	if len(opts.ValueColumns) == 0 {
		for i, h := range header {
			if i != timeIdx {
				valueIdx = append(valueIdx, i)
				names = append(names, h)
			}
		}
	} else {
		for _, col := range opts.ValueColumns {
			i := indexOf(header, col)
			if i < 0 {
				return nil, fmt.Errorf("%w: value column %q", ErrColumnNotFound, col)
			}
			valueIdx = append(valueIdx, i)
			names = append(names, col)
		}
	}
	if len(valueIdx) == 0 {
		return nil, errors.New("no value columns")
	}

	s := &Series{Channels: make([][]float64, len(valueIdx)), Names: names}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row++

		t := float64(row - 1)
		if timeIdx >= 0 {
			t, err = strconv.ParseFloat(strings.TrimSpace(record[timeIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad time value: %w", row, err)
			}
		}
		s.T = append(s.T, t)

		for c, idx := range valueIdx {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", row, names[c], err)
			}
			s.Channels[c] = append(s.Channels[c], v)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteCSV writes s with a header row; the time column is named "t".
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(s.Channels)+1)
	header = append(header, "t")
	for c := range s.Channels {
		header = append(header, s.Name(c))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, t := range s.T {
		record[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for c, ch := range s.Channels {
			record[c+1] = strconv.FormatFloat(ch[i], 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// ReadJSON reads a series stored as a JSON object with T, Channels and Names
// fields.
func ReadJSON(filename string) (*Series, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	s := &Series{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return s, nil
}
