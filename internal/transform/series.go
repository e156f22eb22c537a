package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Series is a channels x samples matrix read from one CSV file.
// Every row holds one channel and all rows have the same length.
type Series struct {
	Names []string
	Rows  [][]float64
}

// NewSeries builds a series from channel rows. Rows must be rectangular.
func NewSeries(names []string, rows [][]float64) (*Series, error) {
	if len(names) != 0 && len(names) != len(rows) {
		return nil, fmt.Errorf("%w: %d names for %d channels", ErrInvalidParameters, len(names), len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) != len(rows[0]) {
			return nil, fmt.Errorf("%w: channel %d has %d samples, want %d",
				ErrInvalidParameters, i, len(rows[i]), len(rows[0]))
		}
	}
	return &Series{Names: names, Rows: rows}, nil
}

// Channels returns the number of channels.
func (s *Series) Channels() int {
	return len(s.Rows)
}

// Samples returns the number of samples per channel.
func (s *Series) Samples() int {
	if len(s.Rows) == 0 {
		return 0
	}
	return len(s.Rows[0])
}

// PadTo returns a copy of s zero-padded on the right to n samples.
func (s *Series) PadTo(n int) (*Series, error) {
	if n < s.Samples() {
		return nil, fmt.Errorf("%w: cannot pad %d samples down to %d", ErrInvalidParameters, s.Samples(), n)
	}
	rows := make([][]float64, len(s.Rows))
	for i, row := range s.Rows {
		rows[i] = make([]float64, n)
		copy(rows[i], row)
	}
	names := append([]string(nil), s.Names...)
	return &Series{Names: names, Rows: rows}, nil
}

// PadLength is the number of zero samples the FFT method appends to a
// channel of the given length. A length that already is a multiple of
// chunkSize still receives one full chunk.
func PadLength(samples, chunkSize int) int {
	return chunkSize - samples%chunkSize
}

// Columns returns the header of a CSV file without reading its body.
func Columns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s has no header", path)
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}

// CountRows returns the number of data rows in a CSV file, header excluded.
func CountRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

// ReadCSV loads the selected columns of a CSV file as a series. An empty
// selection loads every column. Channels keep the order of the file header.
func ReadCSV(path string, columns []string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	return decodeCSV(f, path, columns)
}

func decodeCSV(in io.Reader, name string, columns []string) (*Series, error) {
	r := csv.NewReader(in)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	var (
		indices []int
		names   []string
	)
	wanted := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			wanted[c] = true
		}
	}
	found := make(map[string]bool, len(wanted))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if len(wanted) == 0 || wanted[h] {
			indices = append(indices, i)
			names = append(names, h)
			found[h] = true
		}
	}
	for c := range wanted {
		if !found[c] {
			return nil, fmt.Errorf("column %q not found in %s", c, name)
		}
	}

	rows := make([][]float64, len(indices))
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for ch, idx := range indices {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %q: %w", name, line, names[ch], err)
			}
			rows[ch] = append(rows[ch], v)
		}
	}
	for ch := range rows {
		if rows[ch] == nil {
			rows[ch] = []float64{}
		}
	}

	return &Series{Names: names, Rows: rows}, nil
}
