package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV decodes one sample per row. Blank lines and lines starting with #
// are skipped. With opts.Labeled the first column is an integer class label.
// Every row must have the same number of pixel columns.
func ReadCSV(r io.Reader, opts Options) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	var (
		samples []Sample
		width   = -1
	)
	for row := 1; opts.Limit <= 0 || len(samples) < opts.Limit; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}

		s := Sample{Label: NoLabel}
		cols := rec
		if opts.Labeled {
			if len(rec) < 2 {
				return nil, fmt.Errorf("%w: row %d has no pixels", ErrFormat, row)
			}
			label, err := strconv.Atoi(strings.TrimSpace(rec[0]))
			if err != nil || label < 0 {
				return nil, fmt.Errorf("%w: row %d label %q", ErrFormat, row, rec[0])
			}
			s.Label = label
			cols = rec[1:]
		}
		if width >= 0 && len(cols) != width {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrFormat, row, len(cols), width)
		}
		width = len(cols)

		s.Pixels = make([]float32, len(cols))
		for i, c := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(c), 32)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %d: %v", ErrFormat, row, i+1, err)
			}
			if opts.ScaleBytes {
				v /= 255
			}
			s.Pixels[i] = float32(v)
		}
		samples = append(samples, s)
	}
	opts.finish(samples)
	return samples, nil
}
