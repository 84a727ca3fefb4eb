package corpus

import (
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
)

// CSVWriter writes rows as "Name,Genre,<feature columns>".
type CSVWriter struct {
	w *csv.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (c *CSVWriter) Header(columns []string) error {
	if err := c.w.Write(columns); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Write(rows []Row) error {
	for _, row := range rows {
		record := make([]string, 0, 2+len(row.Values))
		record = append(record, row.Clip.Title, row.Clip.Genre)
		for _, v := range row.Values {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := c.w.Write(record); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Labels is an Extractor whose only column is the segment index. It
// produces the label manifest of a clip directory.
type Labels struct{}

func (Labels) Columns() []string {
	return []string{"Segment"}
}

func (Labels) Extract(ctx context.Context, path string) ([]float64, error) {
	clip, err := ParseSegmentName(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return []float64{float64(clip.Index)}, nil
}
