package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// utf8BOM lets spreadsheet tools detect the encoding of accented headers.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column maps a dataset key to its printed label.
type Column struct {
	Key   string
	Label string
	// Width is a PDF hint in millimetres; zero shares the remaining space.
	Width float64
}

// Dataset is tabular export content keyed by Column.Key.
type Dataset struct {
	Columns []Column
	Rows    []map[string]string
}

// CSVExporter renders datasets as CSV.
type CSVExporter struct {
	comma rune
	bom   bool
}

// CSVOption tunes the CSV output.
type CSVOption func(*CSVExporter)

// WithSemicolon switches the separator to ';'.
func WithSemicolon() CSVOption {
	return func(e *CSVExporter) { e.comma = ';' }
}

// WithoutBOM drops the byte order mark.
func WithoutBOM() CSVOption {
	return func(e *CSVExporter) { e.bom = false }
}

// NewCSVExporter builds a comma-separated exporter that writes a BOM.
func NewCSVExporter(opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{comma: ',', bom: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render encodes data.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.Write(utf8BOM)
	}
	writer := csv.NewWriter(buf)
	writer.Comma = e.comma

	header := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		header[i] = col.Label
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Columns))
		for i, col := range data.Columns {
			record[i] = row[col.Key]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
