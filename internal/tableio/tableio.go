// Package tableio reads and writes tables as CSV, XLSX or JSON files.
package tableio

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/feature-cli/internal/fetcher"
	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

// Format names a table file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DefaultSheet is the sheet name used when writing XLSX.
const DefaultSheet = "features"

// ParseFormat validates an explicit format name. Empty is allowed and means
// "detect from the file extension".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	case "xls":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("tableio: unknown format %q", s)
	}
}

// Detect returns explicit when set, otherwise the format implied by the
// extension of path.
func Detect(path string, explicit Format) (Format, error) {
	if explicit != "" {
		return explicit, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("tableio: cannot detect format of %q", path)
	}
}

// ReadOptions configures ReadFile.
type ReadOptions struct {
	Format Format
	CSV    fetcher.CSVOptions
	XLSX   fetcher.XLSXOptions
}

// ParseCell types a raw text cell: empty is Absent, anything strconv can read
// as a float is a Number, and everything else is kept as Text.
func ParseCell(s string) model.Value {
	if strings.TrimSpace(s) == "" {
		return model.Absent
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return model.Number(f)
	}
	return model.Text(s)
}

// FromRecords builds a table from text records whose first row is the header.
// Trailing empty rows are dropped.
func FromRecords(records [][]string) (*table.Table, error) {
	for len(records) > 0 && blank(records[len(records)-1]) {
		records = records[:len(records)-1]
	}
	if len(records) == 0 {
		return nil, model.Malformedf("tableio: no header row")
	}
	header := records[0]
	rows := make([][]model.Value, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]model.Value, len(rec))
		for i, cell := range rec {
			row[i] = ParseCell(cell)
		}
		// Trailing empty cells past the header are common in spreadsheets.
		for len(row) > len(header) && row[len(row)-1].IsAbsent() {
			row = row[:len(row)-1]
		}
		rows = append(rows, row)
	}
	t, err := table.FromRows(header, rows)
	if err != nil {
		return nil, eris.Wrap(model.ErrMalformed, err.Error())
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadFile loads a table from path.
func ReadFile(ctx context.Context, path string, opts ReadOptions) (*table.Table, error) {
	format, err := Detect(path, opts.Format)
	if err != nil {
		return nil, err
	}

	var t *table.Table
	switch format {
	case FormatXLSX:
		records, err := fetcher.ReadXLSX(path, opts.XLSX)
		if err != nil {
			return nil, err
		}
		t, err = FromRecords(records)
		if err != nil {
			return nil, eris.Wrapf(err, "tableio: %s", path)
		}
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "tableio: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		t, err = Read(ctx, f, format, opts.CSV)
		if err != nil {
			return nil, eris.Wrapf(err, "tableio: %s", path)
		}
	}

	zap.L().Debug("tableio: loaded table",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns())),
	)
	return t, nil
}

// Read loads a CSV or JSON table from r.
func Read(ctx context.Context, r io.Reader, format Format, csvOpts fetcher.CSVOptions) (*table.Table, error) {
	switch format {
	case FormatCSV:
		records, err := fetcher.ReadCSV(ctx, r, csvOpts)
		if err != nil {
			return nil, err
		}
		return FromRecords(records)
	case FormatJSON:
		t, err := table.DecodeJSON(r)
		if err != nil {
			return nil, eris.Wrap(model.ErrMalformed, err.Error())
		}
		return t, nil
	default:
		return nil, eris.Errorf("tableio: format %q cannot be read from a stream", format)
	}
}

// WriteFile writes t to path in the given (or detected) format.
func WriteFile(path string, t *table.Table, format Format, delimiter rune) error {
	format, err := Detect(path, format)
	if err != nil {
		return err
	}

	if format == FormatXLSX {
		return writeXLSX(path, t)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tableio: create %s", path)
	}
	if err := Write(f, t, format, delimiter); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "tableio: close %s", path)
}

// Write encodes t as CSV or JSON records.
func Write(w io.Writer, t *table.Table, format Format, delimiter rune) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, t, delimiter)
	case FormatJSON:
		return writeJSON(w, t)
	default:
		return eris.Errorf("tableio: format %q cannot be written to a stream", format)
	}
}

func writeCSV(w io.Writer, t *table.Table, delimiter rune) error {
	cw := csv.NewWriter(w)
	if delimiter != 0 {
		cw.Comma = delimiter
	}
	if err := cw.WriteAll(t.Strings()); err != nil {
		return eris.Wrap(err, "tableio: write csv")
	}
	return nil
}

func writeJSON(w io.Writer, t *table.Table) error {
	return eris.Wrap(t.EncodeRecords(w), "tableio: write json")
}

func writeXLSX(path string, t *table.Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(DefaultSheet)
	if err != nil {
		return eris.Wrap(err, "tableio: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range t.Columns() {
		header.AddCell().SetString(name)
	}
	for _, rec := range t.Rows() {
		row := sheet.AddRow()
		for _, v := range rec {
			cell := row.AddCell()
			if f, ok := v.Float(); ok {
				cell.SetFloat(f)
				continue
			}
			if s, ok := v.Str(); ok {
				cell.SetString(s)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "tableio: save %s", path)
	}
	return nil
}
