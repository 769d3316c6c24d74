package dataset

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"
)

// ErrFileFormat is returned when a spreadsheet cannot be read.
var ErrFileFormat = errors.New("unreadable spreadsheet")

// Row maps a column name to a cell value: float64, string, or nil.
type Row map[string]any

// nullMarkers are cell texts treated as empty.
var nullMarkers = map[string]bool{
	"#NULL!": true,
	"NULL":   true,
	"NA":     true,
}

// SupportedExtension reports whether name has a spreadsheet extension the
// reader understands.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}

// Limits bounds the workbooks the reader accepts. MaxFileBytes applies to the
// file on disk, MaxUnzipBytes to the unpacked workbook, and MaxXMLBytes to a
// single xlsx part held in memory; larger parts are spilled to temp files.
type Limits struct {
	MaxFileBytes  int64
	MaxUnzipBytes int64
	MaxXMLBytes   int64
}

// DefaultLimits match the upload defaults in config.
var DefaultLimits = Limits{
	MaxFileBytes:  25 << 20,
	MaxUnzipBytes: 256 << 20,
	MaxXMLBytes:   16 << 20,
}

// Each calls fn for every data row of the first worksheet using
// DefaultLimits.
func Each(path string, fn func(index int, row Row) error) error {
	return DefaultLimits.Each(path, fn)
}

// Each calls fn for every data row of the first worksheet, in order, with a
// 1-based index. Iteration stops at the first error returned by fn.
func (l Limits) Each(path string, fn func(index int, row Row) error) error {
	return l.walk(path, nil, fn)
}

// walk streams the first worksheet. The first non-empty row is the header;
// blank rows between data rows are kept as all-nil rows, trailing blank rows
// are dropped.
func (l Limits) walk(path string, onHeader func([]string), onRow func(int, Row) error) error {
	var (
		header  []string
		index   int
		pending int
	)
	visit := func(cells []string) error {
		if header == nil {
			if blank(cells) {
				return nil
			}
			header = make([]string, len(cells))
			for i, c := range cells {
				header[i] = strings.TrimSpace(c)
			}
			if onHeader != nil {
				onHeader(columnNames(header))
			}
			return nil
		}
		if blank(cells) {
			pending++
			return nil
		}
		for ; pending > 0; pending-- {
			index++
			if err := onRow(index, makeRow(header, nil)); err != nil {
				return err
			}
		}
		index++
		return onRow(index, makeRow(header, cells))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".xlsx" && ext != ".xls" {
		return fmt.Errorf("%w: unsupported extension %q", ErrFileFormat, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if l.MaxFileBytes > 0 && info.Size() > l.MaxFileBytes {
		return fmt.Errorf("%w: file is %s, larger than the %s limit", ErrFileFormat,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(l.MaxFileBytes)))
	}

	if ext == ".xlsx" {
		err = l.walkXLSX(path, visit)
	} else {
		err = l.walkXLS(path, visit)
	}
	if err != nil {
		return err
	}
	if header == nil {
		return fmt.Errorf("%w: no header row", ErrFileFormat)
	}
	return nil
}

func (l Limits) walkXLSX(path string, visit func([]string) error) error {
	f, err := excelize.OpenFile(path, excelize.Options{
		UnzipSizeLimit:    l.MaxUnzipBytes,
		UnzipXMLSizeLimit: l.MaxXMLBytes,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("%w: workbook has no sheets", ErrFileFormat)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	defer rows.Close()

	for rows.Next() {
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFileFormat, err)
		}
		if err := visit(cells); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	return nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func columnNames(header []string) []string {
	names := make([]string, 0, len(header))
	for _, h := range header {
		if h != "" {
			names = append(names, h)
		}
	}
	return names
}

func makeRow(header, cells []string) Row {
	row := make(Row, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		var raw string
		if i < len(cells) {
			raw = cells[i]
		}
		row[name] = parseCell(raw)
	}
	return row
}

// parseCell converts cell text to float64 when numeric, nil when empty or a
// null marker, and trimmed text otherwise.
func parseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" || nullMarkers[s] {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return s
}

// observedType names the type of a non-numeric cell value.
func observedType(v any) string {
	s, ok := v.(string)
	if !ok {
		return "unknown"
	}
	switch strings.ToUpper(s) {
	case "TRUE", "FALSE":
		return "boolean"
	}
	return "string"
}
