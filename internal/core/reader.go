package core

// reader.go loads the first sheet of an uploaded spreadsheet.
//
// Workbooks (.xlsx) are detected by their zip signature and read with excelize
// using raw cell values, so dates arrive as Excel serial numbers and numbers
// are not reformatted by the cell style. Anything else is treated as a
// delimited text export: UTF-8 with or without BOM, or Windows-1252 when the
// bytes are not valid UTF-8.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var zipSignature = []byte("PK\x03\x04")

// Cell is one source cell. Present is false when the row ended before this
// column; a present cell may still be blank.
type Cell struct {
	Value   string
	Present bool
}

// Blank reports whether the cell is absent or holds only whitespace.
func (c Cell) Blank() bool {
	return !c.Present || CleanCell(c.Value) == ""
}

// Sheet is the header row plus data rows of the first worksheet.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]Cell
}

// ReadSheet parses an uploaded file into a Sheet. It fails with
// ErrInvalidFormat when the file is unreadable, has no sheets, or has fewer
// than two rows.
func ReadSheet(data []byte) (*Sheet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidFormat)
	}
	if bytes.HasPrefix(data, zipSignature) {
		return readWorkbook(data)
	}
	return readDelimited(data)
}

func readWorkbook(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrInvalidFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFormat)
	}

	name := sheets[0]
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalidFormat, name, err)
	}
	return buildSheet(name, rows)
}

func readDelimited(data []byte) (*Sheet, error) {
	var r io.Reader = bytes.NewReader(data)
	if utf8.Valid(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))) {
		r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	} else {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}

	text, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decode text: %v", ErrInvalidFormat, err)
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = sniffDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidFormat, parseErr.Line, parseErr.Err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return buildSheet("", records)
}

// sniffDelimiter picks the most frequent separator on the header line.
// Italian locale exports use ';'.
func sniffDelimiter(text []byte) rune {
	line := string(text)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func buildSheet(name string, records [][]string) (*Sheet, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: expected a header row and at least one data row, found %d rows",
			ErrInvalidFormat, len(records))
	}

	sheet := &Sheet{
		Name:    name,
		Headers: make([]string, len(records[0])),
		Rows:    make([][]Cell, 0, len(records)-1),
	}
	for i, h := range records[0] {
		sheet.Headers[i] = strings.TrimSpace(h)
	}

	for _, rec := range records[1:] {
		row := make([]Cell, len(rec))
		for i, v := range rec {
			row[i] = Cell{Value: v, Present: true}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
