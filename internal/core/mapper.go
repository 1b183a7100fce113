package core

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultHeaderTolerance is how many expected headers may be missing before
// a sheet is rejected.
const DefaultHeaderTolerance = 5

// HeaderIndex maps normalized header labels to their position in the row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row.
// The first occurrence of a repeated label wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// NormalizeHeader folds a header label for matching: trimmed, lowercased,
// accents removed and inner whitespace collapsed. "  LOCALITA " and
// "Località" normalize to the same value.
func NormalizeHeader(s string) string {
	s = CleanCell(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// FieldSpec describes one labelled source column and how it lands on record R.
type FieldSpec[R any] struct {
	Name   string    // header label as exported by the ERP
	Column string    // storage column
	Type   FieldType // coercion applied to the cell
	MaxLen int       // text width in characters, 0 for non-text fields
	set    func(rec *R, raw string)
}

func keyField[R any](name, column string, dst func(*R) *Key) FieldSpec[R] {
	return FieldSpec[R]{Name: name, Column: column, Type: FieldKey,
		set: func(rec *R, raw string) { *dst(rec) = ParseKey(raw) }}
}

func textField[R any](name, column string, maxLen int, dst func(*R) *string) FieldSpec[R] {
	return FieldSpec[R]{Name: name, Column: column, Type: FieldText, MaxLen: maxLen,
		set: func(rec *R, raw string) { *dst(rec) = ParseText(raw, maxLen) }}
}

func intField[R any](name, column string, dst func(*R) **int64) FieldSpec[R] {
	return FieldSpec[R]{Name: name, Column: column, Type: FieldInt,
		set: func(rec *R, raw string) { *dst(rec) = ParseIntLenient(raw) }}
}

func dateField[R any](name, column string, dst func(*R) **time.Time) FieldSpec[R] {
	return FieldSpec[R]{Name: name, Column: column, Type: FieldDate,
		set: func(rec *R, raw string) { *dst(rec) = ParseDate(raw) }}
}

func decimalField[R any](name, column string, dst func(*R) *decimal.Decimal) FieldSpec[R] {
	return FieldSpec[R]{Name: name, Column: column, Type: FieldDecimal,
		set: func(rec *R, raw string) { *dst(rec) = ParseDecimalLenient(raw) }}
}

// Layout is the fixed column vocabulary of one dataset.
type Layout[R any] struct {
	Dataset Dataset
	Fields  []FieldSpec[R]

	// A row is skipped when both of these cells are blank.
	KeyHeader      string
	PresenceHeader string

	SetLine func(rec *R, line int)
}

// Columns returns the storage column names in vocabulary order.
func (l Layout[R]) Columns() []string {
	cols := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		cols[i] = f.Column
	}
	return cols
}

// ColumnDef is the storage shape of one layout field.
type ColumnDef struct {
	Name   string
	Type   FieldType
	MaxLen int
}

// ColumnDefs returns the storage shape of every field in vocabulary order.
// Stores derive their table definitions from it.
func (l Layout[R]) ColumnDefs() []ColumnDef {
	defs := make([]ColumnDef, len(l.Fields))
	for i, f := range l.Fields {
		defs[i] = ColumnDef{Name: f.Column, Type: f.Type, MaxLen: f.MaxLen}
	}
	return defs
}

// FieldIndex is the header-to-field lookup table built once per analysis.
type FieldIndex[R any] struct {
	layout    Layout[R]
	positions []int // per field; -1 when the header is missing
	key       int
	presence  int
	missing   []string
}

// Index resolves the layout against a header row. It fails with a
// *SchemaError when more than tolerance headers are missing or when the key
// header itself is missing.
func (l Layout[R]) Index(headers []string, tolerance int) (*FieldIndex[R], error) {
	idx := MakeHeaderIndex(headers)
	fi := &FieldIndex[R]{
		layout:    l,
		positions: make([]int, len(l.Fields)),
		key:       -1,
		presence:  -1,
	}

	for i, f := range l.Fields {
		pos, ok := idx[NormalizeHeader(f.Name)]
		if !ok {
			fi.positions[i] = -1
			fi.missing = append(fi.missing, f.Name)
			continue
		}
		fi.positions[i] = pos
		switch f.Name {
		case l.KeyHeader:
			fi.key = pos
		case l.PresenceHeader:
			fi.presence = pos
		}
	}

	if len(fi.missing) > tolerance || fi.key < 0 {
		return nil, &SchemaError{Missing: fi.missing, Tolerance: tolerance}
	}
	return fi, nil
}

// Missing returns the expected headers absent from the sheet.
func (fi *FieldIndex[R]) Missing() []string {
	return fi.missing
}

func (fi *FieldIndex[R]) cell(row []Cell, pos int) Cell {
	if pos < 0 || pos >= len(row) {
		return Cell{}
	}
	return row[pos]
}

// MapRow converts one source row into a record. It returns false when the
// row should be skipped (key and presence cells both blank). Absent cells
// leave their field at its zero value; present cells are coerced.
func (fi *FieldIndex[R]) MapRow(row []Cell, line int) (R, bool) {
	var rec R
	if fi.cell(row, fi.key).Blank() && fi.cell(row, fi.presence).Blank() {
		return rec, false
	}

	for i, f := range fi.layout.Fields {
		c := fi.cell(row, fi.positions[i])
		if !c.Present {
			continue
		}
		f.set(&rec, c.Value)
	}
	if fi.layout.SetLine != nil {
		fi.layout.SetLine(&rec, line)
	}
	return rec, true
}

// MapRows maps every data row of a sheet, in source order.
func (fi *FieldIndex[R]) MapRows(sheet *Sheet) []R {
	out := make([]R, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		if rec, ok := fi.MapRow(row, i+2); ok {
			out = append(out, rec)
		}
	}
	return out
}

// mapSheet is the analysis front half shared by every dataset: resolve
// headers, map rows and insist on at least one usable record.
func mapSheet[R any](sheet *Sheet, layout Layout[R], tolerance int) ([]R, error) {
	fi, err := layout.Index(sheet.Headers, tolerance)
	if err != nil {
		return nil, err
	}
	records := fi.MapRows(sheet)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: sheet %q has no data rows", ErrInvalidFormat, sheet.Name)
	}
	return records, nil
}
