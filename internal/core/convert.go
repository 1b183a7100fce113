package core

// convert.go turns raw spreadsheet cells into typed values.
//
// These functions handle the messy reality of exported spreadsheets:
//   - Excel serial dates next to day-first text dates
//   - Integers exported as floats ("12.0") or padded with spaces
//   - Excel formula prefixes (="value") and stray quotes around numbers
//   - Italian decimal commas in prices ("1.234,50")
//
// Coercion never fails: unusable input yields nil (or zero for decimals),
// leaving NULL handling to the store.

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Excel serials outside this range are not dates (1900-01-01 .. 9999-12-31).
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// Day-first layouts tried in order after Excel serials.
var primaryDateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
}

// Fallback layouts for anything the legacy exports have been seen to contain.
var fallbackDateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2.1.2006",
	"2006/1/2",
	"2/1/06",
	"2 Jan 2006",
	"Jan 2, 2006",
	"20060102",
}

// TrimCell trims whitespace, including non-breaking spaces, and leaves the
// rest of the value untouched.
func TrimCell(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}

// CleanCell removes common spreadsheet artifacts from a key, number or date
// cell:
// - Trims whitespace (including non-breaking spaces)
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
//
// Text fields use TrimCell instead; quotes and '=' are data there.
func CleanCell(s string) string {
	s = TrimCell(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// TruncateRunes limits s to max characters, counting runes rather than bytes
// so accented text never ends in a broken sequence.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// ParseText trims a cell and truncates it to the column width.
func ParseText(s string, maxLen int) string {
	return TruncateRunes(TrimCell(s), maxLen)
}

// ParseIntLenient parses an integer cell.
// Accepts "12", " 12 ", "+12" and integral floats such as "12.0" or "1.2E+3".
// Fractional or non-numeric values return nil.
func ParseIntLenient(s string) *int64 {
	s = CleanCell(s)
	if s == "" {
		return nil
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	v := int64(f)
	return &v
}

// ParseKey parses the business key. Anything that is not a positive integer
// yields zero, the "no key" value.
func ParseKey(s string) Key {
	v := ParseIntLenient(s)
	if v == nil || *v <= 0 {
		return 0
	}
	return Key(*v)
}

// ParseDate parses a date cell. Excel serial numbers are tried first, then
// day-first text layouts, then a generic layout list. The result is a
// date-only UTC value; unparseable input returns nil.
func ParseDate(s string) *time.Time {
	s = CleanCell(s)
	if s == "" {
		return nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minExcelSerial && f <= maxExcelSerial {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return dateOnly(t)
		}
	}

	for _, layout := range primaryDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t)
		}
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t)
		}
	}
	return nil
}

func dateOnly(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// ParseDecimalLenient parses a price or quantity cell.
// Handles currency symbols, plain decimals ("10.5"), decimal commas ("10,5")
// and Italian grouping ("1.234,50"). Invalid input returns zero.
func ParseDecimalLenient(s string) decimal.Decimal {
	s = CleanCell(s)
	s = strings.NewReplacer("€", "", "$", "", "EUR", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero
	}

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
