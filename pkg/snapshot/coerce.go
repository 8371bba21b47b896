package snapshot

import (
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog/pkg/cellmodel"
)

// builtinDateNumFmts are the built-in number format IDs that render a
// serial number as a date or time (ECMA-376 §18.8.30, including the
// locale-specific 27-36 and 50-58 ranges).
var builtinDateNumFmts = func() map[int]bool {
	m := make(map[int]bool)
	for _, r := range [][2]int{{14, 22}, {27, 36}, {45, 47}, {50, 58}} {
		for id := r[0]; id <= r[1]; id++ {
			m[id] = true
		}
	}
	return m
}()

// coerceCell renders a non-formula cell's stored scalar to canonical
// text via the cell's storage type: booleans become TRUE/FALSE, date
// serials become ISO-8601 text, numbers get the shortest round-trip
// decimal form, strings pass through verbatim.
func coerceCell(f *excelize.File, sheetName, coord, formatted string, date1904 bool) (string, error) {
	cellType, err := f.GetCellType(sheetName, coord)
	if err != nil {
		return "", err
	}

	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return cellmodel.CoerceScalar(formatted), nil

	case excelize.CellTypeBool:
		raw, err := rawCellValue(f, sheetName, coord)
		if err != nil {
			return "", err
		}
		return cellmodel.CoerceScalar(raw == "1"), nil

	case excelize.CellTypeDate:
		// ISO-8601 stored directly (t="d"); re-render through the
		// canonical timestamp form.
		raw, err := rawCellValue(f, sheetName, coord)
		if err != nil {
			return "", err
		}
		if ts, ok := parseISODate(raw); ok {
			return cellmodel.CoerceScalar(ts), nil
		}
		return cellmodel.CoerceScalar(raw), nil
	}

	// Numbers carry no type attribute; a date is a number whose style
	// formats it as one.
	raw, err := rawCellValue(f, sheetName, coord)
	if err != nil {
		return "", err
	}
	num, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		// Error literals ("#DIV/0!") and anything else non-numeric.
		return cellmodel.CoerceScalar(raw), nil
	}

	if dateStyled(f, sheetName, coord) {
		ts, err := excelize.ExcelDateToTime(num, date1904)
		if err == nil {
			return cellmodel.CoerceScalar(ts), nil
		}
	}
	return cellmodel.CoerceScalar(num), nil
}

func rawCellValue(f *excelize.File, sheetName, coord string) (string, error) {
	return f.GetCellValue(sheetName, coord, excelize.Options{RawCellValue: true})
}

func parseISODate(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// dateStyled reports whether the cell's number format renders a date or
// time.
func dateStyled(f *excelize.File, sheetName, coord string) bool {
	styleID, err := f.GetCellStyle(sheetName, coord)
	if err != nil {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	if builtinDateNumFmts[style.NumFmt] {
		return true
	}
	if style.CustomNumFmt != nil {
		return customFmtIsDate(*style.CustomNumFmt)
	}
	return false
}

// customFmtIsDate scans a custom number format code for date/time
// tokens, ignoring quoted literals, bracketed sections and escaped
// characters.
func customFmtIsDate(code string) bool {
	var bare strings.Builder
	inQuote := false
	inBracket := false
	skip := false
	for _, r := range code {
		switch {
		case skip:
			skip = false
		case r == '\\':
			skip = true
		case inQuote:
			inQuote = r != '"'
		case inBracket:
			inBracket = r != ']'
		case r == '"':
			inQuote = true
		case r == '[':
			inBracket = true
		default:
			bare.WriteRune(r)
		}
	}
	return strings.ContainsAny(strings.ToLower(bare.String()), "ymdhs")
}
