// Package cellmodel holds the normalised in-memory representation of a
// workbook's cells and the content fingerprint computed over it.
package cellmodel

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Entry is one cell's stored content. A cell holds a formula, a value,
// or (rarely) both; a missing component is absent in the JSON form, not
// an empty string.
type Entry struct {
	Formula string `json:"formula,omitempty"`
	Value   string `json:"value,omitempty"`
}

// HasFormula reports whether the entry carries formula text.
func (e Entry) HasFormula() bool { return e.Formula != "" }

// HasValue reports whether the entry carries a stored value.
func (e Entry) HasValue() bool { return e.Value != "" }

// Empty reports whether the entry carries nothing worth storing.
func (e Entry) Empty() bool { return e.Formula == "" && e.Value == "" }

// Sheet maps a coordinate label (e.g. "A1", "BC27") to its entry.
type Sheet map[string]Entry

// Model maps worksheet names to sheets. Worksheet order is preserved as
// read from the document but is not part of semantic equality.
type Model struct {
	order  []string
	sheets map[string]Sheet
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{sheets: make(map[string]Sheet)}
}

// AddSheet registers a worksheet under name, preserving insertion order.
// Adding an existing name replaces its cells and keeps its position.
func (m *Model) AddSheet(name string, s Sheet) {
	if _, ok := m.sheets[name]; !ok {
		m.order = append(m.order, name)
	}
	if s == nil {
		s = make(Sheet)
	}
	m.sheets[name] = s
}

// Sheet returns the cells of the named worksheet, or nil.
func (m *Model) Sheet(name string) Sheet {
	return m.sheets[name]
}

// SheetNames returns worksheet names in document order.
func (m *Model) SheetNames() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// CellCount returns the number of stored entries across all sheets.
func (m *Model) CellCount() int {
	n := 0
	for _, s := range m.sheets {
		n += len(s)
	}
	return n
}

// MarshalJSON encodes the model as an object of worksheets. Order is a
// read-time artifact and is not serialised.
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.sheets)
}

// UnmarshalJSON decodes the object form. Sheet order after a round-trip
// is sorted by name.
func (m *Model) UnmarshalJSON(data []byte) error {
	sheets := make(map[string]Sheet)
	if err := json.Unmarshal(data, &sheets); err != nil {
		return err
	}
	m.sheets = sheets
	m.order = m.order[:0]
	for name := range sheets {
		m.order = append(m.order, name)
	}
	sort.Strings(m.order)
	return nil
}

// CoerceScalar renders a cell scalar to its canonical text form:
// integers without exponent, floats in shortest round-trip decimal form,
// booleans as TRUE/FALSE, timestamps as ISO-8601, text verbatim.
func CoerceScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format("2006-01-02T15:04:05")
	default:
		return ""
	}
}
