package quiz

import (
	"fmt"
	"strconv"
	"strings"
)

// Table is a grid of cells from an HTML table or a CSV file. Header may be empty.
type Table struct {
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows"`
}

// ColumnSum is the sum of the numeric cells of one column.
type ColumnSum struct {
	Column string
	Sum    float64
	Count  int
}

// Sums totals every column that holds at least one numeric cell.
func (t Table) Sums() []ColumnSum {
	width := len(t.Header)
	for _, r := range t.Rows {
		if len(r) > width {
			width = len(r)
		}
	}
	var out []ColumnSum
	for c := 0; c < width; c++ {
		cs := ColumnSum{Column: t.columnName(c)}
		for _, r := range t.Rows {
			if c >= len(r) {
				continue
			}
			if v, ok := parseNumber(r[c]); ok {
				cs.Sum += v
				cs.Count++
			}
		}
		if cs.Count > 0 {
			out = append(out, cs)
		}
	}
	return out
}

func (t Table) columnName(c int) string {
	if c < len(t.Header) && strings.TrimSpace(t.Header[c]) != "" {
		return strings.TrimSpace(t.Header[c])
	}
	return fmt.Sprintf("col%d", c+1)
}

// Summary is a compact textual description handed to the model as context.
func (t Table) Summary(name string) string {
	var b strings.Builder
	if name == "" {
		name = "table"
	}
	fmt.Fprintf(&b, "%s: %d rows", name, len(t.Rows))
	if len(t.Header) > 0 {
		fmt.Fprintf(&b, ", columns [%s]", strings.Join(t.Header, ", "))
	}
	for _, s := range t.Sums() {
		fmt.Fprintf(&b, "; sum(%s)=%s over %d values", s.Column, strconv.FormatFloat(s.Sum, 'f', -1, 64), s.Count)
	}
	return b.String()
}

func parseNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
