// Package table holds tabular query results and the value helpers shared by
// charting and evaluation.
package table

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Table is a materialized query result: column names plus row tuples in
// column order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New builds a table, normalizing nil slices to empty ones so the JSON form is
// always arrays.
func New(columns []string, rows [][]any) *Table {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = [][]any{}
	}
	return &Table{Columns: columns, Rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Shape returns (rows, columns).
func (t *Table) Shape() (int, int) {
	if t == nil {
		return 0, 0
	}
	return len(t.Rows), len(t.Columns)
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of column i, one per row. Short rows yield nil.
func (t *Table) Column(i int) []any {
	values := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		if i < len(row) {
			values[r] = row[i]
		}
	}
	return values
}

// Head returns a table with at most n rows. The row slices are shared.
func (t *Table) Head(n int) *Table {
	if n < 0 || n >= len(t.Rows) {
		n = len(t.Rows)
	}
	rows := make([][]any, n)
	copy(rows, t.Rows[:n])
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	return New(cols, rows)
}

// Kind is the inferred storage type of a column.
type Kind int

const (
	KindOther Kind = iota
	KindNumeric
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	default:
		return "other"
	}
}

// ColumnKind infers the kind of column i from its values. A column is numeric
// or date only when every non-nil value is of that kind and at least one value
// is non-nil.
func (t *Table) ColumnKind(i int) Kind {
	numeric, date, seen := true, true, false
	for _, v := range t.Column(i) {
		if v == nil {
			continue
		}
		seen = true
		if _, ok := AsFloat(v); !ok {
			numeric = false
		}
		if _, ok := v.(time.Time); !ok {
			date = false
		}
	}
	switch {
	case !seen:
		return KindOther
	case numeric:
		return KindNumeric
	case date:
		return KindDate
	default:
		return KindOther
	}
}

// AsFloat converts any Go numeric value to float64. Booleans and strings are
// not numeric.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Equal reports whether two cell values are the same value. Numbers compare by
// value across Go types, NaN equals NaN, and nil only equals nil.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		if !ok {
			return false
		}
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	switch va := a.(type) {
	case time.Time:
		vb, ok := b.(time.Time)
		return ok && va.Equal(vb)
	case []byte:
		vb, ok := b.([]byte)
		return ok && bytes.Equal(va, vb)
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	}
	return fmt.Sprintf("%T:%v", a, a) == fmt.Sprintf("%T:%v", b, b)
}

// Key renders a value canonically so that Equal values share a key.
func Key(v any) string {
	if v == nil {
		return "\x00nil"
	}
	if f, ok := AsFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch x := v.(type) {
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "s:" + string(x)
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// RowKey joins the canonical keys of the given values.
func RowKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Key(v)
	}
	return strings.Join(parts, "\x1f")
}

// Format renders a value for display.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
