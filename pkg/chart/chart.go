// Package chart suggests a visualization for a tabular query result.
package chart

import (
	"strings"
	"time"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

// Chart families.
const (
	TypeBar  = "bar"
	TypeLine = "line"
	TypeArea = "area"
	TypePie  = "pie"
)

// maxPieSlices is the largest number of distinct categories rendered as a pie.
const maxPieSlices = 10

// Palette is the fixed series palette, assigned round-robin.
var Palette = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// Spec describes a chart over a result table.
type Spec struct {
	ChartType string    `json:"chart_type"`
	XAxis     string    `json:"x"`
	YAxis     string    `json:"y"`
	Labels    []string  `json:"labels"`
	Datasets  []Dataset `json:"datasets"`
}

// Dataset is one plotted numeric series.
type Dataset struct {
	Label            string    `json:"label"`
	Data             []float64 `json:"data"`
	Color            string    `json:"color"`
	BackgroundColors []string  `json:"background_colors,omitempty"`
}

// Role is the semantic role inferred for a column.
type Role int

const (
	RoleCategorical Role = iota
	RoleNumeric
	RoleTemporal
)

func (r Role) String() string {
	switch r {
	case RoleNumeric:
		return "numeric"
	case RoleTemporal:
		return "temporal"
	default:
		return "categorical"
	}
}

var temporalHints = []string{"date", "time", "year", "month"}

// ColumnRole classifies column i of t. Temporal is decided by name alone;
// numeric requires a numeric column whose name is not identifier-like.
func ColumnRole(t *table.Table, i int) Role {
	name := strings.ToLower(t.Columns[i])
	for _, hint := range temporalHints {
		if strings.Contains(name, hint) {
			return RoleTemporal
		}
	}
	if t.ColumnKind(i) == table.KindNumeric && !isIdentifier(name) {
		return RoleNumeric
	}
	return RoleCategorical
}

func isIdentifier(lower string) bool {
	return strings.HasPrefix(lower, "id") || strings.HasSuffix(lower, "id")
}

// Suggest picks a chart for t, or returns nil when no rule applies. Rules are
// tried in priority order and the first match wins.
func Suggest(t *table.Table) *Spec {
	if t.Empty() || len(t.Columns) < 2 {
		return nil
	}

	var categorical, numeric, temporal []int
	for i := range t.Columns {
		switch ColumnRole(t, i) {
		case RoleTemporal:
			temporal = append(temporal, i)
		case RoleNumeric:
			numeric = append(numeric, i)
		default:
			categorical = append(categorical, i)
		}
	}

	switch {
	// Pie only when the table is exactly a category and a measure.
	case len(categorical) == 1 && len(numeric) == 1 && len(temporal) == 0 &&
		distinctCount(t.Column(categorical[0])) <= maxPieSlices:
		return pie(t, categorical[0], numeric[0])
	case len(temporal) > 0 && len(numeric) > 0:
		chartType := TypeLine
		if len(numeric) > 1 {
			chartType = TypeArea
		}
		return series(t, chartType, temporal[0], numeric)
	case len(categorical) > 0 && len(numeric) > 0:
		return series(t, TypeBar, categorical[0], numeric)
	case len(numeric) >= 2 && len(categorical) == 0 && len(temporal) == 0:
		return series(t, TypeLine, numeric[0], numeric[1:2])
	}
	return nil
}

func series(t *table.Table, chartType string, x int, ys []int) *Spec {
	spec := &Spec{
		ChartType: chartType,
		XAxis:     t.Columns[x],
		YAxis:     t.Columns[ys[0]],
		Labels:    labels(t, x),
		Datasets:  make([]Dataset, 0, len(ys)),
	}
	for i, y := range ys {
		spec.Datasets = append(spec.Datasets, Dataset{
			Label: t.Columns[y],
			Data:  floats(t.Column(y)),
			Color: Palette[i%len(Palette)],
		})
	}
	return spec
}

// pie sums the numeric column per distinct category, in first-seen order.
func pie(t *table.Table, cat, num int) *Spec {
	index := make(map[string]int)
	var names []string
	var sums []float64
	values := t.Column(num)
	for r, v := range t.Column(cat) {
		key := table.Key(v)
		pos, ok := index[key]
		if !ok {
			pos = len(names)
			index[key] = pos
			names = append(names, table.Format(v))
			sums = append(sums, 0)
		}
		if f, ok := table.AsFloat(values[r]); ok {
			sums[pos] += f
		}
	}
	colors := make([]string, len(names))
	for i := range names {
		colors[i] = Palette[i%len(Palette)]
	}
	return &Spec{
		ChartType: TypePie,
		XAxis:     t.Columns[cat],
		YAxis:     t.Columns[num],
		Labels:    names,
		Datasets: []Dataset{{
			Label:            t.Columns[num],
			Data:             sums,
			Color:            Palette[0],
			BackgroundColors: colors,
		}},
	}
}

func labels(t *table.Table, col int) []string {
	isDate := t.ColumnKind(col) == table.KindDate
	out := make([]string, 0, t.Len())
	for _, v := range t.Column(col) {
		if ts, ok := v.(time.Time); ok && isDate {
			out = append(out, ts.Format(time.DateOnly))
			continue
		}
		out = append(out, table.Format(v))
	}
	return out
}

func floats(values []any) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i], _ = table.AsFloat(v)
	}
	return out
}

func distinctCount(values []any) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[table.Key(v)] = struct{}{}
	}
	return len(seen)
}
