package eval

import (
	"math"
	"slices"
	"strings"

	"github.com/malbeclabs/bicopilot/pkg/table"
)

// Tolerance bounds value-accuracy comparisons: |pred-gold| <= Atol + Rtol*|gold|.
type Tolerance struct {
	Atol float64 `json:"atol" yaml:"atol"`
	Rtol float64 `json:"rtol" yaml:"rtol"`
}

var DefaultTolerance = Tolerance{Atol: 1e-6, Rtol: 1e-3}

var aggregateMarkers = []string{"sum(", "avg(", "count(", "min(", "max(", "group by"}

// IsAggregateQuery reports whether sql aggregates, judged lexically.
func IsAggregateQuery(sql string) bool {
	s := strings.ToLower(sql)
	for _, m := range aggregateMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// AnswerSetExactMatch reports whether pred has the same columns, shape, and
// cell values in the same order as gold.
func AnswerSetExactMatch(pred, gold *table.Table) bool {
	if pred == nil || gold == nil {
		return pred == nil && gold == nil
	}
	if !slices.Equal(pred.Columns, gold.Columns) || len(pred.Rows) != len(gold.Rows) {
		return false
	}
	for r := range gold.Rows {
		p, g := pred.Rows[r], gold.Rows[r]
		if len(p) != len(g) {
			return false
		}
		for c := range g {
			if !table.Equal(p[c], g[c]) {
				return false
			}
		}
	}
	return true
}

// ValueAccuracyTau reports whether pred matches gold within tol on every
// numeric column of gold. Shapes must be identical and every numeric gold
// column must exist in pred by name. Non-numeric columns are not compared.
func ValueAccuracyTau(pred, gold *table.Table, tol Tolerance) bool {
	if pred == nil || gold == nil {
		return pred == nil && gold == nil
	}
	pr, pc := pred.Shape()
	gr, gc := gold.Shape()
	if pr != gr || pc != gc {
		return false
	}
	for gi, name := range gold.Columns {
		if gold.ColumnKind(gi) != table.KindNumeric {
			continue
		}
		pi := pred.ColumnIndex(name)
		if pi < 0 {
			return false
		}
		goldValues, predValues := gold.Column(gi), pred.Column(pi)
		for r := range goldValues {
			if !withinTolerance(predValues[r], goldValues[r], tol) {
				return false
			}
		}
	}
	return true
}

func withinTolerance(a, b any, tol Tolerance) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, ok := table.AsFloat(a)
	if !ok {
		return false
	}
	fb, ok := table.AsFloat(b)
	if !ok {
		return false
	}
	if fa == fb || (math.IsNaN(fa) && math.IsNaN(fb)) {
		return true
	}
	return math.Abs(fa-fb) <= tol.Atol+tol.Rtol*math.Abs(fb)
}

// SetF1 scores pred's distinct rows against gold's, both projected onto gold's
// columns. Two empty tables score 1; exactly one empty table scores 0. A
// non-empty pred missing any gold column scores 0.
func SetF1(pred, gold *table.Table) float64 {
	predEmpty, goldEmpty := pred.Empty(), gold.Empty()
	switch {
	case predEmpty && goldEmpty:
		return 1.0
	case predEmpty || goldEmpty:
		return 0.0
	}

	idx := make([]int, len(gold.Columns))
	for i, name := range gold.Columns {
		if idx[i] = pred.ColumnIndex(name); idx[i] < 0 {
			return 0.0
		}
	}
	goldSet := rowSet(gold, nil)
	predSet := rowSet(pred, idx)

	intersection := 0
	for k := range predSet {
		if _, ok := goldSet[k]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0.0
	}
	precision := float64(intersection) / float64(len(predSet))
	recall := float64(intersection) / float64(len(goldSet))
	return 2 * precision * recall / (precision + recall)
}

// rowSet keys each row by the values at idx, or by every value when idx is nil.
func rowSet(t *table.Table, idx []int) map[string]struct{} {
	set := make(map[string]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		values := row
		if idx != nil {
			values = make([]any, len(idx))
			for i, c := range idx {
				if c < len(row) {
					values[i] = row[c]
				}
			}
		}
		set[table.RowKey(values)] = struct{}{}
	}
	return set
}

// LatencyStats summarizes a latency sample in milliseconds.
type LatencyStats struct {
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// ComputeLatencyStats returns the median and 90th percentile of samples using
// linear interpolation between closest ranks. An empty sample yields zeros.
func ComputeLatencyStats(samples []float64) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return LatencyStats{
		Median: percentile(sorted, 50),
		P90:    percentile(sorted, 90),
	}
}

func percentile(sorted []float64, p float64) float64 {
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
