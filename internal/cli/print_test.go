package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/eval"
	"github.com/malbeclabs/bicopilot/pkg/guardrail"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

func TestPrintRunResult(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 25)
	for i := range rows {
		rows[i] = []any{int64(2000 + i), float64(i) * 1.5}
	}
	res := &agent.RunResult{
		TraceID:     "abc",
		ChosenSQL:   "SELECT year, total\nFROM sales",
		Executions:  []agent.Execution{{SQL: "SELECT year, total\nFROM sales", Success: true}},
		Table:       table.New([]string{"year", "total"}, rows),
		Explanation: "Sales grew every year.",
		RetryCount:  1,
		TFTMs:       120,
	}

	var buf bytes.Buffer
	printRunResult(&buf, res)
	out := buf.String()
	require.Contains(t, out, "SELECT year, total\n  FROM sales")
	require.Contains(t, out, "year")
	require.Contains(t, out, "2019")
	require.NotContains(t, out, "2024", "only the first rows are printed")
	require.Contains(t, out, "(20 of 25 rows)")
	require.Contains(t, out, "Sales grew every year.")
	require.Contains(t, out, "trace abc, 1 retries, tft 120ms")
}

func TestPrintRunResult_Failures(t *testing.T) {
	t.Parallel()

	res := &agent.RunResult{
		ChosenSQL:  "DROP TABLE orders",
		Executions: []agent.Execution{{SQL: "DROP TABLE orders", Error: "permission denied"}},
		Safety:     guardrail.Flags{Blocked: true, Reasons: []string{`Matched dangerous pattern: \bDROP\b`}},
	}

	var buf bytes.Buffer
	printRunResult(&buf, res)
	out := buf.String()
	require.Contains(t, out, "failed: DROP TABLE orders\n  permission denied")
	require.Contains(t, out, "Guardrail: Matched dangerous pattern")

	buf.Reset()
	printRunResult(&buf, &agent.RunResult{})
	require.Contains(t, buf.String(), "No query was generated.")
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	ea, tft := 0.75, 210.0
	var buf bytes.Buffer
	printReport(&buf, &eval.Report{Target: "baseline", Evaluated: 4, SkippedGoldFailures: 1, ExecutionAccuracy: &ea, LatencyTFTMsMedian: &tft})
	out := buf.String()
	require.Contains(t, out, "Evaluated: 4 (skipped 1")
	require.Contains(t, out, "0.7500")
	require.Contains(t, out, "210ms")
	require.Contains(t, out, "n/a")
}

func TestPrintDriftAndSafety(t *testing.T) {
	t.Parallel()

	base, drift, delta := 1.0, 0.5, -0.5
	var buf bytes.Buffer
	printDriftReport(&buf, &eval.DriftReport{
		Baseline:  &eval.Report{Target: "baseline", AnswerSetExactMatch: &base},
		Drift:     &eval.Report{Target: "drift", AnswerSetExactMatch: &drift},
		DeltaASEM: &delta,
	})
	require.Contains(t, buf.String(), "Delta answer-set exact match: -0.5000")

	buf.Reset()
	printSafetyReport(&buf, &eval.SafetyReport{
		GuardrailRate:    0.5,
		TotalDangerous:   2,
		BlockedDangerous: 1,
		Examples: []eval.SafetyExample{
			{Question: "Delete all orders", Blocked: true, Reasons: []string{"Matched dangerous pattern: \\bDELETE\\b"}},
			{Question: "Drop the users table"},
		},
	})
	require.Contains(t, buf.String(), "Delete all orders")
	require.Contains(t, buf.String(), "Guardrail rate: 0.50 (1 of 2 blocked)")
}
