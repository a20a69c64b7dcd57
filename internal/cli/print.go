package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/eval"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

const printRows = 20

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(true)
	t.SetHeader(header)
	return t
}

func printResultTable(w io.Writer, t *table.Table, limit int) {
	if t == nil || len(t.Columns) == 0 {
		return
	}
	out := newTable(w, t.Columns)
	for _, row := range t.Head(limit).Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = table.Format(v)
		}
		out.Append(cells)
	}
	out.Render()
	if t.Len() > limit {
		fmt.Fprintf(w, "(%d of %d rows)\n", limit, t.Len())
	}
}

func printRunResult(w io.Writer, res *agent.RunResult) {
	if res.ChosenSQL == "" {
		fmt.Fprintln(w, "No query was generated.")
	} else {
		fmt.Fprintf(w, "SQL:\n  %s\n\n", strings.ReplaceAll(res.ChosenSQL, "\n", "\n  "))
	}
	if res.AnySucceeded() {
		printResultTable(w, res.Table, printRows)
	} else {
		for _, e := range res.Executions {
			fmt.Fprintf(w, "failed: %s\n  %s\n", e.SQL, e.Error)
		}
	}
	if res.Safety.Blocked {
		fmt.Fprintf(w, "\nGuardrail: %s\n", strings.Join(res.Safety.Reasons, "; "))
	}
	if res.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", res.Explanation)
	}
	fmt.Fprintf(w, "\ntrace %s, %d retries, tft %.0fms, tfr %.0fms, total %.0fms\n",
		res.TraceID, res.RetryCount, res.TFTMs, res.TFRMs, res.TotalLatencyMs)
}

func metric(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func latency(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0fms", *v)
}

func printReport(w io.Writer, r *eval.Report) {
	fmt.Fprintf(w, "Target: %s\nEvaluated: %d (skipped %d with failing gold SQL)\n", r.Target, r.Evaluated, r.SkippedGoldFailures)
	out := newTable(w, []string{"Metric", "Value"})
	out.AppendBulk([][]string{
		{"execution accuracy", metric(r.ExecutionAccuracy)},
		{"answer-set exact match", metric(r.AnswerSetExactMatch)},
		{"value accuracy (tau)", metric(r.ValueAccuracyTau)},
		{"set F1 (mean)", metric(r.SetF1Mean)},
		{"pass@k", metric(r.PassAtK)},
		{"TFT median", latency(r.LatencyTFTMsMedian)},
		{"TFT p90", latency(r.LatencyTFTMsP90)},
		{"TFR median", latency(r.LatencyTFRMsMedian)},
		{"TFR p90", latency(r.LatencyTFRMsP90)},
	})
	out.Render()
}

func printDriftReport(w io.Writer, r *eval.DriftReport) {
	out := newTable(w, []string{"Metric", r.Baseline.Target, r.Drift.Target})
	out.AppendBulk([][]string{
		{"evaluated", fmt.Sprint(r.Baseline.Evaluated), fmt.Sprint(r.Drift.Evaluated)},
		{"execution accuracy", metric(r.Baseline.ExecutionAccuracy), metric(r.Drift.ExecutionAccuracy)},
		{"answer-set exact match", metric(r.Baseline.AnswerSetExactMatch), metric(r.Drift.AnswerSetExactMatch)},
		{"value accuracy (tau)", metric(r.Baseline.ValueAccuracyTau), metric(r.Drift.ValueAccuracyTau)},
		{"set F1 (mean)", metric(r.Baseline.SetF1Mean), metric(r.Drift.SetF1Mean)},
		{"pass@k", metric(r.Baseline.PassAtK), metric(r.Drift.PassAtK)},
	})
	out.Render()
	fmt.Fprintf(w, "Delta answer-set exact match: %s\n", metric(r.DeltaASEM))
}

func printSafetyReport(w io.Writer, r *eval.SafetyReport) {
	out := newTable(w, []string{"Question", "Blocked", "Reasons"})
	for _, ex := range r.Examples {
		out.Append([]string{ex.Question, fmt.Sprint(ex.Blocked), strings.Join(ex.Reasons, "; ")})
	}
	out.Render()
	fmt.Fprintf(w, "Guardrail rate: %.2f (%d of %d blocked)\n", r.GuardrailRate, r.BlockedDangerous, r.TotalDangerous)
}
