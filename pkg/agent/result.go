package agent

import (
	"github.com/malbeclabs/bicopilot/pkg/chart"
	"github.com/malbeclabs/bicopilot/pkg/guardrail"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

// Execution records one candidate run against the database.
type Execution struct {
	Attempt     int      `json:"attempt"`
	SQL         string   `json:"sql"`
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	LatencyMs   float64  `json:"latency_ms"`
	Columns     []string `json:"columns"`
	PreviewRows [][]any  `json:"preview_rows"`
}

// Attempt is one generate, guardrail, execute pass.
type Attempt struct {
	Number        int             `json:"number"`
	OutputKind    string          `json:"output_kind,omitempty"`
	Generated     []string        `json:"generated"`
	Candidates    []string        `json:"candidates"`
	Safety        guardrail.Flags `json:"safety"`
	Executions    []Execution     `json:"executions"`
	TFRMs         float64         `json:"tfr_ms"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Succeeded reports whether any execution of the attempt succeeded.
func (a *Attempt) Succeeded() bool {
	for _, e := range a.Executions {
		if e.Success {
			return true
		}
	}
	return false
}

// RunResult is the outcome of one question. The top-level candidate,
// execution, and safety fields describe the final attempt.
type RunResult struct {
	TraceID        string          `json:"trace_id"`
	Question       string          `json:"question"`
	Generated      []string        `json:"generated"`
	Candidates     []string        `json:"candidates"`
	Executions     []Execution     `json:"executions"`
	Attempts       []Attempt       `json:"attempts"`
	ChosenSQL      string          `json:"chosen_sql,omitempty"`
	Table          *table.Table    `json:"table,omitempty"`
	Chart          *chart.Spec     `json:"chart,omitempty"`
	Safety         guardrail.Flags `json:"safety"`
	TFTMs          float64         `json:"tft_ms"`
	TFRMs          float64         `json:"tfr_ms"`
	TotalLatencyMs float64         `json:"total_latency_ms"`
	RetryCount     int             `json:"retry_count"`
	Explanation    string          `json:"explanation,omitempty"`
	Metadata       map[string]any  `json:"metadata"`
}

// AnySucceeded reports whether any candidate of the final attempt executed.
func (r *RunResult) AnySucceeded() bool {
	for _, e := range r.Executions {
		if e.Success {
			return true
		}
	}
	return false
}

// SuccessfulSQL returns the SQL of every successful execution of the final
// attempt, in candidate order.
func (r *RunResult) SuccessfulSQL() []string {
	var out []string
	for _, e := range r.Executions {
		if e.Success {
			out = append(out, e.SQL)
		}
	}
	return out
}
