package eval

import (
	"context"
	"fmt"
)

// DriftReport compares a dataset pass against the baseline database with one
// against the drift database.
type DriftReport struct {
	Baseline *Report `json:"baseline"`
	Drift    *Report `json:"drift"`
	// DeltaASEM is baseline minus drift answer-set exact match, nil unless
	// both passes produced that metric.
	DeltaASEM *float64 `json:"delta_asem"`
}

// EvaluateDrift runs examples through baseline and then through drift. The two
// evaluators must point at different targets for the delta to mean anything.
func EvaluateDrift(ctx context.Context, baseline, drift *Evaluator, examples []Example, topK int) (*DriftReport, error) {
	baseline.log.Info("eval: running baseline pass")
	base, err := baseline.Evaluate(ctx, examples, topK)
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation failed: %w", err)
	}

	drift.log.Info("eval: running drift pass")
	drifted, err := drift.Evaluate(ctx, examples, topK)
	if err != nil {
		return nil, fmt.Errorf("drift evaluation failed: %w", err)
	}

	report := &DriftReport{Baseline: base, Drift: drifted}
	if base.AnswerSetExactMatch != nil && drifted.AnswerSetExactMatch != nil {
		delta := *base.AnswerSetExactMatch - *drifted.AnswerSetExactMatch
		report.DeltaASEM = &delta
	}
	return report, nil
}
