// Package eval scores the agent against a labeled dataset, a drifted schema,
// and a fixed set of adversarial requests.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

const (
	DefaultTopK        = 3
	DefaultConcurrency = 4
	DefaultTarget      = "baseline"
)

// Runner answers one question. *agent.Agent implements it.
type Runner interface {
	Run(ctx context.Context, question string, opts ...agent.RunOption) (*agent.RunResult, error)
}

// Querier runs gold and re-fetched candidate SQL against the evaluated target.
type Querier interface {
	Query(ctx context.Context, sql string) (*table.Table, error)
}

type Config struct {
	Logger  *slog.Logger
	Runner  Runner
	Querier Querier

	// Target names the database the runner and querier point at. It keys the
	// gold cache and labels metrics.
	Target      string
	GoldCache   *GoldCache
	TopK        int
	Tolerance   *Tolerance // nil selects DefaultTolerance; a zero Tolerance compares exactly
	Concurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	if cfg.Querier == nil {
		return errors.New("querier is required")
	}
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Tolerance == nil {
		tol := DefaultTolerance
		cfg.Tolerance = &tol
	}
	if cfg.Tolerance.Atol < 0 || cfg.Tolerance.Rtol < 0 {
		return errors.New("tolerances must be non-negative")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return nil
}

// Report holds dataset-level scores. A metric is nil when no question
// produced a sample for it.
type Report struct {
	Target              string   `json:"target"`
	Evaluated           int      `json:"evaluated"`
	SkippedGoldFailures int      `json:"skipped_gold_failures"`
	ExecutionAccuracy   *float64 `json:"execution_accuracy,omitempty"`
	AnswerSetExactMatch *float64 `json:"answer_set_exact_match,omitempty"`
	ValueAccuracyTau    *float64 `json:"value_accuracy_tau,omitempty"`
	SetF1Mean           *float64 `json:"set_f1_mean,omitempty"`
	PassAtK             *float64 `json:"pass_at_k,omitempty"`
	LatencyTFTMsMedian  *float64 `json:"latency_tft_ms_median,omitempty"`
	LatencyTFTMsP90     *float64 `json:"latency_tft_ms_p90,omitempty"`
	LatencyTFRMsMedian  *float64 `json:"latency_tfr_ms_median,omitempty"`
	LatencyTFRMsP90     *float64 `json:"latency_tfr_ms_p90,omitempty"`
}

// Evaluator runs a dataset through the agent and folds per-question flags
// into a Report.
type Evaluator struct {
	cfg  Config
	log  *slog.Logger
	pool pond.ResultPool[outcome]
}

func New(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate evaluator config: %w", err)
	}
	return &Evaluator{
		cfg:  cfg,
		log:  cfg.Logger.With("target", cfg.Target),
		pool: pond.NewResultPool[outcome](cfg.Concurrency),
	}, nil
}

func (e *Evaluator) Close() {
	e.pool.StopAndWait()
}

// outcome is the per-question result. Pointer fields are nil when the
// question contributes no sample to that metric.
type outcome struct {
	skipped       bool
	executed      bool
	passAtK       bool
	exactMatch    *bool
	valueAccuracy *bool
	f1            *float64
	tftMs         float64
	tfrMs         float64
}

// Evaluate scores examples. Questions run concurrently and fold in dataset
// order. topK <= 0 selects the configured default. A question whose gold SQL
// fails is skipped; an agent error (schema fetch, cancellation) aborts.
func (e *Evaluator) Evaluate(ctx context.Context, examples []Example, topK int) (*Report, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	e.log.Info("eval: starting", "questions", len(examples), "top_k", topK)

	outcomes := []outcome{}
	if len(examples) > 0 {
		group := e.pool.NewGroupContext(ctx)
		for _, ex := range examples {
			group.SubmitErr(func() (outcome, error) {
				return e.evaluateOne(ctx, ex, topK)
			})
		}
		var err error
		outcomes, err = group.Wait()
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate dataset: %w", err)
		}
	}

	report := e.fold(outcomes)
	e.log.Info("eval: complete", "evaluated", report.Evaluated, "skipped_gold_failures", report.SkippedGoldFailures)
	return report, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, ex Example, topK int) (outcome, error) {
	gold, err := e.gold(ctx, ex.SQL)
	if err != nil {
		e.log.Warn("eval: gold SQL failed, skipping", "sql", ex.SQL, "error", err)
		questionsTotal.WithLabelValues(e.cfg.Target, "skipped").Inc()
		return outcome{skipped: true}, nil
	}

	res, err := e.cfg.Runner.Run(ctx, ex.Question, agent.WithTopK(topK))
	if err != nil {
		questionsTotal.WithLabelValues(e.cfg.Target, "error").Inc()
		return outcome{}, fmt.Errorf("question %q: %w", ex.Question, err)
	}
	questionsTotal.WithLabelValues(e.cfg.Target, "evaluated").Inc()

	o := outcome{executed: res.AnySucceeded(), tftMs: res.TFTMs, tfrMs: res.TFRMs}

	// Candidate previews are truncated, so every comparison uses a full
	// re-fetch.
	fetched := map[string]*table.Table{}
	fetch := func(sql string) (*table.Table, bool) {
		if t, ok := fetched[sql]; ok {
			return t, t != nil
		}
		t, err := e.cfg.Querier.Query(ctx, sql)
		if err != nil {
			e.log.Debug("eval: re-fetch failed", "sql", sql, "error", err)
			t = nil
		}
		fetched[sql] = t
		return t, t != nil
	}

	for _, sql := range res.SuccessfulSQL() {
		if cand, ok := fetch(sql); ok && AnswerSetExactMatch(cand, gold) {
			o.passAtK = true
			break
		}
	}

	if res.ChosenSQL != "" {
		if pred, ok := fetch(res.ChosenSQL); ok {
			if IsAggregateQuery(ex.SQL) {
				v := ValueAccuracyTau(pred, gold, *e.cfg.Tolerance)
				o.valueAccuracy = &v
			} else {
				m := AnswerSetExactMatch(pred, gold)
				f := SetF1(pred, gold)
				o.exactMatch = &m
				o.f1 = &f
			}
		}
	}
	return o, nil
}

func (e *Evaluator) gold(ctx context.Context, sql string) (*table.Table, error) {
	if t, ok := e.cfg.GoldCache.Get(e.cfg.Target, sql); ok {
		return t, nil
	}
	t, err := e.cfg.Querier.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	e.cfg.GoldCache.Set(e.cfg.Target, sql, t)
	return t, nil
}

func (e *Evaluator) fold(outcomes []outcome) *Report {
	report := &Report{Target: e.cfg.Target}
	var executed, exact, value, f1, passAtK, tft, tfr []float64
	for _, o := range outcomes {
		if o.skipped {
			report.SkippedGoldFailures++
			continue
		}
		report.Evaluated++
		executed = append(executed, flag(o.executed))
		passAtK = append(passAtK, flag(o.passAtK))
		if o.exactMatch != nil {
			exact = append(exact, flag(*o.exactMatch))
		}
		if o.valueAccuracy != nil {
			value = append(value, flag(*o.valueAccuracy))
		}
		if o.f1 != nil {
			f1 = append(f1, *o.f1)
		}
		if o.tftMs > 0 {
			tft = append(tft, o.tftMs)
		}
		if o.tfrMs > 0 {
			tfr = append(tfr, o.tfrMs)
		}
	}

	report.ExecutionAccuracy = meanOf(executed)
	report.AnswerSetExactMatch = meanOf(exact)
	report.ValueAccuracyTau = meanOf(value)
	report.SetF1Mean = meanOf(f1)
	report.PassAtK = meanOf(passAtK)
	if len(tft) > 0 {
		s := ComputeLatencyStats(tft)
		report.LatencyTFTMsMedian, report.LatencyTFTMsP90 = &s.Median, &s.P90
	}
	if len(tfr) > 0 {
		s := ComputeLatencyStats(tfr)
		report.LatencyTFRMsMedian, report.LatencyTFRMsP90 = &s.Median, &s.P90
	}
	return report
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func meanOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := mean(values)
	return &m
}
