package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRunner struct {
	mu        sync.Mutex
	results   map[string]*agent.RunResult
	err       error
	questions []string
}

func (m *mockRunner) Run(_ context.Context, question string, _ ...agent.RunOption) (*agent.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = append(m.questions, question)
	if m.err != nil {
		return nil, m.err
	}
	res, ok := m.results[question]
	if !ok {
		return nil, fmt.Errorf("unexpected question %q", question)
	}
	return res, nil
}

type mockQuerier struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	calls  map[string]int
}

func newMockQuerier(tables map[string]*table.Table) *mockQuerier {
	return &mockQuerier{tables: tables, calls: map[string]int{}}
}

func (m *mockQuerier) Query(_ context.Context, sql string) (*table.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[sql]++
	t, ok := m.tables[sql]
	if !ok {
		return nil, fmt.Errorf("relation for %q does not exist", sql)
	}
	return t, nil
}

func (m *mockQuerier) callCount(sql string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[sql]
}

// runResult builds a result whose chosen SQL follows the agent's ranking rule.
func runResult(tft, tfr float64, execs ...agent.Execution) *agent.RunResult {
	res := &agent.RunResult{Executions: execs, TFTMs: tft, TFRMs: tfr}
	for _, e := range execs {
		if e.Success {
			res.ChosenSQL = e.SQL
			break
		}
	}
	if res.ChosenSQL == "" && len(execs) > 0 {
		res.ChosenSQL = execs[0].SQL
	}
	for _, e := range execs {
		res.Candidates = append(res.Candidates, e.SQL)
	}
	return res
}

func ok(sql string) agent.Execution     { return agent.Execution{SQL: sql, Success: true} }
func failed(sql string) agent.Execution { return agent.Execution{SQL: sql, Error: "boom"} }

func regions(values ...string) *table.Table {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}
	return table.New([]string{"region"}, rows)
}

func newTestEvaluator(t *testing.T, runner Runner, q Querier, mutate ...func(*Config)) *Evaluator {
	t.Helper()
	cfg := Config{Logger: testLogger(), Runner: runner, Querier: q}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func scenario() ([]Example, *mockRunner, *mockQuerier) {
	examples := []Example{
		{Question: "list regions", SQL: "SELECT region FROM regions"},
		{Question: "total sales", SQL: "SELECT SUM(total) AS s FROM orders"},
		{Question: "broken gold", SQL: "SELECT nope FROM nowhere"},
		{Question: "all fail", SQL: "SELECT region FROM regions ORDER BY 1"},
		{Question: "second candidate right", SQL: "SELECT region FROM regions WHERE 1=1"},
	}
	q := newMockQuerier(map[string]*table.Table{
		"SELECT region FROM regions":            regions("east", "west"),
		"SELECT region FROM regions ORDER BY 1": regions("east", "west"),
		"SELECT region FROM regions WHERE 1=1":  regions("east", "west"),
		"SELECT SUM(total) AS s FROM orders":    table.New([]string{"s"}, [][]any{{10.0}}),

		"P1":       regions("east", "west"),
		"P2":       table.New([]string{"s"}, [][]any{{10.005}}),
		"P5-wrong": regions("east"),
		"P5-right": regions("east", "west"),
	})
	runner := &mockRunner{results: map[string]*agent.RunResult{
		"list regions":           runResult(100, 10, ok("P1")),
		"total sales":            runResult(200, 20, ok("P2")),
		"all fail":               runResult(0, 0, failed("BAD1"), failed("BAD2")),
		"second candidate right": runResult(300, 30, failed("BAD3"), ok("P5-wrong"), ok("P5-right")),
	}}
	return examples, runner, q
}

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	examples, runner, q := scenario()
	e := newTestEvaluator(t, runner, q, func(cfg *Config) { cfg.Concurrency = 2 })

	report, err := e.Evaluate(context.Background(), examples, 0)
	require.NoError(t, err)

	require.Equal(t, "baseline", report.Target)
	require.Equal(t, 4, report.Evaluated)
	require.Equal(t, 1, report.SkippedGoldFailures)
	require.NotContains(t, runner.questions, "broken gold", "agent is not run when gold fails")

	require.InDelta(t, 0.75, *report.ExecutionAccuracy, 1e-12)
	require.InDelta(t, 0.5, *report.AnswerSetExactMatch, 1e-12)
	require.InDelta(t, 1.0, *report.ValueAccuracyTau, 1e-12)
	require.InDelta(t, (1.0+2.0/3.0)/2, *report.SetF1Mean, 1e-12)
	require.InDelta(t, 0.5, *report.PassAtK, 1e-12)

	require.InDelta(t, 200, *report.LatencyTFTMsMedian, 1e-9)
	require.InDelta(t, 280, *report.LatencyTFTMsP90, 1e-9)
	require.InDelta(t, 20, *report.LatencyTFRMsMedian, 1e-9)
	require.InDelta(t, 28, *report.LatencyTFRMsP90, 1e-9)

	require.Equal(t, 1, q.callCount("P1"), "chosen and pass@k share one re-fetch")
	require.Equal(t, 0, q.callCount("BAD3"), "failed candidates are not re-fetched for pass@k")
}

func TestEvaluator_EmptyMetricsAreOmitted(t *testing.T) {
	t.Parallel()

	q := newMockQuerier(map[string]*table.Table{})
	e := newTestEvaluator(t, &mockRunner{}, q)

	report, err := e.Evaluate(context.Background(), []Example{{Question: "q", SQL: "SELECT broken"}}, 3)
	require.NoError(t, err)
	require.Equal(t, 0, report.Evaluated)
	require.Equal(t, 1, report.SkippedGoldFailures)
	require.Nil(t, report.ExecutionAccuracy)
	require.Nil(t, report.PassAtK)
	require.Nil(t, report.LatencyTFTMsMedian)

	report, err = e.Evaluate(context.Background(), nil, 3)
	require.NoError(t, err)
	require.Equal(t, 0, report.Evaluated)
}

func TestEvaluator_AgentErrorAborts(t *testing.T) {
	t.Parallel()

	q := newMockQuerier(map[string]*table.Table{"SELECT 1": table.New([]string{"n"}, [][]any{{int64(1)}})})
	runner := &mockRunner{err: fmt.Errorf("%w: connection refused", agent.ErrSchemaFetch)}
	e := newTestEvaluator(t, runner, q)

	_, err := e.Evaluate(context.Background(), []Example{{Question: "q", SQL: "SELECT 1"}}, 3)
	require.ErrorIs(t, err, agent.ErrSchemaFetch)
}

func TestEvaluator_GoldCache(t *testing.T) {
	t.Parallel()

	cache, err := NewGoldCache(0)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	examples, runner, q := scenario()
	e := newTestEvaluator(t, runner, q, func(cfg *Config) { cfg.GoldCache = cache })

	_, err = e.Evaluate(context.Background(), examples, 3)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), examples, 3)
	require.NoError(t, err)

	require.Equal(t, 1, q.callCount("SELECT region FROM regions"))
	require.Equal(t, 2, q.callCount("SELECT nope FROM nowhere"), "failures are not cached")

	_, hit := cache.Get("drift", "SELECT region FROM regions")
	require.False(t, hit, "entries are scoped to their target")
}

func TestEvaluator_PerQuestionImplications(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	const goldSQL = "SELECT region FROM regions"

	// Each candidate status is 0 (fails), 1 (runs, wrong answer), or 2 (runs,
	// right answer).
	properties.Property("exact match implies pass@k implies execution", prop.ForAll(
		func(statuses []int, n int) bool {
			tables := map[string]*table.Table{goldSQL: regions("east", "west")}
			var execs []agent.Execution
			for i, s := range statuses[:n] {
				sql := fmt.Sprintf("C%d", i)
				switch s {
				case 0:
					execs = append(execs, failed(sql))
				case 1:
					tables[sql] = regions("north")
					execs = append(execs, ok(sql))
				default:
					tables[sql] = regions("east", "west")
					execs = append(execs, ok(sql))
				}
			}
			runner := &mockRunner{results: map[string]*agent.RunResult{"q": runResult(1, 1, execs...)}}
			e, err := New(Config{Logger: testLogger(), Runner: runner, Querier: newMockQuerier(tables)})
			if err != nil {
				return false
			}
			defer e.Close()

			report, err := e.Evaluate(context.Background(), []Example{{Question: "q", SQL: goldSQL}}, 3)
			if err != nil {
				return false
			}
			exact := report.AnswerSetExactMatch != nil && *report.AnswerSetExactMatch == 1
			passAtK := *report.PassAtK == 1
			executed := *report.ExecutionAccuracy == 1
			return (!exact || passAtK) && (!passAtK || executed)
		},
		gen.SliceOfN(3, gen.IntRange(0, 2)),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestEvaluateDrift(t *testing.T) {
	t.Parallel()

	examples := []Example{
		{Question: "a", SQL: "SELECT region FROM regions"},
		{Question: "b", SQL: "SELECT region FROM regions LIMIT 1"},
	}
	baseQ := newMockQuerier(map[string]*table.Table{
		"SELECT region FROM regions":         regions("east", "west"),
		"SELECT region FROM regions LIMIT 1": regions("east"),
		"PA":                                 regions("east", "west"),
		"PB":                                 regions("east"),
	})
	driftQ := newMockQuerier(map[string]*table.Table{
		"SELECT region FROM regions":         regions("east", "west"),
		"SELECT region FROM regions LIMIT 1": regions("east"),
		"PA":                                 regions("east", "west"),
	})
	results := map[string]*agent.RunResult{
		"a": runResult(1, 1, ok("PA")),
		"b": runResult(1, 1, ok("PB")),
	}
	baseline := newTestEvaluator(t, &mockRunner{results: results}, baseQ)
	drift := newTestEvaluator(t, &mockRunner{results: results}, driftQ, func(cfg *Config) { cfg.Target = "drift" })

	report, err := EvaluateDrift(context.Background(), baseline, drift, examples, 3)
	require.NoError(t, err)
	require.Equal(t, "baseline", report.Baseline.Target)
	require.Equal(t, "drift", report.Drift.Target)
	require.InDelta(t, 1.0, *report.Baseline.AnswerSetExactMatch, 1e-12)
	require.InDelta(t, 1.0, *report.Drift.AnswerSetExactMatch, 1e-12, "b has no exact-match sample on drift because PB does not re-fetch")
	require.NotNil(t, report.DeltaASEM)
	require.InDelta(t, 0.0, *report.DeltaASEM, 1e-12)
	require.InDelta(t, 0.5, *report.Drift.PassAtK, 1e-12)
}

func TestEvaluateDrift_NoExactMatchSamples(t *testing.T) {
	t.Parallel()

	q := newMockQuerier(map[string]*table.Table{"SELECT SUM(x) FROM t": table.New([]string{"s"}, [][]any{{1.0}})})
	results := map[string]*agent.RunResult{"q": runResult(1, 1, ok("SELECT SUM(x) FROM t"))}
	baseline := newTestEvaluator(t, &mockRunner{results: results}, q)
	drift := newTestEvaluator(t, &mockRunner{results: results}, q, func(cfg *Config) { cfg.Target = "drift" })

	report, err := EvaluateDrift(context.Background(), baseline, drift, []Example{{Question: "q", SQL: "SELECT SUM(x) FROM t"}}, 3)
	require.NoError(t, err)
	require.Nil(t, report.DeltaASEM)
}

func TestEvaluateDrift_PropagatesErrors(t *testing.T) {
	t.Parallel()

	q := newMockQuerier(map[string]*table.Table{"SELECT 1": table.New([]string{"n"}, nil)})
	boom := errors.New("boom")
	baseline := newTestEvaluator(t, &mockRunner{err: boom}, q)
	drift := newTestEvaluator(t, &mockRunner{err: boom}, q)

	_, err := EvaluateDrift(context.Background(), baseline, drift, []Example{{Question: "q", SQL: "SELECT 1"}}, 3)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "baseline evaluation failed")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, (&Config{Runner: &mockRunner{}, Querier: newMockQuerier(nil)}).Validate(), "logger")
	require.ErrorContains(t, (&Config{Logger: testLogger(), Querier: newMockQuerier(nil)}).Validate(), "runner")
	require.ErrorContains(t, (&Config{Logger: testLogger(), Runner: &mockRunner{}}).Validate(), "querier")
	require.ErrorContains(t, (&Config{Logger: testLogger(), Runner: &mockRunner{}, Querier: newMockQuerier(nil), Tolerance: &Tolerance{Atol: -1}}).Validate(), "non-negative")

	cfg := Config{Logger: testLogger(), Runner: &mockRunner{}, Querier: newMockQuerier(nil)}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultTolerance, *cfg.Tolerance)

	exact := Config{Logger: testLogger(), Runner: &mockRunner{}, Querier: newMockQuerier(nil), Tolerance: &Tolerance{}}
	require.NoError(t, exact.Validate())
	require.Equal(t, Tolerance{}, *exact.Tolerance)
	require.Equal(t, DefaultTopK, cfg.TopK)
	require.Equal(t, DefaultConcurrency, cfg.Concurrency)
	require.Equal(t, DefaultTarget, cfg.Target)
}

func TestEvaluator_ZeroToleranceIsExact(t *testing.T) {
	t.Parallel()

	goldSQL, predSQL := "SELECT SUM(total) AS total FROM orders", "SELECT SUM(amount) AS total FROM orders"
	tables := map[string]*table.Table{
		goldSQL: table.New([]string{"total"}, [][]any{{1000.0}}),
		predSQL: table.New([]string{"total"}, [][]any{{1000.0000001}}),
	}
	examples := []Example{{Question: "q", SQL: goldSQL}}
	runner := &mockRunner{results: map[string]*agent.RunResult{"q": runResult(1, 1, ok(predSQL))}}

	loose := newTestEvaluator(t, runner, newMockQuerier(tables))
	report, err := loose.Evaluate(context.Background(), examples, 3)
	require.NoError(t, err)
	require.Equal(t, 1.0, *report.ValueAccuracyTau)

	exact := newTestEvaluator(t, runner, newMockQuerier(tables), func(cfg *Config) { cfg.Tolerance = &Tolerance{} })
	report, err = exact.Evaluate(context.Background(), examples, 3)
	require.NoError(t, err)
	require.Equal(t, 0.0, *report.ValueAccuracyTau)
}
