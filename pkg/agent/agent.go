// Package agent answers a natural-language question with SQL. A run walks a
// fixed state machine: ingest, schema fetch, then generate, guardrail and
// execute (repeated while every candidate fails and retries remain), then
// rank, chart, and explain.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/bicopilot/pkg/chart"
	"github.com/malbeclabs/bicopilot/pkg/guardrail"
	"github.com/malbeclabs/bicopilot/pkg/table"
)

const (
	DefaultTopK               = 3
	DefaultMaxRetries         = 2
	DefaultPreviewRows        = 20
	DefaultLLMTimeout         = 60 * time.Second
	DefaultQueryTimeout       = 30 * time.Second
	DefaultExecuteConcurrency = 8
	DefaultDialect            = "PostgreSQL"
)

// ErrSchemaFetch wraps the only failure that aborts a run.
var ErrSchemaFetch = errors.New("schema fetch failed")

// LLMClient is the text-generation oracle.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Querier executes SQL.
type Querier interface {
	Query(ctx context.Context, sql string) (*table.Table, error)
}

// SchemaFetcher retrieves the schema snapshot given to the oracle.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context) (string, error)
}

// Config holds the configuration for the agent.
type Config struct {
	Logger        *slog.Logger
	LLM           LLMClient
	Querier       Querier
	SchemaFetcher SchemaFetcher
	Prompts       *Prompts
	Clock         clockwork.Clock

	// Optional with defaults.
	Dialect            string
	TopK               int
	MaxRetries         int // zero selects DefaultMaxRetries, negative disables retries
	PreviewRows        int
	LLMTimeout         time.Duration
	QueryTimeout       time.Duration
	ExecuteConcurrency int

	// OnTransition, when set, is called after every state change.
	OnTransition func(traceID string, from, to State)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Querier == nil {
		return errors.New("querier is required")
	}
	if cfg.SchemaFetcher == nil {
		return errors.New("schema fetcher is required")
	}
	if cfg.Prompts == nil {
		p, err := LoadPrompts()
		if err != nil {
			return err
		}
		cfg.Prompts = p
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DefaultDialect
	}
	if cfg.TopK < 0 {
		return errors.New("top k must be non-negative")
	}
	if cfg.TopK == 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = DefaultPreviewRows
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.ExecuteConcurrency <= 0 {
		cfg.ExecuteConcurrency = DefaultExecuteConcurrency
	}
	return nil
}

// Agent runs questions through the state machine. It is safe for concurrent
// use; runs share nothing but the execution pool.
type Agent struct {
	cfg  Config
	log  *slog.Logger
	pool pond.ResultPool[Execution]
}

// New creates a new Agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate agent config: %w", err)
	}
	return &Agent{
		cfg:  cfg,
		log:  cfg.Logger,
		pool: pond.NewResultPool[Execution](cfg.ExecuteConcurrency),
	}, nil
}

// WithTarget returns an agent that shares a's oracle, prompts, and pool but
// queries a different database.
func (a *Agent) WithTarget(q Querier, s SchemaFetcher) *Agent {
	cfg := a.cfg
	cfg.Querier = q
	cfg.SchemaFetcher = s
	return &Agent{cfg: cfg, log: a.log, pool: a.pool}
}

// Close waits for in-flight executions and stops the pool.
func (a *Agent) Close() {
	a.pool.StopAndWait()
}

// MaxRetries returns the effective retry budget.
func (a *Agent) MaxRetries() int { return a.cfg.MaxRetries }

type runOptions struct {
	topK    int
	traceID string
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

// WithTopK caps the number of candidates requested and kept per attempt.
func WithTopK(k int) RunOption {
	return func(o *runOptions) { o.topK = k }
}

// WithTraceID sets the trace identifier instead of generating one.
func WithTraceID(id string) RunOption {
	return func(o *runOptions) { o.traceID = id }
}

// failure is the reason an attempt produced no successful execution, carried
// into the next generation prompt.
type failure struct {
	SQL    string
	Reason string
}

type run struct {
	result      *RunResult
	topK        int
	start       time.Time
	schema      string
	tftSet      bool
	lastFailure *failure
}

func (r *run) current() *Attempt {
	return &r.result.Attempts[len(r.result.Attempts)-1]
}

// Run drives question through the state machine. The only error returned for
// a started run is a schema fetch failure (wrapping ErrSchemaFetch) or the
// cancellation of ctx; every other failure is recorded in the result.
func (a *Agent) Run(ctx context.Context, question string, opts ...RunOption) (*RunResult, error) {
	o := runOptions{topK: a.cfg.TopK}
	for _, opt := range opts {
		opt(&o)
	}
	if o.topK <= 0 {
		o.topK = a.cfg.TopK
	}

	r := &run{
		topK: o.topK,
		result: &RunResult{
			TraceID:    o.traceID,
			Question:   question,
			Generated:  []string{},
			Candidates: []string{},
			Executions: []Execution{},
			Attempts:   []Attempt{},
			Safety:     guardrail.Flags{Reasons: []string{}},
			Metadata:   map[string]any{},
		},
	}

	state := StateIngest
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			runsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		retry, err := a.step(ctx, state, r)
		if err != nil {
			runsTotal.WithLabelValues("error").Inc()
			a.log.Error("agent: run failed", "trace_id", r.result.TraceID, "state", state, "error", err)
			return nil, err
		}
		next := Transition(state, retry)
		a.log.Debug("agent: transition", "trace_id", r.result.TraceID, "from", state, "to", next)
		if a.cfg.OnTransition != nil {
			a.cfg.OnTransition(r.result.TraceID, state, next)
		}
		state = next
	}

	res := r.result
	res.TotalLatencyMs = ms(a.cfg.Clock.Since(r.start))
	attemptsPerRun.Observe(float64(len(res.Attempts)))
	outcome := "unanswered"
	if res.AnySucceeded() {
		outcome = "answered"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	a.log.Info("agent: run complete",
		"trace_id", res.TraceID,
		"outcome", outcome,
		"retry_count", res.RetryCount,
		"total_latency_ms", res.TotalLatencyMs)
	return res, nil
}

func (a *Agent) step(ctx context.Context, state State, r *run) (bool, error) {
	switch state {
	case StateIngest:
		a.ingest(r)
	case StateSchemaFetch:
		return false, a.fetchSchema(ctx, r)
	case StateGenerate:
		a.generate(ctx, r)
	case StateGuardrail:
		a.guard(r)
	case StateExecute:
		return a.execute(ctx, r), nil
	case StateRank:
		a.rank(r)
	case StateChart:
		a.suggestChart(r)
	case StateExplain:
		a.explain(ctx, r)
	}
	return false, nil
}

func (a *Agent) ingest(r *run) {
	if r.result.TraceID == "" {
		r.result.TraceID = uuid.NewString()
	}
	r.start = a.cfg.Clock.Now()
	r.result.Metadata["ingest_time"] = r.start.UTC().Format(time.RFC3339Nano)
	a.log.Info("agent: ingest question", "trace_id", r.result.TraceID, "question", r.result.Question)
}

func (a *Agent) fetchSchema(ctx context.Context, r *run) error {
	schema, err := a.cfg.SchemaFetcher.FetchSchema(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaFetch, err)
	}
	r.schema = schema
	a.log.Info("agent: schema fetched", "trace_id", r.result.TraceID, "bytes", len(schema))
	return nil
}

func (a *Agent) generate(ctx context.Context, r *run) {
	attempt := Attempt{
		Number:     r.result.RetryCount,
		Generated:  []string{},
		Candidates: []string{},
		Executions: []Execution{},
		Safety:     guardrail.Flags{Reasons: []string{}},
	}

	system := a.cfg.Prompts.generateSystem(a.cfg.Dialect)
	user := a.cfg.Prompts.generateUser(r.schema, r.result.Question, r.topK, r.lastFailure)
	response, err := a.complete(ctx, "generate", system, user)
	if err == nil && !r.tftSet {
		r.result.TFTMs = ms(a.cfg.Clock.Since(r.start))
		r.tftSet = true
	}

	if err != nil {
		attempt.FailureReason = fmt.Sprintf("generation failed: %v", err)
		a.log.Warn("agent: generation failed", "trace_id", r.result.TraceID, "attempt", attempt.Number, "error", err)
	} else {
		out := ParseOutput(response)
		if _, ok := out.(Unstructured); ok {
			a.log.Warn("agent: could not parse structured candidates, falling back to single candidate",
				"trace_id", r.result.TraceID, "attempt", attempt.Number)
		}
		candidates := out.Candidates()
		if len(candidates) > r.topK {
			candidates = candidates[:r.topK]
		}
		attempt.OutputKind = out.Kind()
		attempt.Generated = candidates
		a.log.Info("agent: generated candidates", "trace_id", r.result.TraceID, "attempt", attempt.Number, "count", len(candidates))
	}
	r.result.Attempts = append(r.result.Attempts, attempt)
}

func (a *Agent) guard(r *run) {
	attempt := r.current()
	kept, flags := guardrail.Filter(attempt.Generated)
	attempt.Candidates = kept
	attempt.Safety = flags
	if flags.Blocked {
		guardrailBlocksTotal.Inc()
	}
	a.log.Info("agent: guardrail", "trace_id", r.result.TraceID, "attempt", attempt.Number, "candidates", len(kept), "blocked", flags.Blocked)
}

// execute runs the attempt's candidates and reports whether to retry.
func (a *Agent) execute(ctx context.Context, r *run) bool {
	attempt := r.current()
	attempt.Executions = a.executeAll(ctx, attempt.Number, attempt.Candidates)

	var firstFailure *Execution
	tfrSet := false
	for i := range attempt.Executions {
		e := &attempt.Executions[i]
		switch {
		case e.Success && !tfrSet:
			attempt.TFRMs = e.LatencyMs
			tfrSet = true
		case !e.Success && firstFailure == nil:
			firstFailure = e
		}
	}

	succeeded := attempt.Succeeded()
	if !succeeded && attempt.FailureReason == "" {
		if firstFailure != nil {
			attempt.FailureReason = firstFailure.Error
		} else {
			attempt.FailureReason = "no SQL candidates were generated"
		}
	}
	a.log.Info("agent: executed candidates", "trace_id", r.result.TraceID, "attempt", attempt.Number, "executed", len(attempt.Executions), "succeeded", succeeded)

	retry := ShouldRetry(succeeded, r.result.RetryCount, a.cfg.MaxRetries)
	if retry {
		f := &failure{Reason: attempt.FailureReason}
		if firstFailure != nil {
			f.SQL = firstFailure.SQL
		}
		r.lastFailure = f
		r.result.RetryCount++
		a.log.Info("agent: retrying", "trace_id", r.result.TraceID, "retry_count", r.result.RetryCount, "reason", f.Reason)
	}
	return retry
}

func (a *Agent) executeAll(ctx context.Context, attempt int, candidates []string) []Execution {
	if len(candidates) == 0 {
		return []Execution{}
	}
	group := a.pool.NewGroup()
	for _, sql := range candidates {
		group.Submit(func() Execution {
			return a.executeOne(ctx, attempt, sql)
		})
	}
	executions, err := group.Wait()
	if err != nil {
		// Tasks never fail; a non-nil error means the pool was stopped.
		a.log.Error("agent: execution pool failed", "error", err)
		executions = make([]Execution, len(candidates))
		for i, sql := range candidates {
			executions[i] = Execution{Attempt: attempt, SQL: sql, Error: err.Error(), Columns: []string{}, PreviewRows: [][]any{}}
		}
	}
	return executions
}

func (a *Agent) executeOne(ctx context.Context, attempt int, sql string) Execution {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	exec := Execution{Attempt: attempt, SQL: sql, Columns: []string{}, PreviewRows: [][]any{}}
	start := a.cfg.Clock.Now()
	tbl, err := a.cfg.Querier.Query(ctx, sql)
	exec.LatencyMs = ms(a.cfg.Clock.Since(start))
	if err != nil {
		exec.Error = err.Error()
		candidateExecutionsTotal.WithLabelValues("error").Inc()
		return exec
	}
	candidateExecutionsTotal.WithLabelValues("ok").Inc()
	if tbl == nil {
		tbl = table.New(nil, nil)
	}
	head := tbl.Head(a.cfg.PreviewRows)
	exec.Success = true
	exec.Columns = head.Columns
	exec.PreviewRows = head.Rows
	return exec
}

func (a *Agent) rank(r *run) {
	res := r.result
	attempt := r.current()
	res.Generated = attempt.Generated
	res.Candidates = attempt.Candidates
	res.Executions = attempt.Executions
	res.Safety = attempt.Safety
	res.TFRMs = attempt.TFRMs

	var chosen *Execution
	for i := range attempt.Executions {
		if attempt.Executions[i].Success {
			chosen = &attempt.Executions[i]
			break
		}
	}
	if chosen == nil && len(attempt.Executions) > 0 {
		chosen = &attempt.Executions[0]
	}
	if chosen != nil {
		res.ChosenSQL = chosen.SQL
		res.Table = table.New(chosen.Columns, chosen.PreviewRows)
	}
	a.log.Info("agent: ranked candidates", "trace_id", res.TraceID, "chosen_sql", res.ChosenSQL)
}

func (a *Agent) suggestChart(r *run) {
	if r.result.Table == nil {
		return
	}
	r.result.Chart = chart.Suggest(r.result.Table)
	chartType := ""
	if r.result.Chart != nil {
		chartType = r.result.Chart.ChartType
	}
	a.log.Info("agent: chart suggestion", "trace_id", r.result.TraceID, "chart_type", chartType)
}

func (a *Agent) explain(ctx context.Context, r *run) {
	res := r.result
	if res.ChosenSQL == "" {
		return
	}
	response, err := a.complete(ctx, "explain", a.cfg.Prompts.ExplainSystem, a.cfg.Prompts.explainUser(res.Question, res.ChosenSQL))
	if err != nil {
		a.log.Warn("agent: explanation failed", "trace_id", res.TraceID, "error", err)
		return
	}
	res.Explanation = strings.TrimSpace(response)
	res.Metadata["explanation"] = res.Explanation
	a.log.Info("agent: explanation added", "trace_id", res.TraceID)
}

func (a *Agent) complete(ctx context.Context, call, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	response, err := a.cfg.LLM.Complete(ctx, system, user)
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmCallDuration.WithLabelValues(call, status).Observe(time.Since(start).Seconds())
	return response, err
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
