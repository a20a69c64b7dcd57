package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/config"
	"github.com/malbeclabs/bicopilot/pkg/db"
	"github.com/malbeclabs/bicopilot/pkg/eval"
)

// app is the process-wide object graph: connection pools, the agent for each
// target, and the evaluation suite.
type app struct {
	log   *slog.Logger
	pools *db.Pools
	agent *agent.Agent
	suite *eval.Suite

	closers []func()
}

func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pools, err := db.OpenPools(ctx, db.Config{
		Logger:       log,
		URL:          cfg.DatabaseURL,
		QueryTimeout: cfg.QueryTimeout,
	}, cfg.DriftDatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{log: log, pools: pools}
	if err := a.wire(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(cfg *config.Config) error {
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = a.pools.Baseline.Backend().Dialect()
	}
	// Config counts retries from zero; the agent treats zero as "default".
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	llm := agent.NewAnthropicClient(a.log, cfg.AnthropicAPIKey, anthropic.Model(cfg.AnthropicModel), 0)
	baseline, err := agent.New(agent.Config{
		Logger:        a.log,
		LLM:           llm,
		Querier:       a.pools.Baseline,
		SchemaFetcher: db.NewCachingSchemaFetcher(a.log, a.pools.Baseline, cfg.SchemaCacheTTL),
		Dialect:       dialect,
		TopK:          cfg.TopK,
		MaxRetries:    maxRetries,
		LLMTimeout:    cfg.LLMTimeout,
		QueryTimeout:  cfg.QueryTimeout,
	})
	if err != nil {
		return err
	}
	a.agent = baseline
	a.closers = append(a.closers, baseline.Close)

	drift := baseline
	if !a.pools.Shared() {
		drift = baseline.WithTarget(a.pools.Drift, db.NewCachingSchemaFetcher(a.log, a.pools.Drift, cfg.SchemaCacheTTL))
	} else {
		a.log.Warn("cli: no drift database configured, drift evaluation runs against the baseline")
	}

	gold, err := eval.NewGoldCache(eval.DefaultGoldCacheTTL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, gold.Close)

	tolerance := eval.Tolerance{Atol: cfg.TauAtol, Rtol: cfg.TauRtol}
	newEvaluator := func(target string, runner eval.Runner, q eval.Querier) (*eval.Evaluator, error) {
		e, err := eval.New(eval.Config{
			Logger:      a.log,
			Runner:      runner,
			Querier:     q,
			Target:      target,
			GoldCache:   gold,
			TopK:        cfg.TopK,
			Tolerance:   &tolerance,
			Concurrency: cfg.EvalConcurrency,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	}
	baselineEval, err := newEvaluator("baseline", baseline, a.pools.Baseline)
	if err != nil {
		return err
	}
	driftEval, err := newEvaluator("drift", drift, a.pools.Drift)
	if err != nil {
		return err
	}

	suite, err := eval.NewSuite(eval.SuiteConfig{
		Logger:      a.log,
		DatasetPath: cfg.DatasetPath,
		Baseline:    baselineEval,
		Drift:       driftEval,
		Safety:      baseline,
	})
	if err != nil {
		return fmt.Errorf("failed to create evaluation suite: %w", err)
	}
	a.suite = suite
	return nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if err := a.pools.Close(); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("cli: failed to close database pools", "error", err)
	}
}
