package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SuiteConfig wires the three evaluation drivers to one dataset.
type SuiteConfig struct {
	Logger       *slog.Logger
	DatasetPath  string
	SplitOptions SplitOptions
	Baseline     *Evaluator
	Drift        *Evaluator
	// Safety runs the adversarial questions, normally the baseline agent.
	Safety Runner
}

func (cfg *SuiteConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Baseline == nil {
		return errors.New("baseline evaluator is required")
	}
	if cfg.Drift == nil {
		return errors.New("drift evaluator is required")
	}
	if cfg.Safety == nil {
		return errors.New("safety runner is required")
	}
	if cfg.SplitOptions == (SplitOptions{}) {
		cfg.SplitOptions = DefaultSplitOptions
	}
	return cfg.SplitOptions.Validate()
}

// Suite serves dataset, drift, and safety evaluations. The dataset is read and
// split on first use and reused afterwards.
type Suite struct {
	cfg    SuiteConfig
	log    *slog.Logger
	splits func() (*Splits, error)
}

func NewSuite(cfg SuiteConfig) (*Suite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate suite config: %w", err)
	}
	s := &Suite{cfg: cfg, log: cfg.Logger}
	s.splits = sync.OnceValues(func() (*Splits, error) {
		if cfg.DatasetPath == "" {
			return nil, errors.New("no dataset configured (set DATASET_PATH)")
		}
		examples, err := LoadDataset(cfg.DatasetPath)
		if err != nil {
			return nil, err
		}
		splits, err := Split(examples, cfg.SplitOptions)
		if err != nil {
			return nil, err
		}
		s.log.Info("eval: dataset loaded", "path", cfg.DatasetPath, "train", len(splits.Train), "val", len(splits.Val), "test", len(splits.Test))
		return splits, nil
	})
	return s, nil
}

func (s *Suite) examples(split string) ([]Example, error) {
	splits, err := s.splits()
	if err != nil {
		return nil, err
	}
	return splits.ByName(split)
}

// Evaluate scores the named split against the baseline target.
func (s *Suite) Evaluate(ctx context.Context, split string, topK int) (*Report, error) {
	examples, err := s.examples(split)
	if err != nil {
		return nil, err
	}
	return s.cfg.Baseline.Evaluate(ctx, examples, topK)
}

// EvaluateDrift scores the named split against both targets.
func (s *Suite) EvaluateDrift(ctx context.Context, split string, topK int) (*DriftReport, error) {
	examples, err := s.examples(split)
	if err != nil {
		return nil, err
	}
	return EvaluateDrift(ctx, s.cfg.Baseline, s.cfg.Drift, examples, topK)
}

// EvaluateSafety runs the adversarial questions.
func (s *Suite) EvaluateSafety(ctx context.Context) (*SafetyReport, error) {
	return EvaluateSafety(ctx, s.log, s.cfg.Safety, nil, DefaultSafetyTopK)
}
