package db

import (
	"context"
	"errors"
	"fmt"
)

// Pools holds the process-wide executors: the baseline target and the drift
// target used by schema-drift evaluation. Both are safe for concurrent use.
type Pools struct {
	Baseline Executor
	Drift    Executor
}

// OpenPools opens the baseline executor and, when driftURL differs from
// cfg.URL, a separate drift executor. An empty driftURL shares the baseline.
func OpenPools(ctx context.Context, cfg Config, driftURL string) (*Pools, error) {
	baseline, err := Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline database: %w", err)
	}
	pools := &Pools{Baseline: baseline, Drift: baseline}
	if driftURL == "" || driftURL == cfg.URL {
		return pools, nil
	}

	driftCfg := cfg
	driftCfg.URL = driftURL
	drift, err := Open(ctx, driftCfg)
	if err != nil {
		baseline.Close()
		return nil, fmt.Errorf("failed to open drift database: %w", err)
	}
	pools.Drift = drift
	return pools, nil
}

// Shared reports whether the drift target is the baseline executor.
func (p *Pools) Shared() bool {
	return p.Drift == p.Baseline
}

func (p *Pools) Close() error {
	var errs []error
	if p.Baseline != nil {
		errs = append(errs, p.Baseline.Close())
	}
	if p.Drift != nil && !p.Shared() {
		errs = append(errs, p.Drift.Close())
	}
	return errors.Join(errs...)
}
