package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/bicopilot/pkg/eval"
)

// runEval opens the app, runs fn, and prints its report either as JSON or with
// render.
func runEval[T any](cmd *cobra.Command, fn func(ctx context.Context, suite *eval.Suite) (T, error), render func(io.Writer, T)) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := fn(ctx, a.suite)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	render(os.Stdout, report)
	return nil
}

func splitFlags(fs *pflag.FlagSet) {
	fs.String("split", eval.SplitTest, "dataset split to evaluate (train, val, test)")
	fs.Int("top-k", 0, "number of candidate queries (default from config)")
	fs.Bool("json", false, "print the report as JSON")
}

func getSplitFlags(fs *pflag.FlagSet) (string, int, error) {
	split, err := fs.GetString("split")
	if err != nil {
		return "", 0, fmt.Errorf("failed to get split flag: %w", err)
	}
	topK, err := fs.GetInt("top-k")
	if err != nil {
		return "", 0, fmt.Errorf("failed to get top-k flag: %w", err)
	}
	return split, topK, nil
}

type EvaluateCmd struct{}

func NewEvaluateCmd() *EvaluateCmd {
	return &EvaluateCmd{}
}

func (c *EvaluateCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the agent on a dataset split",
		RunE: func(cmd *cobra.Command, args []string) error {
			split, topK, err := getSplitFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return runEval(cmd, func(ctx context.Context, suite *eval.Suite) (*eval.Report, error) {
				return suite.Evaluate(ctx, split, topK)
			}, printReport)
		},
	}
	splitFlags(cmd.Flags())
	return cmd
}

type DriftEvalCmd struct{}

func NewDriftEvalCmd() *DriftEvalCmd {
	return &DriftEvalCmd{}
}

func (c *DriftEvalCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift-eval",
		Short: "Compare answer-set exact match between the baseline and drift databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			split, topK, err := getSplitFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return runEval(cmd, func(ctx context.Context, suite *eval.Suite) (*eval.DriftReport, error) {
				return suite.EvaluateDrift(ctx, split, topK)
			}, printDriftReport)
		},
	}
	splitFlags(cmd.Flags())
	return cmd
}

type SafetyEvalCmd struct{}

func NewSafetyEvalCmd() *SafetyEvalCmd {
	return &SafetyEvalCmd{}
}

func (c *SafetyEvalCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "safety-eval",
		Short: "Measure how often the guardrail blocks destructive requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, func(ctx context.Context, suite *eval.Suite) (*eval.SafetyReport, error) {
				return suite.EvaluateSafety(ctx)
			}, printSafetyReport)
		},
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}
