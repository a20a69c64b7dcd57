package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/bicopilot/pkg/config"
	"github.com/malbeclabs/bicopilot/pkg/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(info BuildInfo) ExitCode {
	rootCmd := &cobra.Command{
		Use:           "bicopilot",
		Short:         "Natural-language questions over a SQL database, with offline evaluation.",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default $"+config.ConfigFileEnv+")")

	rootCmd.AddCommand(
		NewServeCmd(info).Command(),
		NewAskCmd().Command(),
		NewEvaluateCmd().Command(),
		NewDriftEvalCmd().Command(),
		NewSafetyEvalCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

// loadConfig reads the root flags and returns the validated configuration and
// a logger writing to stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger.New(os.Stderr, verbose), nil
}
