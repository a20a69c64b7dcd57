package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/bicopilot/pkg/agent"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer one question against the baseline database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, err := cmd.Flags().GetInt("top-k")
			if err != nil {
				return fmt.Errorf("failed to get top-k flag: %w", err)
			}
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

			var opts []agent.RunOption
			if topK > 0 {
				opts = append(opts, agent.WithTopK(topK))
			}
			res, err := a.agent.Run(ctx, strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printRunResult(os.Stdout, res)
			return nil
		},
	}

	cmd.Flags().Int("top-k", 0, "number of candidate queries (default from config)")
	cmd.Flags().Bool("json", false, "print the full result as JSON")
	return cmd
}
