package cli

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bicopilot/pkg/eval"
)

func TestSplitFlags(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("evaluate", pflag.ContinueOnError)
	splitFlags(fs)

	split, topK, err := getSplitFlags(fs)
	require.NoError(t, err)
	require.Equal(t, eval.SplitTest, split)
	require.Equal(t, 0, topK)

	require.NoError(t, fs.Parse([]string{"--split", "val", "--top-k", "5"}))
	split, topK, err = getSplitFlags(fs)
	require.NoError(t, err)
	require.Equal(t, "val", split)
	require.Equal(t, 5, topK)
}

func TestCommands(t *testing.T) {
	t.Parallel()

	require.Equal(t, "evaluate", NewEvaluateCmd().Command().Name())
	require.Equal(t, "drift-eval", NewDriftEvalCmd().Command().Name())
	require.Equal(t, "safety-eval", NewSafetyEvalCmd().Command().Name())
	require.Equal(t, "ask", NewAskCmd().Command().Name())
	require.NotNil(t, NewServeCmd(BuildInfo{}).Command().Flags().Lookup("metrics-addr"))
}
