package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		anySuccess bool
		retryCount int
		maxRetries int
		want       bool
	}{
		{"success never retries", true, 0, 2, false},
		{"failure with budget left", false, 0, 2, true},
		{"failure on last allowed retry", false, 1, 2, true},
		{"failure with budget spent", false, 2, 2, false},
		{"retries disabled", false, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ShouldRetry(tt.anySuccess, tt.retryCount, tt.maxRetries))
		})
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	require.Equal(t, StateSchemaFetch, Transition(StateIngest, false))
	require.Equal(t, StateGenerate, Transition(StateSchemaFetch, true))
	require.Equal(t, StateGuardrail, Transition(StateGenerate, false))
	require.Equal(t, StateExecute, Transition(StateGuardrail, false))
	require.Equal(t, StateGenerate, Transition(StateExecute, true))
	require.Equal(t, StateRank, Transition(StateExecute, false))
	require.Equal(t, StateChart, Transition(StateRank, true))
	require.Equal(t, StateExplain, Transition(StateChart, false))
	require.Equal(t, StateDone, Transition(StateExplain, false))
	require.Equal(t, StateDone, Transition(StateDone, true))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "schema_fetch", StateSchemaFetch.String())
	require.Equal(t, "done", StateDone.String())
	require.Equal(t, "unknown", State(99).String())
}
