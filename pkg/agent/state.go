package agent

// State is a node of the run state machine.
type State int

const (
	StateIngest State = iota
	StateSchemaFetch
	StateGenerate
	StateGuardrail
	StateExecute
	StateRank
	StateChart
	StateExplain
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIngest:
		return "ingest"
	case StateSchemaFetch:
		return "schema_fetch"
	case StateGenerate:
		return "generate"
	case StateGuardrail:
		return "guardrail"
	case StateExecute:
		return "execute"
	case StateRank:
		return "rank"
	case StateChart:
		return "chart"
	case StateExplain:
		return "explain"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ShouldRetry is the conditional edge out of StateExecute: retry only when no
// candidate of the attempt succeeded and the retry budget is not spent.
func ShouldRetry(anySuccess bool, retryCount, maxRetries int) bool {
	return !anySuccess && retryCount < maxRetries
}

// Transition returns the state after from. retry is consulted only when
// leaving StateExecute. StateDone is terminal.
func Transition(from State, retry bool) State {
	switch from {
	case StateIngest:
		return StateSchemaFetch
	case StateSchemaFetch:
		return StateGenerate
	case StateGenerate:
		return StateGuardrail
	case StateGuardrail:
		return StateExecute
	case StateExecute:
		if retry {
			return StateGenerate
		}
		return StateRank
	case StateRank:
		return StateChart
	case StateChart:
		return StateExplain
	default:
		return StateDone
	}
}
