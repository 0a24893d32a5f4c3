package generation

import "strings"

// State is the phase of a generation run.
type State string

const (
	StateReady      State = "READY"
	StateParser     State = "PARSER"
	StateGeneration State = "GENERATION"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
)

// ParseState maps a wire value onto a State. Matching ignores case.
func ParseState(raw string) (State, bool) {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StateReady:
		return StateReady, true
	case StateParser:
		return StateParser, true
	case StateGeneration:
		return StateGeneration, true
	case StateCompleted:
		return StateCompleted, true
	case StateError:
		return StateError, true
	}
	return "", false
}

// Terminal reports whether no further event-driven transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// next lists the forward edges reachable from progress events.
var next = map[State]State{
	StateReady:      StateParser,
	StateParser:     StateGeneration,
	StateGeneration: StateCompleted,
}

// canAdvance reports whether a progress event may move from to target.
// Staying in the same state is always allowed; ERROR is reachable from
// every non-terminal state.
func canAdvance(from, target State) bool {
	if from == target {
		return true
	}
	if target == StateError {
		return !from.Terminal()
	}
	return next[from] == target
}
