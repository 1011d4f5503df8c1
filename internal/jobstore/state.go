package jobstore

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a job, encoded by its directory.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// AllStates lists the states in lifecycle order.
func AllStates() []State {
	return []State{StatePending, StateProcessing, StateDone, StateFailed}
}

// Dir returns the directory name for the state, relative to the vault.
func (s State) Dir() string {
	switch s {
	case StatePending:
		return "Jobs"
	case StateProcessing:
		return "Processing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return ""
	}
}

// Terminal reports whether no further transition leaves this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ParseState accepts either a state name or its directory name, case
// insensitively.
func ParseState(v string) (State, error) {
	needle := strings.ToLower(strings.TrimSpace(v))
	for _, s := range AllStates() {
		if needle == string(s) || needle == strings.ToLower(s.Dir()) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", v)
}
