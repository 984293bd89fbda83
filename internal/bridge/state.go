// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bridge

// State is the lifecycle state of a Controller.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateInactive
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name. Unknown names decode as
// StateUninitialized.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	*s = StateUninitialized
	return nil
}

// Running reports whether the controller still accepts control calls.
func (s State) Running() bool {
	return s == StateActive || s == StateInactive
}
