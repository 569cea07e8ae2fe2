package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the state reported for a supervised item.
// Values are ordered by severity so the peak state of an event can be
// tracked with a simple comparison.
type State int

const (
	StateOK State = iota
	StateUp
	StateUnknown
	StateWarning
	StateUnreachable
	StateCritical
	StateDown
)

var stateNames = map[State]string{
	StateOK:          "OK",
	StateUp:          "UP",
	StateUnknown:     "UNKNOWN",
	StateWarning:     "WARNING",
	StateUnreachable: "UNREACHABLE",
	StateCritical:    "CRITICAL",
	StateDown:        "DOWN",
}

// ParseState converts a state name (case-insensitive) into a State.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for state, n := range stateNames {
		if n == upper {
			return state, nil
		}
	}
	return StateUnknown, fmt.Errorf("%w: %q", ErrInvalidState, name)
}

// String returns the canonical state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsValid returns true if the state is one of the known values.
func (s State) IsValid() bool {
	_, ok := stateNames[s]
	return ok
}

// IsResolved returns true for the states that end an outage (OK and UP).
func (s State) IsResolved() bool {
	return s == StateOK || s == StateUp
}

// MoreSevere returns the most severe of the two states.
func (s State) MoreSevere(other State) State {
	if other > s {
		return other
	}
	return s
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
