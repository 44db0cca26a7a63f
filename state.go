package labmodular

import "fmt"

// State is the lifecycle state of a module instance.
type State int

const (
	// StateUnloaded is the state before registration and after unload.
	StateUnloaded State = iota
	// StateDeactivated means registered and idle.
	StateDeactivated
	// StateActivated means the activation hook succeeded.
	StateActivated
	// StateBroken means a transition hook failed; only unload leaves it.
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateDeactivated:
		return "deactivated"
	case StateActivated:
		return "activated"
	case StateBroken:
		return "broken"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets states appear by name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for _, s := range []State{StateUnloaded, StateDeactivated, StateActivated, StateBroken} {
		if s.String() == name {
			return s, nil
		}
	}
	return StateUnloaded, fmt.Errorf("unknown module state %q", name)
}

// transitions lists every legal (from, to) pair. Any hook failure moves to
// StateBroken, which is why every non-terminal state lists it.
var transitions = map[State][]State{
	StateUnloaded:    {StateDeactivated},
	StateDeactivated: {StateActivated, StateUnloaded, StateBroken},
	StateActivated:   {StateDeactivated, StateBroken},
	StateBroken:      {StateUnloaded},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
