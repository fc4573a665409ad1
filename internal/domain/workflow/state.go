package workflow

// State is the overall status of an approval instance as seen by the state machine.
// A pending instance is always positioned on one step; the step position lives
// outside the machine and is consulted by guards.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateCancelled State = "cancelled"
)

var validStates = map[State]bool{
	StatePending:   true,
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s State) IsTerminal() bool {
	return s != StatePending && validStates[s]
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known instance state
func (s State) IsValid() bool {
	return validStates[s]
}
