package jobx

// State is the lifecycle position of a JobRecord.
type State string

const (
	StateCreated    State = "CREATED"
	StateProcessing State = "PROCESSING"
	StateCancelling State = "CANCELLING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
)

// States lists every state in lifecycle order.
var States = []State{StateCreated, StateProcessing, StateCancelling, StateComplete, StateFailed, StateCancelled}

func (s State) String() string { return string(s) }

// Rank orders states along the lifecycle. Terminal states share the top rank.
func (s State) Rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateProcessing:
		return 1
	case StateCancelling:
		return 2
	case StateComplete, StateFailed, StateCancelled:
		return 3
	}
	return -1
}

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s.Rank() >= 0 }

// IsTerminal reports whether no further transitions are allowed from s.
func (s State) IsTerminal() bool { return s.Rank() == 3 }

// IsPending reports whether the job has not reached a terminal state.
func (s State) IsPending() bool { return s.Valid() && !s.IsTerminal() }

// CanTransitionTo reports whether moving from s to next keeps the record
// monotonic: never out of a terminal state, never backwards.
func (s State) CanTransitionTo(next State) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.Rank() > s.Rank()
}
