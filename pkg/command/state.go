package command

// State is a position in the invocation lifecycle.
type State string

// Lifecycle states. Succeeded and Failed are terminal.
const (
	StateInitialized State = "initialized"
	StateValidating  State = "validating"
	StateValidated   State = "validated"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateExecuting   State = "executing"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Phase names a lifecycle stage that carries before and after hooks.
type Phase string

// Lifecycle phases in execution order.
const (
	PhaseValidate Phase = "validate"
	PhaseLoad     Phase = "load"
	PhaseExecute  Phase = "execute"
)

var transitions = map[State][]State{
	StateInitialized: {StateValidating, StateFailed},
	StateValidating:  {StateValidated, StateFailed},
	StateValidated:   {StateLoading, StateFailed},
	StateLoading:     {StateLoaded, StateFailed},
	StateLoaded:      {StateExecuting, StateFailed},
	StateExecuting:   {StateSucceeded, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
