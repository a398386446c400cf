package guard

// State is a step in a request's lifecycle.
type State string

const (
	StateReceived       State = "received"
	StateAccessChecked  State = "access_checked"
	StateInputScanned   State = "input_scanned"
	StateSanitized      State = "sanitized"
	StateDispatched     State = "dispatched_externally"
	StateOutputScanned  State = "output_scanned"
	StateCompleted      State = "completed"
	StateRejectedAccess State = "rejected_by_access"
	StateRejectedInput  State = "rejected_by_input_threat"
	StateRejectedOutput State = "rejected_by_output_threat"
	StateRejectedError  State = "rejected_by_error"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejectedAccess, StateRejectedInput, StateRejectedOutput, StateRejectedError:
		return true
	}
	return false
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateReceived:       {StateAccessChecked, StateRejectedAccess},
	StateAccessChecked:  {StateInputScanned},
	StateInputScanned:   {StateSanitized, StateDispatched, StateRejectedInput},
	StateSanitized:      {StateDispatched, StateCompleted},
	StateDispatched:     {StateOutputScanned},
	StateOutputScanned:  {StateSanitized, StateCompleted, StateRejectedOutput},
	StateCompleted:      nil,
	StateRejectedAccess: nil,
	StateRejectedInput:  nil,
	StateRejectedOutput: nil,
	StateRejectedError:  nil,
}

// flow records the states one check passes through. An illegal move
// lands in rejected_by_error.
type flow struct {
	trace []State
}

func newFlow(start State) *flow {
	return &flow{trace: []State{start}}
}

func (f *flow) current() State { return f.trace[len(f.trace)-1] }

func (f *flow) to(next State) State {
	cur := f.current()
	if next == StateRejectedError && !cur.Terminal() {
		f.trace = append(f.trace, next)
		return next
	}
	for _, s := range transitions[cur] {
		if s == next {
			f.trace = append(f.trace, next)
			return next
		}
	}
	if !cur.Terminal() {
		f.trace = append(f.trace, StateRejectedError)
	}
	return f.current()
}
