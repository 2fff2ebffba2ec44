// Package pipeline runs one error analysis from query to recorded answer.
package pipeline

import "log/slog"

// State is a step of the analysis state machine.
type State string

const (
	StateReceived  State = "received"
	StateRetrieved State = "retrieved"
	StateFused     State = "fused"
	StateReranked  State = "reranked"
	StateGenerated State = "generated"
	StateEvaluated State = "evaluated"
	StatePersisted State = "persisted"
	StateReturned  State = "returned"

	// StateDegraded marks a continued run after a component fell back.
	StateDegraded State = "degraded"
	// StateFailed is terminal for the request.
	StateFailed State = "failed"
)

// next lists the legal forward moves. Failed is reachable from any
// non-terminal state and is checked separately.
var next = map[State][]State{
	StateReceived:  {StateRetrieved},
	StateRetrieved: {StateFused, StateDegraded},
	StateDegraded:  {StateFused, StateGenerated},
	StateFused:     {StateReranked},
	StateReranked:  {StateGenerated, StateDegraded},
	StateGenerated: {StateEvaluated},
	StateEvaluated: {StatePersisted, StateReturned},
	StatePersisted: {StateReturned},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateReturned || s == StateFailed
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Trace records the states one request passed through.
type Trace struct {
	states   []State
	observer func(State)
}

func newTrace(observer func(State)) *Trace {
	t := &Trace{observer: observer}
	t.states = []State{StateReceived}
	if observer != nil {
		observer(StateReceived)
	}
	return t
}

// Current returns the latest state.
func (t *Trace) Current() State { return t.states[len(t.states)-1] }

// States returns a copy of the path taken.
func (t *Trace) States() []State { return append([]State(nil), t.states...) }

func (t *Trace) move(to State) {
	from := t.Current()
	if !CanTransition(from, to) {
		slog.Error("pipeline_illegal_transition", slog.String("from", string(from)), slog.String("to", string(to)))
	}
	t.states = append(t.states, to)
	if t.observer != nil {
		t.observer(to)
	}
}
