package dialog

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Event names for the dialog's RFC 3261 state graph. Each is named for its
// destination state since every edge landing on that state shares the same
// event regardless of which state it started from.
const (
	EventToTrying      = "to_trying"
	EventToRinging     = "to_ringing"
	EventToEstablished = "to_established"
	EventToTerminating = "to_terminating"
	EventToTerminated  = "to_terminated"
)

// Graph is the dialog's state graph expressed as a looplab/fsm event table.
type Graph struct {
	events fsm.Events
}

// DialogGraph builds the dialog state graph: Init only ever moves to
// Trying; Trying and Ringing both exit on acceptance or failure/CANCEL;
// Established only leaves via a local or remote BYE; Terminating is a
// one-way street to Terminated; Terminated has no outgoing edges.
func DialogGraph() Graph {
	init := DialogStateInit.String()
	trying := DialogStateTrying.String()
	ringing := DialogStateRinging.String()
	established := DialogStateEstablished.String()
	terminating := DialogStateTerminating.String()
	terminated := DialogStateTerminated.String()

	return Graph{events: fsm.Events{
		{Name: EventToTrying, Src: []string{init}, Dst: trying},
		{Name: EventToRinging, Src: []string{trying}, Dst: ringing},
		{Name: EventToEstablished, Src: []string{trying, ringing}, Dst: established},
		{Name: EventToTerminating, Src: []string{established}, Dst: terminating},
		{Name: EventToTerminated, Src: []string{trying, ringing, terminating}, Dst: terminated},
	}}
}

// CanTransition reports whether the graph has an edge taking from directly
// to to.
func (g Graph) CanTransition(from, to DialogState) bool {
	if from == to {
		return false
	}
	fromStr, toStr := from.String(), to.String()
	for _, ev := range g.events {
		if ev.Dst != toStr {
			continue
		}
		for _, src := range ev.Src {
			if src == fromStr {
				return true
			}
		}
	}
	return false
}

// eventFor returns the event name that lands on to, and whether the graph
// defines one at all (every to except Init has exactly one).
func eventFor(to DialogState) (string, bool) {
	switch to {
	case DialogStateTrying:
		return EventToTrying, true
	case DialogStateRinging:
		return EventToRinging, true
	case DialogStateEstablished:
		return EventToEstablished, true
	case DialogStateTerminating:
		return EventToTerminating, true
	case DialogStateTerminated:
		return EventToTerminated, true
	default:
		return "", false
	}
}

// EnterStateFunc runs once per accepted transition, after the underlying
// fsm.FSM has already committed to the new state.
type EnterStateFunc func(from, to DialogState)

// StateMachine binds a Graph to a concrete looplab/fsm instance and
// serializes access, since fsm.FSM isn't safe for concurrent use and a
// dialog's state is read and mutated from whichever goroutine delivered the
// latest request or response.
//
// DialogStateMachine additionally lets callers poke currentState directly
// (tests do, to seed a scenario mid-flight), so SetState resyncs the raw
// fsm.FSM to an externally-set state without running callbacks.
type StateMachine struct {
	mu    sync.Mutex
	raw   *fsm.FSM
	graph Graph
}

// NewStateMachine builds a StateMachine starting at initial, driven by
// graph, calling onEnter (if non-nil) whenever a Fire lands on a new state.
func NewStateMachine(initial DialogState, graph Graph, onEnter EnterStateFunc) *StateMachine {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(stateFromString(e.Src), stateFromString(e.Dst))
		}
	}
	return &StateMachine{
		raw:   fsm.NewFSM(initial.String(), graph.events, callbacks),
		graph: graph,
	}
}

// SetState forces the underlying fsm.FSM to state without running any
// callbacks. Used to resync after a caller has written to currentState
// directly, or after Reset.
func (sm *StateMachine) SetState(state DialogState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.raw.SetState(state.String())
}

// Fire drives the transition landing on to. ok is false (with a nil error)
// when the graph has no edge from the current state to to — the caller's
// "this isn't a legal move" path, not a bug. A non-nil error means a
// callback failed.
func (sm *StateMachine) Fire(to DialogState) (ok bool, err error) {
	event, known := eventFor(to)
	if !known {
		return false, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	err = sm.raw.Event(context.Background(), event)
	if err == nil {
		return true, nil
	}
	switch err.(type) {
	case fsm.InvalidEventError, fsm.NoTransitionError, fsm.UnknownEventError:
		return false, nil
	default:
		return false, err
	}
}

// Current reports the machine's present DialogState.
func (sm *StateMachine) Current() DialogState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return stateFromString(sm.raw.Current())
}

func stateFromString(s string) DialogState {
	for _, st := range []DialogState{
		DialogStateInit, DialogStateTrying, DialogStateRinging,
		DialogStateEstablished, DialogStateTerminating, DialogStateTerminated,
	} {
		if st.String() == s {
			return st
		}
	}
	return DialogStateTerminated
}
