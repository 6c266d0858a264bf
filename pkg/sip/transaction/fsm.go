package transaction

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Event names shared across the four RFC 3261 §17 transaction graphs.
// A single vocabulary lets ICT/NICT/IST/NIST declare their graphs as data
// instead of four parallel hand-rolled switch statements.
const (
	EventProvisional = "provisional" // 1xx sent or received
	EventFinal2xx    = "final_2xx"   // 2xx: no Completed state on either side
	EventFinalOther  = "final_other" // 3xx-6xx: enters Completed
	EventFinal       = "final"       // non-INVITE: any final response, 2xx included
	EventAck         = "ack"         // IST only: ACK for a non-2xx final response
	EventTimeout     = "timeout"     // any completion/confirmation timer fires
	EventAbort       = "abort"       // transport/internal failure: terminate unconditionally
)

// Graph is one of the four transaction state graphs, expressed as a
// looplab/fsm event table rather than inline from/to comparisons.
type Graph struct {
	events fsm.Events
}

// ICTGraph is the INVITE client transaction (Figure 5): Calling and
// Proceeding both accept more 1xx and both exit on a final response;
// 2xx skips Completed entirely since the client transaction has no role
// in ACKing a 2xx (that ACK is a new, TU-generated request).
func ICTGraph() Graph {
	calling, proceeding := TransactionCalling.String(), TransactionProceeding.String()
	completed, terminated := TransactionCompleted.String(), TransactionTerminated.String()
	return Graph{events: fsm.Events{
		{Name: EventProvisional, Src: []string{calling, proceeding}, Dst: proceeding},
		{Name: EventFinal2xx, Src: []string{calling, proceeding}, Dst: terminated},
		{Name: EventFinalOther, Src: []string{calling, proceeding}, Dst: completed},
		{Name: EventTimeout, Src: []string{calling, proceeding, completed}, Dst: terminated},
		{Name: EventAbort, Src: []string{calling, proceeding, completed}, Dst: terminated},
	}}
}

// NICTGraph is the non-INVITE client transaction (Figure 6): identical
// shape to ICT except there is no 2xx/non-2xx split on the final response.
func NICTGraph() Graph {
	trying, proceeding := TransactionTrying.String(), TransactionProceeding.String()
	completed, terminated := TransactionCompleted.String(), TransactionTerminated.String()
	return Graph{events: fsm.Events{
		{Name: EventProvisional, Src: []string{trying, proceeding}, Dst: proceeding},
		{Name: EventFinal, Src: []string{trying, proceeding}, Dst: completed},
		{Name: EventTimeout, Src: []string{trying, proceeding, completed}, Dst: terminated},
		{Name: EventAbort, Src: []string{trying, proceeding, completed}, Dst: terminated},
	}}
}

// ISTGraph is the INVITE server transaction (Figure 7): the only graph
// with a Confirmed state, reached on ACK for a non-2xx final response.
func ISTGraph() Graph {
	proceeding := TransactionProceeding.String()
	completed, confirmed, terminated := TransactionCompleted.String(), TransactionConfirmed.String(), TransactionTerminated.String()
	return Graph{events: fsm.Events{
		{Name: EventProvisional, Src: []string{proceeding}, Dst: proceeding},
		{Name: EventFinal2xx, Src: []string{proceeding}, Dst: terminated},
		{Name: EventFinalOther, Src: []string{proceeding}, Dst: completed},
		{Name: EventAck, Src: []string{completed}, Dst: confirmed},
		{Name: EventAck, Src: []string{confirmed}, Dst: confirmed},
		{Name: EventTimeout, Src: []string{completed, confirmed}, Dst: terminated},
		{Name: EventAbort, Src: []string{proceeding, completed, confirmed}, Dst: terminated},
	}}
}

// NISTGraph is the non-INVITE server transaction (Figure 8): no Confirmed
// state, a final response (2xx included) always lands in Completed.
func NISTGraph() Graph {
	trying, proceeding := TransactionTrying.String(), TransactionProceeding.String()
	completed, terminated := TransactionCompleted.String(), TransactionTerminated.String()
	return Graph{events: fsm.Events{
		{Name: EventProvisional, Src: []string{trying}, Dst: proceeding},
		{Name: EventFinal, Src: []string{trying, proceeding}, Dst: completed},
		{Name: EventTimeout, Src: []string{completed}, Dst: terminated},
		{Name: EventAbort, Src: []string{trying, proceeding, completed}, Dst: terminated},
	}}
}

// CanTransition reports whether graph g has any protocol event (i.e. not the
// EventAbort escape hatch transport failures use to force a teardown from
// anywhere) taking from directly to to. Used by state.go's exported
// validators, which describe the RFC 3261 figures themselves, not the
// engine's internal failure handling.
func (g Graph) CanTransition(from, to TransactionState) bool {
	if from == to {
		return false
	}
	fromStr, toStr := from.String(), to.String()
	for _, ev := range g.events {
		if ev.Name == EventAbort || ev.Dst != toStr {
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

// ActiveTimers reports the timers RFC 3261 arms while the graph is sitting
// in state, given whether the transport is reliable. It is derived from the
// timer semantics in timers.go rather than duplicated per graph.
func ActiveTimers(state TransactionState, isInvite, reliable bool) []TimerID {
	switch state {
	case TransactionCalling:
		if reliable {
			return []TimerID{TimerB}
		}
		return []TimerID{TimerA, TimerB}
	case TransactionTrying:
		if reliable {
			return []TimerID{TimerF}
		}
		return []TimerID{TimerE, TimerF}
	case TransactionProceeding:
		if isInvite {
			return []TimerID{TimerB}
		}
		if reliable {
			return []TimerID{TimerF}
		}
		return []TimerID{TimerE, TimerF}
	case TransactionCompleted:
		if reliable {
			return nil
		}
		if isInvite {
			return []TimerID{TimerD}
		}
		return []TimerID{TimerK}
	default:
		return nil
	}
}

// ServerActiveTimers is ActiveTimers' server-side counterpart: a server
// transaction arms nothing in Proceeding/Trying (it isn't retransmitting a
// request, it's waiting for the TU to respond), and the Completed timers
// differ for IST (G retransmits the final response, H waits for ACK) versus
// NIST (J alone absorbs duplicate requests).
func ServerActiveTimers(state TransactionState, isInvite, reliable bool) []TimerID {
	switch state {
	case TransactionCompleted:
		if !isInvite {
			if reliable {
				return nil
			}
			return []TimerID{TimerJ}
		}
		if reliable {
			return []TimerID{TimerH}
		}
		return []TimerID{TimerG, TimerH}
	case TransactionConfirmed:
		if reliable {
			return nil
		}
		return []TimerID{TimerI}
	default:
		return nil
	}
}

// EnterStateFunc runs once per accepted transition, after the graph has
// already committed to the new state.
type EnterStateFunc func(from, to TransactionState)

// StateMachine binds a Graph to a concrete looplab/fsm instance and
// serializes Fire calls, since fsm.FSM itself assumes single-threaded
// access and transaction events arrive from both the timer goroutine and
// the transport's read goroutine.
type StateMachine struct {
	mu  sync.Mutex
	raw *fsm.FSM
}

// NewStateMachine builds a StateMachine starting at initial, driven by
// graph, calling onEnter (if non-nil) every time a Fire lands on a new
// state.
func NewStateMachine(initial TransactionState, graph Graph, onEnter EnterStateFunc) *StateMachine {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(stateFromString(e.Src), stateFromString(e.Dst))
		}
	}
	return &StateMachine{raw: fsm.NewFSM(initial.String(), graph.events, callbacks)}
}

// Fire drives event. ok is false (with a nil error) when the current
// state doesn't accept event at all — the caller's normal "ignore this,
// we're past that point" path, not a bug. A non-nil error means a
// callback failed.
func (sm *StateMachine) Fire(event string) (ok bool, err error) {
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

// Current reports the machine's present TransactionState.
func (sm *StateMachine) Current() TransactionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return stateFromString(sm.raw.Current())
}

// Can reports whether event is legal from the current state, without
// firing it.
func (sm *StateMachine) Can(event string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.raw.Can(event)
}

func stateFromString(s string) TransactionState {
	for _, st := range []TransactionState{
		TransactionCalling, TransactionProceeding, TransactionCompleted,
		TransactionTerminated, TransactionTrying, TransactionConfirmed,
	} {
		if st.String() == s {
			return st
		}
	}
	return TransactionTerminated
}
