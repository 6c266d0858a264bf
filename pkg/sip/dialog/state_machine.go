package dialog

import (
	"fmt"
	"sync"
)

// DialogStateMachine tracks a dialog's RFC 3261 lifecycle on top of a
// looplab/fsm graph (see fsm.go): Init, Trying (INVITE sent/received),
// Ringing (180/183 seen), Established (2xx + ACK), Terminating (BYE
// sent/received) and Terminated.
//
// currentState is kept as a plain field, not solely derived from the raw
// fsm.FSM, because callers are allowed to seed it directly for test
// scenarios; every method that drives a transition resyncs the underlying
// machine to currentState first via StateMachine.SetState.
type DialogStateMachine struct {
	mu             sync.RWMutex
	currentState   DialogState
	isUAC          bool
	callbacks      []func(DialogState)
	allowedMethods map[DialogState][]string
	machine        *StateMachine
}

// NewDialogStateMachine creates a new dialog state machine in DialogStateInit.
func NewDialogStateMachine(isUAC bool) *DialogStateMachine {
	dsm := &DialogStateMachine{
		currentState: DialogStateInit,
		isUAC:        isUAC,
		callbacks:    make([]func(DialogState), 0),
		machine:      NewStateMachine(DialogStateInit, DialogGraph(), nil),
	}

	dsm.allowedMethods = map[DialogState][]string{
		DialogStateInit:        {"INVITE"},
		DialogStateTrying:      {"CANCEL", "PRACK", "UPDATE"},
		DialogStateRinging:     {"CANCEL", "PRACK", "UPDATE"},
		DialogStateEstablished: {"BYE", "INVITE", "UPDATE", "INFO", "REFER", "NOTIFY", "MESSAGE", "OPTIONS"},
		DialogStateTerminating: {},
		DialogStateTerminated:  {},
	}

	return dsm
}

// GetState returns the current state.
func (dsm *DialogStateMachine) GetState() DialogState {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState
}

// OnStateChange registers a callback fired on every accepted transition.
func (dsm *DialogStateMachine) OnStateChange(callback func(DialogState)) {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()
	dsm.callbacks = append(dsm.callbacks, callback)
}

// TransitionTo moves to newState if the graph in fsm.go has an edge for it.
func (dsm *DialogStateMachine) TransitionTo(newState DialogState) error {
	dsm.mu.Lock()
	oldState := dsm.currentState

	dsm.machine.SetState(oldState)
	ok, err := dsm.machine.Fire(newState)
	if err != nil {
		dsm.mu.Unlock()
		return fmt.Errorf("transition from %s to %s: %w", oldState, newState, err)
	}
	if !ok {
		dsm.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidState, oldState, newState)
	}

	dsm.currentState = newState
	callbacks := append([]func(DialogState){}, dsm.callbacks...)
	dsm.mu.Unlock()

	for _, cb := range callbacks {
		cb(newState)
	}

	return nil
}

// apply fires the transition to target via the graph and, if accepted,
// updates currentState and runs callbacks outside the lock. Returns
// whether the graph accepted the move.
func (dsm *DialogStateMachine) apply(target DialogState) (bool, error) {
	dsm.machine.SetState(dsm.currentState)
	ok, err := dsm.machine.Fire(target)
	if err != nil || !ok {
		return false, err
	}

	dsm.currentState = target
	callbacks := append([]func(DialogState){}, dsm.callbacks...)
	dsm.mu.Unlock()

	for _, cb := range callbacks {
		cb(target)
	}

	dsm.mu.Lock()
	return true, nil
}

// ProcessRequest applies the state change (if any) an incoming or outgoing
// request causes, per RFC 3261 §12-15.
func (dsm *DialogStateMachine) ProcessRequest(method string, statusCode int) error {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	switch dsm.currentState {
	case DialogStateInit:
		if method == "INVITE" {
			if applied, err := dsm.apply(DialogStateTrying); applied || err != nil {
				return err
			}
		}

	case DialogStateTrying, DialogStateRinging:
		if method == "CANCEL" {
			if applied, err := dsm.apply(DialogStateTerminated); applied || err != nil {
				return err
			}
		}

	case DialogStateEstablished:
		if method == "BYE" {
			if applied, err := dsm.apply(DialogStateTerminating); applied || err != nil {
				return err
			}
		}
	}

	if !dsm.isMethodAllowed(dsm.currentState, method) {
		if dsm.currentState == DialogStateTerminated {
			return fmt.Errorf("%w: method %s rejected", ErrTerminated, method)
		}
		return fmt.Errorf("%w: method %s not allowed in state %s", ErrInvalidState, method, dsm.currentState)
	}

	return nil
}

// ProcessResponse applies the state change (if any) a response causes.
func (dsm *DialogStateMachine) ProcessResponse(method string, statusCode int) error {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	switch dsm.currentState {
	case DialogStateTrying:
		if method != "INVITE" {
			return nil
		}
		switch {
		case statusCode == 180 || statusCode == 183:
			_, err := dsm.apply(DialogStateRinging)
			return err
		case statusCode >= 200 && statusCode < 300:
			_, err := dsm.apply(DialogStateEstablished)
			return err
		case statusCode >= 300:
			_, err := dsm.apply(DialogStateTerminated)
			return err
		}

	case DialogStateRinging:
		if method == "INVITE" && statusCode >= 200 && statusCode < 300 {
			_, err := dsm.apply(DialogStateEstablished)
			return err
		}

	case DialogStateTerminating:
		if method == "BYE" && statusCode >= 200 && statusCode < 300 {
			_, err := dsm.apply(DialogStateTerminated)
			return err
		}
	}

	return nil
}

// IsEstablished reports whether the dialog has reached Established.
func (dsm *DialogStateMachine) IsEstablished() bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState == DialogStateEstablished
}

// IsTerminated reports whether the dialog has reached Terminated.
func (dsm *DialogStateMachine) IsTerminated() bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()
	return dsm.currentState == DialogStateTerminated
}

// CanSendRequest reports whether method may be sent in the current state.
func (dsm *DialogStateMachine) CanSendRequest(method string) bool {
	dsm.mu.RLock()
	defer dsm.mu.RUnlock()

	if method == "CANCEL" {
		return dsm.currentState == DialogStateTrying || dsm.currentState == DialogStateRinging
	}

	if method == "ACK" {
		return true
	}

	return dsm.isMethodAllowed(dsm.currentState, method)
}

// isMethodAllowed reports whether method may appear while in state.
func (dsm *DialogStateMachine) isMethodAllowed(state DialogState, method string) bool {
	allowed, ok := dsm.allowedMethods[state]
	if !ok {
		return false
	}

	for _, m := range allowed {
		if m == method {
			return true
		}
	}

	if method == "ACK" {
		return true
	}

	return false
}

// Reset returns the machine to DialogStateInit, keeping registered callbacks.
func (dsm *DialogStateMachine) Reset() {
	dsm.mu.Lock()
	defer dsm.mu.Unlock()

	dsm.currentState = DialogStateInit
	dsm.machine.SetState(DialogStateInit)
}
