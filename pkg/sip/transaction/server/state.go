package server

import "github.com/sipcore/engine/pkg/sip/transaction"

// ValidateStateTransition reports whether the IST (isInvite) or NIST graph
// allows a direct from->to move, read straight from
// transaction.ISTGraph()/NISTGraph() rather than a parallel hand-written
// table.
func ValidateStateTransition(from, to transaction.TransactionState, isInvite bool) bool {
	if isInvite {
		return transaction.ISTGraph().CanTransition(from, to)
	}
	return transaction.NISTGraph().CanTransition(from, to)
}

// GetTimersForState reports which timers RFC 3261 §17.2 keeps armed while a
// server transaction sits in state.
func GetTimersForState(state transaction.TransactionState, isInvite bool, reliable bool) []transaction.TimerID {
	return transaction.ServerActiveTimers(state, isInvite, reliable)
}

// GetInitialState reports the state a server transaction starts in: IST
// begins in Proceeding (RFC 3261 Figure 7 — the TU's first provisional is
// implicit), NIST begins in Trying (Figure 8).
func GetInitialState(isInvite bool) transaction.TransactionState {
	if isInvite {
		return transaction.TransactionProceeding
	}
	return transaction.TransactionTrying
}
