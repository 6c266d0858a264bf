package client

import "github.com/sipcore/engine/pkg/sip/transaction"

// ValidateStateTransition reports whether the ICT (isInvite) or NICT graph
// allows a direct from->to move. It reads transaction.ICTGraph()/NICTGraph()
// rather than re-deriving the legal moves by hand, so it can never drift
// from the tables invite.go/non_invite.go actually fire against.
func ValidateStateTransition(from, to transaction.TransactionState, isInvite bool) bool {
	if isInvite {
		return transaction.ICTGraph().CanTransition(from, to)
	}
	return transaction.NICTGraph().CanTransition(from, to)
}

// GetTimersForState reports which timers RFC 3261 §17.1 keeps armed while a
// client transaction sits in state.
func GetTimersForState(state transaction.TransactionState, isInvite bool, reliable bool) []transaction.TimerID {
	return transaction.ActiveTimers(state, isInvite, reliable)
}
