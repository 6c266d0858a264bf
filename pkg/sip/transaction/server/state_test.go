package server

import (
	"testing"

	"github.com/sipcore/engine/pkg/sip/transaction"
)

func TestValidateInviteStateTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     transaction.TransactionState
		to       transaction.TransactionState
		expected bool
	}{
		{"Proceeding -> Completed", transaction.TransactionProceeding, transaction.TransactionCompleted, true},
		{"Proceeding -> Terminated", transaction.TransactionProceeding, transaction.TransactionTerminated, true},
		{"Proceeding -> Trying (invalid)", transaction.TransactionProceeding, transaction.TransactionTrying, false},
		{"Proceeding -> Confirmed (invalid)", transaction.TransactionProceeding, transaction.TransactionConfirmed, false},

		{"Completed -> Confirmed", transaction.TransactionCompleted, transaction.TransactionConfirmed, true},
		{"Completed -> Terminated", transaction.TransactionCompleted, transaction.TransactionTerminated, true},
		{"Completed -> Proceeding (invalid)", transaction.TransactionCompleted, transaction.TransactionProceeding, false},

		{"Confirmed -> Terminated", transaction.TransactionConfirmed, transaction.TransactionTerminated, true},
		{"Confirmed -> Completed (invalid)", transaction.TransactionConfirmed, transaction.TransactionCompleted, false},

		{"Terminated -> Any (invalid)", transaction.TransactionTerminated, transaction.TransactionProceeding, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ValidateStateTransition(tt.from, tt.to, true); result != tt.expected {
				t.Errorf("ValidateStateTransition(%s, %s, true) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestValidateNonInviteStateTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     transaction.TransactionState
		to       transaction.TransactionState
		expected bool
	}{
		{"Trying -> Proceeding", transaction.TransactionTrying, transaction.TransactionProceeding, true},
		{"Trying -> Completed", transaction.TransactionTrying, transaction.TransactionCompleted, true},
		{"Trying -> Terminated (invalid)", transaction.TransactionTrying, transaction.TransactionTerminated, false},

		{"Proceeding -> Completed", transaction.TransactionProceeding, transaction.TransactionCompleted, true},
		{"Proceeding -> Trying (invalid)", transaction.TransactionProceeding, transaction.TransactionTrying, false},
		{"Proceeding -> Terminated (invalid)", transaction.TransactionProceeding, transaction.TransactionTerminated, false},

		{"Completed -> Terminated", transaction.TransactionCompleted, transaction.TransactionTerminated, true},
		{"Completed -> Trying (invalid)", transaction.TransactionCompleted, transaction.TransactionTrying, false},

		{"Terminated -> Any (invalid)", transaction.TransactionTerminated, transaction.TransactionTrying, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ValidateStateTransition(tt.from, tt.to, false); result != tt.expected {
				t.Errorf("ValidateStateTransition(%s, %s, false) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestGetTimersForState(t *testing.T) {
	t.Run("INVITE timers", func(t *testing.T) {
		timers := GetTimersForState(transaction.TransactionProceeding, true, false)
		if len(timers) != 0 {
			t.Errorf("Proceeding: want no timers, got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, true, false)
		if len(timers) != 2 || timers[0] != transaction.TimerG || timers[1] != transaction.TimerH {
			t.Errorf("Completed unreliable: want [G H], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, true, true)
		if len(timers) != 1 || timers[0] != transaction.TimerH {
			t.Errorf("Completed reliable: want [H], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionConfirmed, true, false)
		if len(timers) != 1 || timers[0] != transaction.TimerI {
			t.Errorf("Confirmed unreliable: want [I], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionConfirmed, true, true)
		if len(timers) != 0 {
			t.Errorf("Confirmed reliable: want none, got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionTerminated, true, false)
		if len(timers) != 0 {
			t.Errorf("Terminated: want none, got %v", timers)
		}
	})

	t.Run("non-INVITE timers", func(t *testing.T) {
		timers := GetTimersForState(transaction.TransactionTrying, false, false)
		if len(timers) != 0 {
			t.Errorf("Trying: want none, got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionProceeding, false, false)
		if len(timers) != 0 {
			t.Errorf("Proceeding: want none, got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, false, false)
		if len(timers) != 1 || timers[0] != transaction.TimerJ {
			t.Errorf("Completed unreliable: want [J], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, false, true)
		if len(timers) != 0 {
			t.Errorf("Completed reliable: want none, got %v", timers)
		}
	})
}

func TestGetInitialState(t *testing.T) {
	if state := GetInitialState(true); state != transaction.TransactionProceeding {
		t.Errorf("INVITE initial state = %s, want Proceeding", state)
	}
	if state := GetInitialState(false); state != transaction.TransactionTrying {
		t.Errorf("non-INVITE initial state = %s, want Trying", state)
	}
}
