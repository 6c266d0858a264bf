package client

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
		{"Calling -> Proceeding", transaction.TransactionCalling, transaction.TransactionProceeding, true},
		{"Calling -> Completed", transaction.TransactionCalling, transaction.TransactionCompleted, true},
		{"Calling -> Terminated", transaction.TransactionCalling, transaction.TransactionTerminated, true},
		{"Calling -> Trying (invalid)", transaction.TransactionCalling, transaction.TransactionTrying, false},

		{"Proceeding -> Completed", transaction.TransactionProceeding, transaction.TransactionCompleted, true},
		{"Proceeding -> Terminated", transaction.TransactionProceeding, transaction.TransactionTerminated, true},
		{"Proceeding -> Calling (invalid)", transaction.TransactionProceeding, transaction.TransactionCalling, false},

		{"Completed -> Terminated", transaction.TransactionCompleted, transaction.TransactionTerminated, true},
		{"Completed -> Proceeding (invalid)", transaction.TransactionCompleted, transaction.TransactionProceeding, false},

		{"Terminated -> Any (invalid)", transaction.TransactionTerminated, transaction.TransactionCalling, false},
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
		{"Trying -> Terminated", transaction.TransactionTrying, transaction.TransactionTerminated, true},
		{"Trying -> Calling (invalid)", transaction.TransactionTrying, transaction.TransactionCalling, false},

		{"Proceeding -> Completed", transaction.TransactionProceeding, transaction.TransactionCompleted, true},
		{"Proceeding -> Terminated", transaction.TransactionProceeding, transaction.TransactionTerminated, true},
		{"Proceeding -> Trying (invalid)", transaction.TransactionProceeding, transaction.TransactionTrying, false},

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
		timers := GetTimersForState(transaction.TransactionCalling, true, false)
		if len(timers) != 2 || timers[0] != transaction.TimerA || timers[1] != transaction.TimerB {
			t.Errorf("Calling unreliable: want [A B], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCalling, true, true)
		if len(timers) != 1 || timers[0] != transaction.TimerB {
			t.Errorf("Calling reliable: want [B], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionProceeding, true, false)
		if len(timers) != 1 || timers[0] != transaction.TimerB {
			t.Errorf("Proceeding: want [B], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, true, false)
		if len(timers) != 1 || timers[0] != transaction.TimerD {
			t.Errorf("Completed unreliable: want [D], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, true, true)
		if len(timers) != 0 {
			t.Errorf("Completed reliable: want none, got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionTerminated, true, false)
		if len(timers) != 0 {
			t.Errorf("Terminated: want none, got %v", timers)
		}
	})

	t.Run("non-INVITE timers", func(t *testing.T) {
		timers := GetTimersForState(transaction.TransactionTrying, false, false)
		if len(timers) != 2 || timers[0] != transaction.TimerE || timers[1] != transaction.TimerF {
			t.Errorf("Trying unreliable: want [E F], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionTrying, false, true)
		if len(timers) != 1 || timers[0] != transaction.TimerF {
			t.Errorf("Trying reliable: want [F], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionProceeding, false, false)
		if len(timers) != 2 {
			t.Errorf("Proceeding unreliable: want [E F], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, false, false)
		if len(timers) != 1 || timers[0] != transaction.TimerK {
			t.Errorf("Completed unreliable: want [K], got %v", timers)
		}

		timers = GetTimersForState(transaction.TransactionCompleted, false, true)
		if len(timers) != 0 {
			t.Errorf("Completed reliable: want none, got %v", timers)
		}
	})
}
