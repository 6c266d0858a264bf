package server

import (
	"testing"
	"time"

	"github.com/sipcore/engine/pkg/sip/transaction"
)

func TestNonInviteTransactionCreation(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("REGISTER")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: false, // server
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-1", key, req, transport, timers)

	if nist.ID() != "nist-1" {
		t.Errorf("ID = %s, want nist-1", nist.ID())
	}
	if nist.State() != transaction.TransactionTrying {
		t.Errorf("State = %s, want Trying", nist.State())
	}
}

func TestNonInviteTransaction1xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("OPTIONS")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-2", key, req, transport, timers)

	var stateChanged bool
	nist.OnStateChange(func(tx transaction.Transaction, old, new transaction.TransactionState) {
		if old == transaction.TransactionTrying && new == transaction.TransactionProceeding {
			stateChanged = true
		}
	})

	resp100 := createTestResponse(100, "1 OPTIONS")
	if err := nist.SendResponse(resp100); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}
	if nist.State() != transaction.TransactionProceeding {
		t.Errorf("State = %s, want Proceeding", nist.State())
	}
	if !stateChanged {
		t.Error("state-change handler was not called")
	}

	resp180 := createTestResponse(180, "1 OPTIONS")
	if err := nist.SendResponse(resp180); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}
	if nist.State() != transaction.TransactionProceeding {
		t.Errorf("State = %s, want Proceeding", nist.State())
	}
}

func TestNonInviteTransaction2xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("REGISTER")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "REGISTER",
		Direction: false,
	}

	timers := transaction.DefaultTimers()
	timers.TimerJ = 100 * time.Millisecond

	nist := NewNonInviteTransaction("nist-3", key, req, transport, timers)

	resp200 := createTestResponse(200, "1 REGISTER")
	if err := nist.SendResponse(resp200); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}

	if nist.State() != transaction.TransactionCompleted {
		t.Errorf("State = %s, want Completed", nist.State())
	}

	time.Sleep(150 * time.Millisecond)

	if nist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated after Timer J", nist.State())
	}
}

func TestNonInviteTransactionDirectToCompleted(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("MESSAGE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "MESSAGE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-4", key, req, transport, timers)

	// Final response straight away, with no 1xx in between.
	resp404 := createTestResponse(404, "1 MESSAGE")
	if err := nist.SendResponse(resp404); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if nist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated over a reliable transport", nist.State())
	}
}

func TestNonInviteTransactionRetransmittedRequest(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("SUBSCRIBE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "SUBSCRIBE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-5", key, req, transport, timers)

	resp200 := createTestResponse(200, "1 SUBSCRIBE")
	nist.SendResponse(resp200)

	transport.sentMessages = nil

	if err := nist.HandleRequest(req); err != nil {
		t.Errorf("HandleRequest returned error: %v", err)
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sentMessages))
	}
	if transport.sentMessages[0].msg.StatusCode() != 200 {
		t.Error("expected the 200 response to be retransmitted")
	}
}

func TestNonInviteTransactionWrongMethod(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("OPTIONS")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "OPTIONS",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-6", key, req, transport, timers)

	wrongReq := createTestRequest("REGISTER")
	if err := nist.HandleRequest(wrongReq); err == nil {
		t.Error("HandleRequest should error on a method mismatch")
	}
}

func TestNonInviteTransactionMultipleResponses(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("NOTIFY")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "NOTIFY",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	nist := NewNonInviteTransaction("nist-7", key, req, transport, timers)

	resp200 := createTestResponse(200, "1 NOTIFY")
	if err := nist.SendResponse(resp200); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}
	if nist.State() != transaction.TransactionCompleted {
		t.Errorf("State = %s, want Completed", nist.State())
	}

	resp404 := createTestResponse(404, "1 NOTIFY")
	if err := nist.SendResponse(resp404); err == nil {
		t.Error("SendResponse should error on a different response while Completed")
	}

	if err := nist.SendResponse(resp200); err != nil {
		t.Errorf("retransmitting the same response should not error: %v", err)
	}
}

func TestNonInviteTransactionReliableVsUnreliable(t *testing.T) {
	reliableTransport := &mockTransport{reliable: true}
	req1 := createTestRequest("OPTIONS")
	key1 := transaction.TransactionKey{
		Branch:    "z9hG4bK11111",
		Method:    "OPTIONS",
		Direction: false,
	}
	timers1 := transaction.DefaultTimers()

	nist1 := NewNonInviteTransaction("nist-rel", key1, req1, reliableTransport, timers1)

	resp1 := createTestResponse(200, "1 OPTIONS")
	nist1.SendResponse(resp1)

	time.Sleep(10 * time.Millisecond)
	if nist1.State() != transaction.TransactionTerminated {
		t.Errorf("reliable transport: State = %s, want Terminated", nist1.State())
	}

	unreliableTransport := &mockTransport{reliable: false}
	req2 := createTestRequest("OPTIONS")
	key2 := transaction.TransactionKey{
		Branch:    "z9hG4bK22222",
		Method:    "OPTIONS",
		Direction: false,
	}

	timers2 := transaction.DefaultTimers()
	timers2.TimerJ = 100 * time.Millisecond

	nist2 := NewNonInviteTransaction("nist-unrel", key2, req2, unreliableTransport, timers2)

	resp2 := createTestResponse(200, "1 OPTIONS")
	nist2.SendResponse(resp2)

	if nist2.State() != transaction.TransactionCompleted {
		t.Errorf("unreliable transport: State = %s, want Completed", nist2.State())
	}

	time.Sleep(150 * time.Millisecond)

	if nist2.State() != transaction.TransactionTerminated {
		t.Errorf("after Timer J: State = %s, want Terminated", nist2.State())
	}
}
