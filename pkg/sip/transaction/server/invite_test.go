package server

import (
	"testing"
	"time"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

func TestInviteTransactionCreation(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false, // server
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-1", key, req, transport, timers)

	if ist.ID() != "ist-1" {
		t.Errorf("ID = %s, want ist-1", ist.ID())
	}
	if ist.State() != transaction.TransactionProceeding {
		t.Errorf("State = %s, want Proceeding", ist.State())
	}
}

func TestInviteTransaction1xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-2", key, req, transport, timers)

	var responsesSent int
	ist.OnResponse(func(tx transaction.Transaction, resp message.Message) {
		responsesSent++
	})

	resp100 := createTestResponse(100, "1 INVITE")
	if err := ist.SendResponse(resp100); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}
	if ist.State() != transaction.TransactionProceeding {
		t.Errorf("State = %s, want Proceeding", ist.State())
	}

	resp180 := createTestResponse(180, "1 INVITE")
	if err := ist.SendResponse(resp180); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}
	if ist.State() != transaction.TransactionProceeding {
		t.Errorf("State = %s, want Proceeding", ist.State())
	}

	if responsesSent != 2 {
		t.Errorf("responsesSent = %d, want 2", responsesSent)
	}
	if len(transport.sentMessages) != 2 {
		t.Errorf("sent %d messages, want 2", len(transport.sentMessages))
	}
}

func TestInviteTransaction2xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-3", key, req, transport, timers)

	resp200 := createTestResponse(200, "1 INVITE")
	if err := ist.SendResponse(resp200); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}

	// A 2xx response terminates the transaction directly.
	if ist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated", ist.State())
	}
}

func TestInviteTransaction4xxResponse(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}

	timers := transaction.DefaultTimers()
	timers.TimerG = 50 * time.Millisecond
	timers.TimerH = 200 * time.Millisecond
	timers.T2 = 100 * time.Millisecond

	ist := NewInviteTransaction("ist-4", key, req, transport, timers)

	resp486 := createTestResponse(486, "1 INVITE")
	if err := ist.SendResponse(resp486); err != nil {
		t.Errorf("SendResponse returned error: %v", err)
	}

	if ist.State() != transaction.TransactionCompleted {
		t.Errorf("State = %s, want Completed", ist.State())
	}
	if ist.finalResponse != resp486 {
		t.Error("final response was not stored")
	}

	// Wait for a Timer G retransmission.
	time.Sleep(150 * time.Millisecond)

	if len(transport.sentMessages) < 2 {
		t.Errorf("sent %d messages, want at least 2 (including a retransmission)",
			len(transport.sentMessages))
	}
}

func TestInviteTransactionACK(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}

	timers := transaction.DefaultTimers()
	timers.TimerI = 100 * time.Millisecond

	ist := NewInviteTransaction("ist-5", key, req, transport, timers)

	resp404 := createTestResponse(404, "1 INVITE")
	ist.SendResponse(resp404)

	if ist.State() != transaction.TransactionCompleted {
		t.Errorf("State = %s, want Completed", ist.State())
	}

	ack := createTestRequest("ACK")
	if err := ist.HandleACK(ack); err != nil {
		t.Errorf("HandleACK returned error: %v", err)
	}

	if ist.State() != transaction.TransactionConfirmed {
		t.Errorf("State = %s, want Confirmed", ist.State())
	}

	time.Sleep(150 * time.Millisecond)

	if ist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated after Timer I", ist.State())
	}
}

func TestInviteTransactionTimeoutACK(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}

	timers := transaction.DefaultTimers()
	timers.TimerH = 50 * time.Millisecond

	ist := NewInviteTransaction("ist-6", key, req, transport, timers)

	var timedOut bool
	var timerName string
	ist.OnTimeout(func(tx transaction.Transaction, timer string) {
		timedOut = true
		timerName = timer
	})

	resp500 := createTestResponse(500, "1 INVITE")
	ist.SendResponse(resp500)

	// No ACK arrives, so Timer H should fire.
	time.Sleep(100 * time.Millisecond)

	if !timedOut {
		t.Error("timeout handler was not called")
	}
	if timerName != "Timer H" {
		t.Errorf("timerName = %s, want Timer H", timerName)
	}
	if ist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated", ist.State())
	}
}

func TestInviteTransactionReliableTransport(t *testing.T) {
	transport := &mockTransport{reliable: true}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-7", key, req, transport, timers)

	resp403 := createTestResponse(403, "1 INVITE")
	ist.SendResponse(resp403)

	time.Sleep(100 * time.Millisecond)

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1 (no retransmissions)",
			len(transport.sentMessages))
	}

	ack := createTestRequest("ACK")
	ist.HandleACK(ack)

	time.Sleep(10 * time.Millisecond)
	if ist.State() != transaction.TransactionTerminated {
		t.Errorf("State = %s, want Terminated over a reliable transport", ist.State())
	}
}

func TestInviteTransactionRetransmittedRequest(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-8", key, req, transport, timers)

	resp100 := createTestResponse(100, "1 INVITE")
	ist.SendResponse(resp100)

	transport.sentMessages = nil

	if err := ist.HandleRequest(req); err != nil {
		t.Errorf("HandleRequest returned error: %v", err)
	}

	if len(transport.sentMessages) != 1 {
		t.Errorf("sent %d messages, want 1", len(transport.sentMessages))
	}
	if transport.sentMessages[0].msg.StatusCode() != 100 {
		t.Error("expected the 100 response to be retransmitted")
	}
}

func TestInviteTransactionMultipleACK(t *testing.T) {
	transport := &mockTransport{reliable: false}
	req := createTestRequest("INVITE")
	key := transaction.TransactionKey{
		Branch:    "z9hG4bK74bf9",
		Method:    "INVITE",
		Direction: false,
	}
	timers := transaction.DefaultTimers()

	ist := NewInviteTransaction("ist-9", key, req, transport, timers)

	resp := createTestResponse(404, "1 INVITE")
	ist.SendResponse(resp)

	ack := createTestRequest("ACK")
	if err := ist.HandleACK(ack); err != nil {
		t.Errorf("first HandleACK returned error: %v", err)
	}
	if ist.State() != transaction.TransactionConfirmed {
		t.Errorf("State = %s, want Confirmed", ist.State())
	}

	// A duplicate ACK should be absorbed without a state change.
	if err := ist.HandleACK(ack); err != nil {
		t.Errorf("second HandleACK returned error: %v", err)
	}
	if ist.State() != transaction.TransactionConfirmed {
		t.Errorf("State = %s, want Confirmed", ist.State())
	}
}
