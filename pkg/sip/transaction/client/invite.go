package client

import (
	"fmt"
	"time"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// InviteTransaction is the INVITE client transaction (ICT, RFC 3261 Figure
// 5): Calling -> Proceeding -> {Completed -> Terminated | Terminated}. Its
// transitions are fired against transaction.ICTGraph() rather than written
// out as a state switch.
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration

	finalResponse message.Message
}

// NewInviteTransaction builds and starts an ICT for request.
func NewInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *InviteTransaction {
	ict := &InviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers,
			transaction.TransactionCalling, transaction.ICTGraph()),
		currentRetransmit: timers.TimerA,
	}

	go ict.start()
	return ict
}

func (t *InviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}
	t.startCallingTimers()
}

func (t *InviteTransaction) startCallingTimers() {
	if !t.reliable && t.timers.TimerA > 0 {
		t.startTimer(transaction.TimerA, t.handleTimerA)
	}
	t.startTimer(transaction.TimerB, t.handleTimerB)
}

func (t *InviteTransaction) handleTimerA() {
	if t.State() != transaction.TransactionCalling {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++
	t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	t.timerManager.Reset(transaction.TimerA, t.currentRetransmit)
}

func (t *InviteTransaction) handleTimerB() {
	switch t.State() {
	case transaction.TransactionCalling, transaction.TransactionProceeding:
		t.notifyTimeoutHandlers("Timer B")
		t.terminateWith(transaction.EventTimeout)
	}
}

// HandleResponse records resp and drives the ICT graph from its status code.
func (t *InviteTransaction) HandleResponse(resp message.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
		return err
	}

	code := resp.StatusCode()
	switch {
	case code >= 100 && code <= 199:
		if t.fire(transaction.EventProvisional) {
			t.stopTimer(transaction.TimerA)
		}
		return nil

	case code >= 200 && code <= 299:
		t.terminateWith(transaction.EventFinal2xx)
		return nil

	case code >= 300 && code <= 699:
		if !t.fire(transaction.EventFinalOther) {
			// Retransmission of the final response while already Completed:
			// just resend the ACK, no state transition needed.
			return t.sendACK(resp)
		}
		t.finalResponse = resp
		t.stopTimer(transaction.TimerA)
		t.stopTimer(transaction.TimerB)
		if err := t.sendACK(resp); err != nil {
			return fmt.Errorf("failed to send ACK: %w", err)
		}
		t.startTimer(transaction.TimerD, t.handleTimerD)
		return nil

	default:
		return fmt.Errorf("invalid status code: %d", code)
	}
}

func (t *InviteTransaction) handleTimerD() {
	if t.State() == transaction.TransactionCompleted {
		t.terminateWith(transaction.EventTimeout)
	}
}

// sendACK builds and sends the ACK RFC 3261 §17.1.1.3 requires the client
// transaction itself to generate for a non-2xx final response.
func (t *InviteTransaction) sendACK(resp message.Message) error {
	builder := transaction.NewMessageBuilder()
	ack, err := builder.BuildACKForNon2xx(t.request, resp)
	if err != nil {
		return fmt.Errorf("failed to build ACK: %w", err)
	}
	if err := t.transport.Send(ack, requestTarget(t.request)); err != nil {
		return fmt.Errorf("failed to send ACK: %w", err)
	}
	return nil
}

// Cancel sends a CANCEL for this INVITE.
func (t *InviteTransaction) Cancel() error {
	return t.BaseTransaction.Cancel()
}
