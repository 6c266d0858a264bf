package server

import (
	"fmt"
	"time"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// InviteTransaction is the INVITE server transaction (IST, RFC 3261 Figure
// 7): starts in Proceeding, a 2xx response terminates it directly, anything
// else moves it to Completed to wait for (and retransmit toward) an ACK,
// which carries it to Confirmed. Driven through transaction.ISTGraph().
type InviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
	finalResponse     message.Message
}

// NewInviteTransaction builds an IST for request, already in Proceeding.
func NewInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *InviteTransaction {
	return &InviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers,
			transaction.TransactionProceeding, transaction.ISTGraph()),
		currentRetransmit: timers.TimerG,
	}
}

// SendResponse sends resp and drives the IST graph from its status code.
func (t *InviteTransaction) SendResponse(resp message.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	code := resp.StatusCode()
	switch {
	case code >= 100 && code <= 199:
		t.notifyResponseHandlers(resp)
		return nil

	case code >= 200 && code <= 299:
		t.terminateWith(transaction.EventFinal2xx)
		t.notifyResponseHandlers(resp)
		return nil

	case code >= 300 && code <= 699:
		if t.fire(transaction.EventFinalOther) {
			t.finalResponse = resp
			t.startCompletedTimers()
			t.notifyResponseHandlers(resp)
			return nil
		}
		// Already Completed: only a retransmission of the same final
		// response is legal here.
		if t.finalResponse != nil && resp.StatusCode() == t.finalResponse.StatusCode() {
			t.notifyResponseHandlers(resp)
			return nil
		}
		return fmt.Errorf("cannot send different response in Completed state")

	default:
		return fmt.Errorf("invalid status code: %d", code)
	}
}

func (t *InviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerG > 0 {
		t.startTimer(transaction.TimerG, t.handleTimerG)
	}
	t.startTimer(transaction.TimerH, t.handleTimerH)
}

func (t *InviteTransaction) handleTimerG() {
	if t.State() != transaction.TransactionCompleted || t.finalResponse == nil {
		return
	}

	if err := t.SendResponse(t.finalResponse); err != nil {
		t.notifyTransportErrorHandlers(err)
		return
	}

	t.retransmitCount++
	t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	t.timerManager.Reset(transaction.TimerG, t.currentRetransmit)
}

func (t *InviteTransaction) handleTimerH() {
	if t.State() == transaction.TransactionCompleted {
		t.notifyTimeoutHandlers("Timer H")
		t.terminateWith(transaction.EventTimeout)
	}
}

// HandleACK implements transaction.ACKHandler: an ACK for a non-2xx final
// response is the event that carries Completed -> Confirmed (RFC 3261
// §17.2.1 Figure 7); the 2xx case never reaches here since this transaction
// already terminated when it sent the 2xx.
func (t *InviteTransaction) HandleACK(ack message.Message) error {
	if ack.Method() != message.MethodACK {
		return fmt.Errorf("not an ACK request")
	}

	switch t.State() {
	case transaction.TransactionCompleted:
		if !t.fire(transaction.EventAck) {
			return fmt.Errorf("unexpected ACK in state %s", t.State())
		}
		t.stopTimer(transaction.TimerG)
		t.stopTimer(transaction.TimerH)
		t.startConfirmedTimers()
		return nil

	case transaction.TransactionConfirmed:
		return nil // duplicate ACK, already confirmed

	default:
		return fmt.Errorf("unexpected ACK in state %s", t.State())
	}
}

func (t *InviteTransaction) startConfirmedTimers() {
	if !t.reliable && t.timers.TimerI > 0 {
		t.startTimer(transaction.TimerI, t.handleTimerI)
		return
	}
	t.terminateWith(transaction.EventTimeout)
}

func (t *InviteTransaction) handleTimerI() {
	if t.State() == transaction.TransactionConfirmed {
		t.terminateWith(transaction.EventTimeout)
	}
}

// HandleRequest absorbs a retransmitted INVITE by resending the last response.
func (t *InviteTransaction) HandleRequest(req message.Message) error {
	if req.Method() != message.MethodINVITE {
		return fmt.Errorf("expected INVITE, got %s", req.Method())
	}
	return t.BaseTransaction.HandleRequest(req)
}
