package client

import (
	"fmt"
	"time"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// NonInviteTransaction is the non-INVITE client transaction (NICT, RFC 3261
// Figure 6): Trying -> Proceeding -> Completed -> Terminated, driven through
// transaction.NICTGraph().
type NonInviteTransaction struct {
	*BaseTransaction

	retransmitCount   int
	currentRetransmit time.Duration
}

// NewNonInviteTransaction builds and starts a NICT for request.
func NewNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *NonInviteTransaction {
	nict := &NonInviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers,
			transaction.TransactionTrying, transaction.NICTGraph()),
		currentRetransmit: timers.TimerE,
	}

	go nict.start()
	return nict
}

func (t *NonInviteTransaction) start() {
	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}
	t.startTryingTimers()
}

func (t *NonInviteTransaction) startTryingTimers() {
	if !t.reliable && t.timers.TimerE > 0 {
		t.startTimer(transaction.TimerE, t.handleTimerE)
	}
	t.startTimer(transaction.TimerF, t.handleTimerF)
}

func (t *NonInviteTransaction) handleTimerE() {
	state := t.State()
	if state != transaction.TransactionTrying && state != transaction.TransactionProceeding {
		return
	}

	if err := t.SendRequest(t.request); err != nil {
		t.notifyTransportErrorHandlers(err)
		t.Terminate()
		return
	}

	t.retransmitCount++
	if state == transaction.TransactionTrying {
		t.currentRetransmit = transaction.GetNextRetransmitInterval(t.currentRetransmit, t.timers.T2)
	} else {
		t.currentRetransmit = t.timers.T2
	}
	t.timerManager.Reset(transaction.TimerE, t.currentRetransmit)
}

func (t *NonInviteTransaction) handleTimerF() {
	switch t.State() {
	case transaction.TransactionTrying, transaction.TransactionProceeding:
		t.notifyTimeoutHandlers("Timer F")
		t.terminateWith(transaction.EventTimeout)
	}
}

// HandleResponse records resp and drives the NICT graph from its status code.
func (t *NonInviteTransaction) HandleResponse(resp message.Message) error {
	if err := t.BaseTransaction.HandleResponse(resp); err != nil {
		return err
	}

	code := resp.StatusCode()
	if t.State() == transaction.TransactionCompleted {
		// Retransmission of the final response: already absorbed.
		return nil
	}

	switch {
	case code >= 100 && code <= 199:
		t.fire(transaction.EventProvisional)
		return nil

	case code >= 200 && code <= 699:
		if t.fire(transaction.EventFinal) {
			t.stopTimer(transaction.TimerE)
			t.stopTimer(transaction.TimerF)
			t.startCompletedTimers()
		}
		return nil

	default:
		return fmt.Errorf("invalid status code: %d", code)
	}
}

func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerK > 0 {
		t.startTimer(transaction.TimerK, t.handleTimerK)
		return
	}
	t.terminateWith(transaction.EventTimeout)
}

func (t *NonInviteTransaction) handleTimerK() {
	if t.State() == transaction.TransactionCompleted {
		t.terminateWith(transaction.EventTimeout)
	}
}

// Cancel is never valid for a non-INVITE transaction (RFC 3261 §9.1).
func (t *NonInviteTransaction) Cancel() error {
	return fmt.Errorf("cannot cancel non-INVITE transaction")
}
