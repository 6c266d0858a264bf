package server

import (
	"fmt"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// NonInviteTransaction is the non-INVITE server transaction (NIST, RFC 3261
// Figure 8): Trying -> Proceeding -> Completed -> Terminated, with no
// Confirmed state since there is no ACK to wait for. Driven through
// transaction.NISTGraph().
type NonInviteTransaction struct {
	*BaseTransaction

	finalResponse message.Message
}

// NewNonInviteTransaction builds a NIST for request, starting in Trying.
func NewNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) *NonInviteTransaction {
	return &NonInviteTransaction{
		BaseTransaction: NewBaseTransaction(id, key, request, transport, timers,
			transaction.TransactionTrying, transaction.NISTGraph()),
	}
}

// SendResponse sends resp and drives the NIST graph from its status code.
func (t *NonInviteTransaction) SendResponse(resp message.Message) error {
	if err := t.BaseTransaction.SendResponse(resp); err != nil {
		return err
	}

	code := resp.StatusCode()
	switch {
	case code >= 100 && code <= 199:
		t.fire(transaction.EventProvisional)
		t.notifyResponseHandlers(resp)
		return nil

	case code >= 200 && code <= 699:
		if t.fire(transaction.EventFinal) {
			t.finalResponse = resp
			t.startCompletedTimers()
			t.notifyResponseHandlers(resp)
			return nil
		}
		if t.finalResponse != nil && resp.StatusCode() == t.finalResponse.StatusCode() {
			t.notifyResponseHandlers(resp)
			return nil
		}
		return fmt.Errorf("cannot send different response in Completed state")

	default:
		return fmt.Errorf("invalid status code: %d", code)
	}
}

func (t *NonInviteTransaction) startCompletedTimers() {
	if !t.reliable && t.timers.TimerJ > 0 {
		t.startTimer(transaction.TimerJ, t.handleTimerJ)
		return
	}
	t.terminateWith(transaction.EventTimeout)
}

func (t *NonInviteTransaction) handleTimerJ() {
	if t.State() == transaction.TransactionCompleted {
		t.terminateWith(transaction.EventTimeout)
	}
}

// HandleRequest absorbs a retransmitted request by resending the last response.
func (t *NonInviteTransaction) HandleRequest(req message.Message) error {
	if req.Method() != t.request.Method() {
		return fmt.Errorf("method mismatch: expected %s, got %s", t.request.Method(), req.Method())
	}
	return t.BaseTransaction.HandleRequest(req)
}
