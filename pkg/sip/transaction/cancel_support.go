package transaction

import (
	"fmt"

	"github.com/sipcore/engine/pkg/message"
)

// CancelSupport implements the two halves of §9.2's CANCEL handling:
// building and dispatching an outbound CANCEL for a client's own pending
// request, and matching an inbound CANCEL to the server transaction it
// targets.
type CancelSupport struct {
	manager TransactionManager
	builder *MessageBuilder
}

// NewCancelSupport wires up CancelSupport against manager, which it uses
// both to mint the client transaction for an outbound CANCEL and to look
// up the server transaction an inbound one targets.
func NewCancelSupport(manager TransactionManager) *CancelSupport {
	return &CancelSupport{
		manager: manager,
		builder: NewMessageBuilder(),
	}
}

// CancelTransaction sends a CANCEL for tx's original request. Valid only
// for a client transaction sitting in Proceeding — the window between a
// request going out and a final response coming back (§9.1).
func (cs *CancelSupport) CancelTransaction(tx Transaction) error {
	if !tx.IsClient() {
		return fmt.Errorf("can only cancel client transactions")
	}
	if tx.State() != TransactionProceeding {
		return fmt.Errorf("can only cancel transaction in Proceeding state, current: %s", tx.State())
	}

	request := tx.Request()
	if request == nil {
		return fmt.Errorf("no request found in transaction")
	}

	cancel, err := cs.builder.BuildCANCEL(request)
	if err != nil {
		return fmt.Errorf("failed to build CANCEL: %w", err)
	}

	if _, err := cs.manager.CreateClientTransaction(cancel); err != nil {
		return fmt.Errorf("failed to create CANCEL transaction: %w", err)
	}

	return nil
}

// MatchCANCEL finds the server transaction an inbound CANCEL targets.
// §9.2 is explicit that matching ignores the method, since the CANCEL and
// the request it cancels never share one — it only requires the same Via
// branch, so that's the whole test: find every server transaction on that
// branch and keep the one that isn't itself a CANCEL.
func (cs *CancelSupport) MatchCANCEL(cancel message.Message) (Transaction, bool) {
	branch := extractBranch(cancel.GetHeader("Via"))
	if branch == "" {
		return nil, false
	}

	for _, tx := range cs.manager.FindServerTransactionsByBranch(branch) {
		if req := tx.Request(); req != nil && req.Method() != "CANCEL" {
			return tx, true
		}
	}
	return nil, false
}

// HandleCANCELRequest answers an inbound CANCEL per §9.2: 200 OK if a
// matching transaction was found and is still in a state where cancelling
// makes sense, 481 otherwise. It does not itself terminate the matched
// transaction — that's on the TU, which is expected to send that
// transaction's 487 Request Terminated in response to the same
// RequestHandler notification that delivered the CANCEL.
func (cs *CancelSupport) HandleCANCELRequest(cancel message.Message) (response message.Message, matched Transaction, err error) {
	if !cancel.IsRequest() || cancel.Method() != "CANCEL" {
		return nil, nil, fmt.Errorf("not a CANCEL request")
	}

	tx, found := cs.MatchCANCEL(cancel)
	if !found {
		return cs.builder.BuildResponse(cancel, 481, "Call/Transaction Does Not Exist"), nil, nil
	}

	// A match always earns the CANCEL a 200, even if it arrived too late
	// to have any effect; only a still-Proceeding transaction is worth
	// handing to the TU to send 487 for.
	resp := cs.builder.BuildResponse(cancel, 200, "OK")
	if tx.State() != TransactionProceeding {
		return resp, nil, nil
	}
	return resp, tx, nil
}
