package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// Dialog is an established SIP dialog (RFC 3261 §12): a pair of UAs bound
// by a Call-ID and a pair of tags, with its own state, CSeq counters and
// route set.
//
// Dialog does no I/O of its own — it builds requests/responses and hands
// them to the transaction.TransactionManager/Transaction it was given at
// construction.
type Dialog struct {
	mu sync.RWMutex

	key   DialogKey
	isUAC bool

	localURI  message.URI
	remoteURI message.URI

	stateMachine    *DialogStateMachine
	sequenceManager *SequenceManager
	targetManager   *TargetManager

	txMgr         transaction.TransactionManager
	inviteTx      transaction.Transaction

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDialog creates a dialog in DialogStateInit.
//
// isUAC is true for dialogs created by an outgoing INVITE, false for
// dialogs created in response to an incoming INVITE.
func NewDialog(key DialogKey, isUAC bool, localURI, remoteURI message.URI, txMgr transaction.TransactionManager) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	initialCSeq := GenerateInitialCSeq()
	if initialCSeq == 0 {
		initialCSeq = 1
	}

	return &Dialog{
		key:             key,
		isUAC:           isUAC,
		localURI:        localURI,
		remoteURI:       remoteURI,
		stateMachine:    NewDialogStateMachine(isUAC),
		sequenceManager: NewSequenceManager(initialCSeq, isUAC),
		targetManager:   NewTargetManager(remoteURI, isUAC),
		txMgr:           txMgr,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Key returns the dialog's unique key.
func (d *Dialog) Key() DialogKey { return d.key }

// State returns the dialog's current state.
func (d *Dialog) State() DialogState { return d.stateMachine.GetState() }

// LocalTag returns the dialog's local tag.
func (d *Dialog) LocalTag() string { return d.key.LocalTag }

// RemoteTag returns the dialog's remote tag.
func (d *Dialog) RemoteTag() string { return d.key.RemoteTag }

// SetInviteTransaction binds the server transaction of the original
// INVITE, through which Accept/Reject will send their response.
func (d *Dialog) SetInviteTransaction(tx transaction.Transaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inviteTx = tx
}

// OnStateChange registers a callback fired on every dialog state change.
func (d *Dialog) OnStateChange(fn func(DialogState)) {
	d.stateMachine.OnStateChange(fn)
}

// ResponseOpt customizes a response built by Accept/Reject.
type ResponseOpt func(resp message.Message)

// Accept accepts an incoming INVITE by sending a 200 OK over the bound
// server transaction and moving the dialog to Established.
func (d *Dialog) Accept(ctx context.Context, opts ...ResponseOpt) error {
	d.mu.RLock()
	inviteTx := d.inviteTx
	d.mu.RUnlock()

	if inviteTx == nil {
		return errNoInviteTransaction(d.key)
	}

	invite := inviteTx.Request()
	if invite == nil {
		return fmt.Errorf("dialog %s: invite transaction has no request", d.key)
	}

	resp := message.NewResponse(200, "OK")
	resp.SetHeader("Via", invite.GetHeader("Via"))
	resp.SetHeader("From", invite.GetHeader("From"))
	resp.SetHeader("To", fmt.Sprintf("%s;tag=%s", invite.GetHeader("To"), d.key.LocalTag))
	resp.SetHeader("Call-ID", d.key.CallID)
	resp.SetHeader("CSeq", invite.GetHeader("CSeq"))
	resp.SetHeader("Contact", fmt.Sprintf("<%s>", d.localURI.String()))

	for _, opt := range opts {
		opt(resp)
	}

	if err := inviteTx.SendResponse(resp); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}

	if err := d.stateMachine.TransitionTo(DialogStateEstablished); err != nil {
		return err
	}
	return nil
}

// Reject declines an incoming INVITE with the given status code and
// reason phrase, moving the dialog to Terminated.
func (d *Dialog) Reject(ctx context.Context, code int, reason string) error {
	d.mu.RLock()
	inviteTx := d.inviteTx
	d.mu.RUnlock()

	if inviteTx == nil {
		return errNoInviteTransaction(d.key)
	}

	invite := inviteTx.Request()
	if invite == nil {
		return fmt.Errorf("dialog %s: invite transaction has no request", d.key)
	}

	resp := message.NewResponse(code, reason)
	resp.SetHeader("Via", invite.GetHeader("Via"))
	resp.SetHeader("From", invite.GetHeader("From"))
	resp.SetHeader("To", fmt.Sprintf("%s;tag=%s", invite.GetHeader("To"), d.key.LocalTag))
	resp.SetHeader("Call-ID", d.key.CallID)
	resp.SetHeader("CSeq", invite.GetHeader("CSeq"))

	if err := inviteTx.SendResponse(resp); err != nil {
		return fmt.Errorf("send %d response: %w", code, err)
	}

	return d.stateMachine.TransitionTo(DialogStateTerminated)
}

// Bye ends the dialog: builds and sends a BYE over a new client
// transaction, moving the dialog to Terminating, then to Terminated once
// the BYE transaction completes.
func (d *Dialog) Bye(ctx context.Context, reason string) error {
	if err := d.stateMachine.TransitionTo(DialogStateTerminating); err != nil {
		return err
	}

	bye := d.createRequest("BYE")
	if reason != "" {
		bye.SetHeader("Reason", reason)
	}

	tx, err := d.txMgr.CreateClientTransaction(bye)
	if err != nil {
		return fmt.Errorf("create BYE transaction: %w", err)
	}

	if err := tx.SendRequest(bye); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}

	go func() {
		select {
		case <-tx.Context().Done():
			d.stateMachine.TransitionTo(DialogStateTerminated)
		case <-d.ctx.Done():
		}
	}()

	return nil
}

// ProcessRequest updates the dialog for an incoming in-dialog request:
// validates/advances the remote CSeq and applies the resulting state
// transition (e.g. BYE -> Terminating).
func (d *Dialog) ProcessRequest(req message.Message) error {
	cseq, method, err := ParseCSeq(req.GetHeader("CSeq"))
	if err != nil {
		return fmt.Errorf("dialog %s: %w: %v", d.key, ErrInvalidCSeq, err)
	}

	if !d.sequenceManager.ValidateRemoteCSeq(cseq, method) {
		return fmt.Errorf("dialog %s: %w: %d for %s", d.key, ErrCSeqOutOfOrder, cseq, method)
	}

	if err := d.targetManager.UpdateFromRequest(req); err != nil {
		return err
	}

	statusCode := 0
	if req.IsResponse() {
		statusCode = req.StatusCode()
	}
	return d.stateMachine.ProcessRequest(method, statusCode)
}

// ProcessResponse updates the dialog for a response to an in-dialog
// request: refreshes the target/route set and applies the state change.
func (d *Dialog) ProcessResponse(resp message.Message, method string) error {
	if err := d.targetManager.UpdateFromResponse(resp, method); err != nil {
		return err
	}
	return d.stateMachine.ProcessResponse(method, resp.StatusCode())
}

// Close tears the dialog down without sending a BYE, releasing its
// resources.
func (d *Dialog) Close() error {
	d.cancel()
	return nil
}

// createRequest builds a new in-dialog request with the correct
// From/To/Call-ID/CSeq/Via/Contact/Route headers per RFC 3261 §12.2.1.1.
func (d *Dialog) createRequest(method string) message.Message {
	targetURI := d.targetManager.GetTargetURI()
	if targetURI == nil {
		targetURI = d.remoteURI
	}

	req := message.NewRequest(method, targetURI)
	req.SetHeader("Call-ID", d.key.CallID)
	req.SetHeader("From", fmt.Sprintf("<%s>;tag=%s", d.localURI.String(), d.key.LocalTag))
	req.SetHeader("To", fmt.Sprintf("<%s>;tag=%s", d.remoteURI.String(), d.key.RemoteTag))

	cseq := d.sequenceManager.NextLocalCSeq()
	req.SetHeader("CSeq", FormatCSeq(cseq, method))

	branch := "z9hG4bK" + generateRandomString(16)
	req.SetHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", d.localURI.Host(), branch))
	req.SetHeader("Contact", fmt.Sprintf("<%s>", d.localURI.String()))
	req.SetHeader(message.HeaderMaxForwards, "70")

	if routes := d.targetManager.BuildRouteHeaders(); len(routes) > 0 {
		for _, r := range routes {
			req.AddHeader("Route", r)
		}
	}

	return req
}
