// Package handler implements server-side request dispatch: a
// per-request adapter is spawned for each incoming non-ACK request,
// invokes the method's registered callback, and translates its
// returned HandlerAction into transaction-level sends.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// ActionKind discriminates the variants a Handler may return.
type ActionKind int

const (
	// ActionRespond serializes and sends a final response.
	ActionRespond ActionKind = iota
	// ActionProxy forwards the request to another URI, decrementing
	// Max-Forwards and adding Record-Route for dialog-creating methods.
	ActionProxy
	// ActionNoReply leaves the TU responsible for responding later
	// out-of-band; the adapter does not send anything.
	ActionNoReply
)

// HandlerAction is the sum type every method callback returns.
type HandlerAction struct {
	Kind ActionKind

	// ActionRespond fields.
	StatusCode int
	Reason     string
	Headers    map[string]string
	Body       []byte

	// ActionProxy fields.
	Target string
}

// Respond builds an ActionRespond action.
func Respond(status int, reason string, headers map[string]string, body []byte) HandlerAction {
	return HandlerAction{Kind: ActionRespond, StatusCode: status, Reason: reason, Headers: headers, Body: body}
}

// Proxy builds an ActionProxy action.
func Proxy(target string) HandlerAction {
	return HandlerAction{Kind: ActionProxy, Target: target}
}

// NoReply builds an ActionNoReply action.
func NoReply() HandlerAction {
	return HandlerAction{Kind: ActionNoReply}
}

// RequestCallback is a method's per-request handler:
// (request, state) -> (action, new-state).
type RequestCallback func(req message.Message, state interface{}) (HandlerAction, interface{})

// InviteCallbacks holds the per-transaction-phase callbacks an INVITE
// handler may provide. Trying, when set, runs first and may return a
// provisional response; Final is required and runs after FinalDelay.
// Proceeding is not invoked by the Dispatcher.
type InviteCallbacks struct {
	Trying     RequestCallback
	Proceeding RequestCallback
	Final      RequestCallback
}

// Dispatcher routes incoming server-transaction requests to registered
// method callbacks, spawning one adapter per non-ACK request.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]RequestCallback
	invite   *InviteCallbacks

	// FinalDelay is the scheduled delay (default 100ms per spec) before
	// the INVITE final callback runs after Trying.
	FinalDelay time.Duration

	// txMgr, when set, lets ActionProxy forward requests onward as a
	// new client transaction and relay the response back.
	txMgr transaction.TransactionManager

	state interface{}
}

// NewDispatcher creates a Dispatcher with no registered methods; any
// request for an unregistered method gets 405 Method Not Allowed.
func NewDispatcher(initialState interface{}) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[string]RequestCallback),
		FinalDelay: 100 * time.Millisecond,
		state:      initialState,
	}
}

// SetTransactionManager enables ActionProxy forwarding: without it,
// a proxy action fails with an explicit error rather than silently
// dropping the request.
func (d *Dispatcher) SetTransactionManager(txMgr transaction.TransactionManager) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txMgr = txMgr
}

// Handle registers the callback for a non-INVITE method.
func (d *Dispatcher) Handle(method string, cb RequestCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = cb
}

// HandleInvite registers the INVITE phase callbacks.
func (d *Dispatcher) HandleInvite(cb InviteCallbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invite = &cb
}

// Dispatch spawns a per-request adapter for req/tx and runs it to
// completion. ACK must never be passed here — it is delivered directly
// to the handler by the caller per spec, bypassing adapter creation.
func (d *Dispatcher) Dispatch(ctx context.Context, req message.Message, tx transaction.Transaction) error {
	if req.Method() == "ACK" {
		return fmt.Errorf("handler: ACK must not be dispatched through an adapter")
	}

	if req.Method() == "INVITE" {
		return d.dispatchInvite(ctx, req, tx)
	}
	return d.dispatchNonInvite(req, tx)
}

func (d *Dispatcher) dispatchNonInvite(req message.Message, tx transaction.Transaction) error {
	d.mu.RLock()
	cb, ok := d.handlers[req.Method()]
	d.mu.RUnlock()

	if !ok {
		return d.sendMethodNotAllowed(req, tx)
	}

	action, newState := cb(req, d.state)
	d.mu.Lock()
	d.state = newState
	d.mu.Unlock()

	return d.applyAction(req, tx, action)
}

func (d *Dispatcher) dispatchInvite(ctx context.Context, req message.Message, tx transaction.Transaction) error {
	d.mu.RLock()
	inv := d.invite
	delay := d.FinalDelay
	d.mu.RUnlock()

	if inv == nil {
		return d.sendMethodNotAllowed(req, tx)
	}

	if inv.Trying != nil {
		action, newState := inv.Trying(req, d.state)
		d.mu.Lock()
		d.state = newState
		d.mu.Unlock()
		if action.Kind == ActionRespond && action.StatusCode < 200 {
			if err := d.applyAction(req, tx, action); err != nil {
				return err
			}
		}
	}

	final := inv.Final
	if final == nil {
		return fmt.Errorf("handler: INVITE registered without a final callback")
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	action, newState := final(req, d.state)
	d.mu.Lock()
	d.state = newState
	d.mu.Unlock()

	return d.applyAction(req, tx, action)
}

func (d *Dispatcher) applyAction(req message.Message, tx transaction.Transaction, action HandlerAction) error {
	switch action.Kind {
	case ActionRespond:
		resp := buildResponse(req, action)
		return tx.SendResponse(resp)
	case ActionProxy:
		return d.proxy(req, tx, action.Target)
	case ActionNoReply:
		return nil
	default:
		return fmt.Errorf("handler: unknown action kind %d", action.Kind)
	}
}

// proxy forwards req to target as a new client transaction, decrementing
// Max-Forwards and adding Record-Route for dialog-creating methods, then
// relays the response back on the original server transaction.
func (d *Dispatcher) proxy(req message.Message, tx transaction.Transaction, target string) error {
	d.mu.RLock()
	txMgr := d.txMgr
	d.mu.RUnlock()

	if txMgr == nil {
		return fmt.Errorf("handler: proxying to %s requires a transaction manager", target)
	}

	targetURI, err := message.ParseURI(target)
	if err != nil {
		return fmt.Errorf("handler: proxy target %q: %w", target, err)
	}

	maxFwd := 70
	if v := req.GetHeader("Max-Forwards"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxFwd = n
		}
	}
	if maxFwd <= 0 {
		return tx.SendResponse(buildResponse(req, Respond(483, "Too Many Hops", nil, nil)))
	}

	fwd := message.NewRequest(req.Method(), targetURI)
	for name, values := range req.Headers() {
		for _, v := range values {
			fwd.AddHeader(name, v)
		}
	}
	fwd.SetHeader("Max-Forwards", strconv.Itoa(maxFwd-1))
	if isDialogCreating(req.Method()) {
		fwd.AddHeader("Record-Route", req.GetHeader("Record-Route"))
	}
	fwd.SetBody(req.Body())

	clientTx, err := txMgr.CreateClientTransaction(fwd)
	if err != nil {
		return fmt.Errorf("handler: creating proxy transaction: %w", err)
	}

	respCh := make(chan message.Message, 1)
	clientTx.OnResponse(func(_ transaction.Transaction, resp message.Message) {
		select {
		case respCh <- resp:
		default:
		}
	})

	if err := clientTx.SendRequest(fwd); err != nil {
		return fmt.Errorf("handler: forwarding request: %w", err)
	}

	select {
	case resp := <-respCh:
		relayed := resp.Clone()
		relayed.SetHeader("Via", req.GetHeader("Via"))
		return tx.SendResponse(relayed)
	case <-clientTx.Context().Done():
		return tx.SendResponse(buildResponse(req, Respond(408, "Request Timeout", nil, nil)))
	}
}

func isDialogCreating(method string) bool {
	switch method {
	case message.MethodINVITE, message.MethodSUBSCRIBE, message.MethodREFER:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) sendMethodNotAllowed(req message.Message, tx transaction.Transaction) error {
	resp := message.NewResponse(405, "Method Not Allowed")
	copyDialogHeaders(req, resp)
	resp.SetHeader("Allow", d.allowedMethods())
	return tx.SendResponse(resp)
}

func (d *Dispatcher) allowedMethods() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	methods := make([]string, 0, len(d.handlers)+1)
	if d.invite != nil {
		methods = append(methods, "INVITE")
	}
	for m := range d.handlers {
		methods = append(methods, m)
	}

	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

func buildResponse(req message.Message, action HandlerAction) message.Message {
	resp := message.NewResponse(action.StatusCode, action.Reason)
	copyDialogHeaders(req, resp)
	for k, v := range action.Headers {
		resp.SetHeader(k, v)
	}
	if action.Body != nil {
		resp.SetBody(action.Body)
	}
	return resp
}

func copyDialogHeaders(req, resp message.Message) {
	resp.SetHeader("Via", req.GetHeader("Via"))
	resp.SetHeader("From", req.GetHeader("From"))
	resp.SetHeader("To", req.GetHeader("To"))
	resp.SetHeader("Call-ID", req.GetHeader("Call-ID"))
	resp.SetHeader("CSeq", req.GetHeader("CSeq"))
}
