package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// BaseTransaction is the half of a client transaction (ICT or NICT) that
// doesn't depend on which graph it runs: message storage, timers, handler
// fan-out and the embedded state machine. InviteTransaction and
// NonInviteTransaction each supply their own transaction.Graph and initial
// state at construction and drive it by firing events (see invite.go,
// non_invite.go) rather than writing a state field directly.
type BaseTransaction struct {
	id  string
	key transaction.TransactionKey

	sm *transaction.StateMachine

	mu           sync.RWMutex
	request      message.Message
	lastResponse message.Message
	responses    []message.Message

	timerManager *transaction.TimerManager
	timers       transaction.TransactionTimers

	transport transaction.TransactionTransport
	reliable  bool

	stateChangeHandlers    []transaction.StateChangeHandler
	responseHandlers       []transaction.ResponseHandler
	timeoutHandlers        []transaction.TimeoutHandler
	transportErrorHandlers []transaction.TransportErrorHandler

	ctx    context.Context
	cancel context.CancelFunc

	cancelSent bool
}

// NewBaseTransaction builds a client BaseTransaction whose state machine
// starts at initial and is driven by graph.
func NewBaseTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	transport transaction.TransactionTransport,
	timers transaction.TransactionTimers,
	initial transaction.TransactionState,
	graph transaction.Graph,
) *BaseTransaction {
	ctx, cancel := context.WithCancel(context.Background())

	if transport.IsReliable() {
		timers = timers.AdjustForReliableTransport()
	}

	t := &BaseTransaction{
		id:           id,
		key:          key,
		request:      request,
		responses:    make([]message.Message, 0),
		timerManager: transaction.NewTimerManager(),
		timers:       timers,
		transport:    transport,
		reliable:     transport.IsReliable(),
		ctx:          ctx,
		cancel:       cancel,
	}
	t.sm = transaction.NewStateMachine(initial, graph, t.notifyStateChangeHandlers)
	return t
}

func (t *BaseTransaction) ID() string                       { return t.id }
func (t *BaseTransaction) Key() transaction.TransactionKey  { return t.key }
func (t *BaseTransaction) IsClient() bool                   { return true }
func (t *BaseTransaction) IsServer() bool                   { return false }
func (t *BaseTransaction) State() transaction.TransactionState {
	return t.sm.Current()
}

func (t *BaseTransaction) IsCompleted() bool {
	return t.State() == transaction.TransactionCompleted
}

func (t *BaseTransaction) IsTerminated() bool {
	return t.State() == transaction.TransactionTerminated
}

func (t *BaseTransaction) Request() message.Message { return t.request }

// Response returns the first response this transaction received.
func (t *BaseTransaction) Response() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.responses) > 0 {
		return t.responses[0]
	}
	return nil
}

// LastResponse returns the most recent response this transaction received.
func (t *BaseTransaction) LastResponse() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastResponse
}

// SendResponse is not valid on a client transaction.
func (t *BaseTransaction) SendResponse(resp message.Message) error {
	return fmt.Errorf("client transaction cannot send responses")
}

// SendRequest sends req to the target resolved from its Request-URI.
func (t *BaseTransaction) SendRequest(req message.Message) error {
	if req.RequestURI() == nil {
		return fmt.Errorf("request URI is nil")
	}
	return t.transport.Send(req, requestTarget(req))
}

func requestTarget(req message.Message) string {
	port := req.RequestURI().Port()
	if port == 0 {
		port = 5060
	}
	return fmt.Sprintf("%s:%d", req.RequestURI().Host(), port)
}

// Cancel sends a CANCEL for this transaction's request, at most once (later
// calls return nil without sending) and only while the transaction is in
// Proceeding (RFC 3261 §9.1: a CANCEL sent
// before the first provisional response races the UAS and must be rejected
// by the caller's retry logic, not silently accepted here).
func (t *BaseTransaction) Cancel() error {
	t.mu.Lock()
	if t.cancelSent {
		t.mu.Unlock()
		return nil
	}
	if t.State() != transaction.TransactionProceeding {
		state := t.State()
		t.mu.Unlock()
		return fmt.Errorf("can only cancel transaction in Proceeding state, current state: %s", state)
	}
	if t.request.Method() != message.MethodINVITE {
		t.mu.Unlock()
		return fmt.Errorf("CANCEL can only be sent for INVITE transactions")
	}
	t.cancelSent = true
	t.mu.Unlock()

	builder := transaction.NewMessageBuilder()
	cancel, err := builder.BuildCANCEL(t.request)
	if err != nil {
		return fmt.Errorf("failed to build CANCEL: %w", err)
	}

	if err := t.transport.Send(cancel, requestTarget(t.request)); err != nil {
		t.mu.Lock()
		t.cancelSent = false
		t.mu.Unlock()
		return fmt.Errorf("failed to send CANCEL: %w", err)
	}

	// The CANCEL itself is a separate non-INVITE transaction, created and
	// tracked at the manager level; this INVITE transaction just keeps
	// waiting for its own final response.
	return nil
}

func (t *BaseTransaction) OnStateChange(handler transaction.StateChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateChangeHandlers = append(t.stateChangeHandlers, handler)
}

func (t *BaseTransaction) OnResponse(handler transaction.ResponseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responseHandlers = append(t.responseHandlers, handler)
}

func (t *BaseTransaction) OnTimeout(handler transaction.TimeoutHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutHandlers = append(t.timeoutHandlers, handler)
}

func (t *BaseTransaction) OnTransportError(handler transaction.TransportErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transportErrorHandlers = append(t.transportErrorHandlers, handler)
}

func (t *BaseTransaction) Context() context.Context { return t.ctx }

// HandleRequest is not valid on a client transaction.
func (t *BaseTransaction) HandleRequest(req message.Message) error {
	return fmt.Errorf("client transaction cannot handle requests")
}

// HandleResponse records resp after confirming it answers this transaction's
// request, then fans it out to registered handlers. The caller (invite.go,
// non_invite.go) is responsible for advancing the state machine.
func (t *BaseTransaction) HandleResponse(resp message.Message) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	reqCSeq := t.request.GetHeader("CSeq")
	respCSeq := resp.GetHeader("CSeq")
	if reqCSeq != respCSeq {
		return fmt.Errorf("CSeq mismatch: expected %s, got %s", reqCSeq, respCSeq)
	}

	t.mu.Lock()
	t.lastResponse = resp
	t.responses = append(t.responses, resp)
	t.mu.Unlock()

	t.notifyResponseHandlers(resp)
	return nil
}

// fire drives the embedded state machine, swallowing the "not legal from
// here" case callers already guard against via State() checks.
func (t *BaseTransaction) fire(event string) bool {
	ok, _ := t.sm.Fire(event)
	return ok
}

// Terminate moves the transaction straight to Terminated and releases its
// timers and context, regardless of which state it was in.
func (t *BaseTransaction) Terminate() {
	t.terminateWith(transaction.EventAbort)
}

// terminateWith fires event (expected to land on Terminated from wherever
// the machine currently is) and releases timers and context unconditionally,
// so a transaction is fully torn down even if the graph already considers
// the event a no-op.
func (t *BaseTransaction) terminateWith(event string) {
	t.fire(event)
	t.timerManager.StopAll()
	t.cancel()
}

func (t *BaseTransaction) notifyStateChangeHandlers(oldState, newState transaction.TransactionState) {
	t.mu.RLock()
	handlers := make([]transaction.StateChangeHandler, len(t.stateChangeHandlers))
	copy(handlers, t.stateChangeHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, oldState, newState)
	}
}

func (t *BaseTransaction) notifyResponseHandlers(resp message.Message) {
	t.mu.RLock()
	handlers := make([]transaction.ResponseHandler, len(t.responseHandlers))
	copy(handlers, t.responseHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, resp)
	}
}

func (t *BaseTransaction) notifyTimeoutHandlers(timer string) {
	t.mu.RLock()
	handlers := make([]transaction.TimeoutHandler, len(t.timeoutHandlers))
	copy(handlers, t.timeoutHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, timer)
	}
}

func (t *BaseTransaction) notifyTransportErrorHandlers(err error) {
	t.mu.RLock()
	handlers := make([]transaction.TransportErrorHandler, len(t.transportErrorHandlers))
	copy(handlers, t.transportErrorHandlers)
	t.mu.RUnlock()

	for _, handler := range handlers {
		handler(t, err)
	}
}

func (t *BaseTransaction) startTimer(id transaction.TimerID, callback func()) {
	if duration := t.timers.GetTimerDuration(id); duration > 0 {
		t.timerManager.Start(id, duration, callback)
	}
}

func (t *BaseTransaction) stopTimer(id transaction.TimerID) {
	t.timerManager.Stop(id)
}

func (t *BaseTransaction) isTimerActive(id transaction.TimerID) bool {
	return t.timerManager.IsActive(id)
}
