package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// BaseTransaction is the half of a server transaction (IST or NIST) common
// to both: message storage, timers, handler fan-out and the embedded state
// machine. InviteTransaction and NonInviteTransaction each supply their own
// transaction.Graph and initial state and drive it by firing events rather
// than writing a state field directly.
type BaseTransaction struct {
	id  string
	key transaction.TransactionKey

	sm *transaction.StateMachine

	mu        sync.RWMutex
	request   message.Message
	responses []message.Message

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
}

// NewBaseTransaction builds a server BaseTransaction whose state machine
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

func (t *BaseTransaction) ID() string                          { return t.id }
func (t *BaseTransaction) Key() transaction.TransactionKey     { return t.key }
func (t *BaseTransaction) IsClient() bool                      { return false }
func (t *BaseTransaction) IsServer() bool                      { return true }
func (t *BaseTransaction) State() transaction.TransactionState { return t.sm.Current() }

func (t *BaseTransaction) IsCompleted() bool {
	return t.State() == transaction.TransactionCompleted
}

func (t *BaseTransaction) IsTerminated() bool {
	return t.State() == transaction.TransactionTerminated
}

func (t *BaseTransaction) Request() message.Message { return t.request }

// Response returns the first response this transaction sent.
func (t *BaseTransaction) Response() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.responses) > 0 {
		return t.responses[0]
	}
	return nil
}

// LastResponse returns the most recent response this transaction sent.
func (t *BaseTransaction) LastResponse() message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.responses) > 0 {
		return t.responses[len(t.responses)-1]
	}
	return nil
}

// SendRequest is not valid on a server transaction.
func (t *BaseTransaction) SendRequest(req message.Message) error {
	return fmt.Errorf("server transaction cannot send requests")
}

// SendResponse records resp and routes it to the address RFC 3261 §18.2.2's
// Via-parameter rules (received/rport) resolve, not the request's source
// address directly.
func (t *BaseTransaction) SendResponse(resp message.Message) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	reqCSeq := t.request.GetHeader("CSeq")
	respCSeq := resp.GetHeader("CSeq")
	if reqCSeq != respCSeq {
		return fmt.Errorf("CSeq mismatch: request has %s, response has %s", reqCSeq, respCSeq)
	}

	t.mu.Lock()
	t.responses = append(t.responses, resp)
	t.mu.Unlock()

	viaHeader := t.request.GetHeader("Via")
	if viaHeader == "" {
		return fmt.Errorf("no Via header in request")
	}
	via, err := message.ParseVia(viaHeader)
	if err != nil {
		return fmt.Errorf("failed to parse Via header: %v", err)
	}

	return t.transport.Send(resp, via.GetAddress())
}

// Cancel is not valid on a server transaction; CANCEL is a distinct request
// the manager matches to this transaction by branch (see manager.go).
func (t *BaseTransaction) Cancel() error {
	return fmt.Errorf("server transaction cannot be cancelled")
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

// HandleRequest retransmits the last response sent, absorbing a duplicate
// of the original request (RFC 3261 §17.2.1/§17.2.2).
func (t *BaseTransaction) HandleRequest(req message.Message) error {
	if lastResp := t.LastResponse(); lastResp != nil {
		return t.SendResponse(lastResp)
	}
	return nil
}

// HandleResponse is not valid on a server transaction.
func (t *BaseTransaction) HandleResponse(resp message.Message) error {
	return fmt.Errorf("server transaction cannot handle responses")
}

// Terminate moves the transaction straight to Terminated and releases its
// timers and context, regardless of which state it was in.
func (t *BaseTransaction) Terminate() {
	t.terminateWith(transaction.EventAbort)
}

func (t *BaseTransaction) fire(event string) bool {
	ok, _ := t.sm.Fire(event)
	return ok
}

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
