package transaction

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sipcore/engine/pkg/logger"
	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transport"
)

// TransactionCreator builds the four concrete transaction types. Manager
// depends on it rather than the client/server packages directly, so those
// packages can depend back on Manager's TransactionManager/TransactionKey
// types without an import cycle.
type TransactionCreator interface {
	CreateClientInviteTransaction(id string, key TransactionKey, request message.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateClientNonInviteTransaction(id string, key TransactionKey, request message.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateServerInviteTransaction(id string, key TransactionKey, request message.Message, transport TransactionTransport, timers TransactionTimers) Transaction
	CreateServerNonInviteTransaction(id string, key TransactionKey, request message.Message, transport TransactionTransport, timers TransactionTimers) Transaction
}

// Manager implements TransactionManager: it owns the transaction Store,
// mints new transactions through a TransactionCreator, and dispatches
// inbound requests/responses from the transport layer to the transaction
// they belong to (or to a fresh one).
type Manager struct {
	store *Store

	transport transport.TransportManager
	timers    TransactionTimers
	creator   TransactionCreator

	mu               sync.RWMutex
	requestHandlers  []RequestHandler
	responseHandlers []ResponseHandler

	stats TransactionStats

	cancelSupport *CancelSupport

	log logger.StructuredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// SetLogger installs the structured logger the manager reports transport
// and matching failures through.
func (m *Manager) SetLogger(log logger.StructuredLogger) {
	m.log = log
}

// NewManager builds a Manager with no transaction creator set; callers
// must follow up with SetDefaultCreator before routing any messages.
func NewManager(transportManager transport.TransportManager) *Manager {
	return NewManagerWithCreator(transportManager, nil)
}

// SetDefaultCreator installs the TransactionCreator used for every
// transaction minted from this point on.
func (m *Manager) SetDefaultCreator(creator TransactionCreator) {
	m.creator = creator
}

// NewManagerWithCreator builds a Manager backed by creator and registers
// it as the transport layer's message handler.
func NewManagerWithCreator(transportManager transport.TransportManager, creator TransactionCreator) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:     NewStore(),
		transport: transportManager,
		timers:    DefaultTimers(),
		creator:   creator,
		log:       logger.NoOp{},
		ctx:       ctx,
		cancel:    cancel,
	}

	m.cancelSupport = NewCancelSupport(m)

	transportManager.OnMessage(m.handleIncomingMessage)

	return m
}

// CreateClientTransaction mints an ICT or NICT for req, depending on its
// method, registers it in the store, and wires its lifecycle into the
// manager's stats.
func (m *Manager) CreateClientTransaction(req message.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create client transaction from response")
	}

	key, err := GenerateTransactionKey(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}

	id := GenerateTransactionID()
	transportAdapter := NewTransportAdapter(m.transport)

	if m.creator == nil {
		return nil, fmt.Errorf("transaction creator not set")
	}

	var tx Transaction
	if req.Method() == "INVITE" {
		tx = m.creator.CreateClientInviteTransaction(id, key, req, transportAdapter, m.timers)
	} else {
		tx = m.creator.CreateClientNonInviteTransaction(id, key, req, transportAdapter, m.timers)
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ClientTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.trackLifecycle(tx)

	return tx, nil
}

// CreateServerTransaction mints an IST or NIST for req, depending on its
// method, registers it in the store, and wires its lifecycle into the
// manager's stats.
func (m *Manager) CreateServerTransaction(req message.Message) (Transaction, error) {
	if !req.IsRequest() {
		return nil, fmt.Errorf("cannot create server transaction from response")
	}

	key, err := GenerateTransactionKey(req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if existing, ok := m.store.Get(key); ok {
		return existing, fmt.Errorf("transaction already exists")
	}

	id := GenerateTransactionID()
	transportAdapter := NewTransportAdapter(m.transport)

	if m.creator == nil {
		return nil, fmt.Errorf("transaction creator not set")
	}

	var tx Transaction
	if req.Method() == "INVITE" {
		tx = m.creator.CreateServerInviteTransaction(id, key, req, transportAdapter, m.timers)
	} else {
		tx = m.creator.CreateServerNonInviteTransaction(id, key, req, transportAdapter, m.timers)
	}

	if err := m.store.Add(tx); err != nil {
		return nil, fmt.Errorf("failed to add transaction to store: %w", err)
	}

	m.incrementStat(&m.stats.ServerTransactions)
	m.incrementStat(&m.stats.ActiveTransactions)
	m.trackLifecycle(tx)

	return tx, nil
}

// trackLifecycle removes tx from the store once it terminates and rolls
// its state transitions into the manager's stats.
func (m *Manager) trackLifecycle(tx Transaction) {
	tx.OnStateChange(func(tx Transaction, oldState, newState TransactionState) {
		if newState == TransactionTerminated {
			m.store.Remove(tx.Key())
			m.decrementStat(&m.stats.ActiveTransactions)
			m.incrementStat(&m.stats.TerminatedTransactions)
		} else if newState == TransactionCompleted && oldState != TransactionCompleted {
			m.incrementStat(&m.stats.CompletedTransactions)
		}
	})
}

// FindTransaction looks up a transaction by its exact matching key.
func (m *Manager) FindTransaction(key TransactionKey) (Transaction, bool) {
	return m.store.Get(key)
}

// FindServerTransactionsByBranch returns the server transactions sharing
// branch, regardless of method — see the TransactionManager doc comment.
func (m *Manager) FindServerTransactionsByBranch(branch string) []Transaction {
	return m.store.FindServerByBranch(branch)
}

// FindTransactionByMessage resolves the transaction msg belongs to: an
// exact TransactionKey match first, falling back to the Call-ID/CSeq
// index plus a method/CSeq cross-check for messages whose key doesn't
// line up exactly (e.g. a response whose Via the far end altered).
func (m *Manager) FindTransactionByMessage(msg message.Message) (Transaction, bool) {
	key, err := MatchingKey(msg)
	if err != nil {
		return nil, false
	}

	if tx, ok := m.store.Get(key); ok {
		return tx, true
	}

	for _, tx := range m.store.FindByMessage(msg) {
		if m.isMatchingTransaction(tx, msg) {
			return tx, true
		}
	}

	return nil, false
}

// HandleRequest routes an inbound request to its transaction, or starts a
// new one. ACK and CANCEL are handled outside the usual key-match path
// because neither forms (or matches) a transaction the way every other
// method does — see the comments at each branch.
func (m *Manager) HandleRequest(req message.Message, addr net.Addr) error {
	if !req.IsRequest() {
		return fmt.Errorf("not a request")
	}

	// ACK never forms its own transaction. An ACK for a non-2xx final
	// response is addressed to the existing INVITE server transaction
	// (§17.2.3) and drives its Completed -> Confirmed edge; an ACK for a
	// 2xx response matches nothing (that transaction is already gone) and
	// passes straight through to the TU.
	if req.Method() == "ACK" {
		var owner Transaction
		if key, err := GenerateTransactionKey(req, false); err == nil {
			if tx, ok := m.store.Get(key); ok {
				owner = tx
				if ackHandler, ok := tx.(ACKHandler); ok {
					if err := ackHandler.HandleACK(req); err != nil {
						m.notifyRequestHandlers(owner, req)
						return fmt.Errorf("transaction failed to handle ACK: %w", err)
					}
				}
			}
		}
		m.notifyRequestHandlers(owner, req)
		return nil
	}

	// CANCEL never shares a transaction key with the request it targets
	// (§9.2 matches on branch alone, ignoring method), so it's resolved
	// through CancelSupport rather than the store's usual key lookup.
	if req.Method() == "CANCEL" {
		return m.handleCancel(req)
	}

	key, err := GenerateTransactionKey(req, false)
	if err != nil {
		return fmt.Errorf("failed to generate transaction key: %w", err)
	}

	if tx, ok := m.store.Get(key); ok {
		m.incrementStat(&m.stats.DuplicateRequests)
		if err := tx.HandleRequest(req); err != nil {
			return fmt.Errorf("transaction failed to handle duplicate request: %w", err)
		}
		m.notifyRequestHandlers(tx, req)
		return nil
	}

	m.incrementStat(&m.stats.RequestsReceived)

	tx, err := m.CreateServerTransaction(req)
	if err != nil {
		m.notifyRequestHandlers(nil, req)
		return fmt.Errorf("failed to create server transaction: %w", err)
	}

	m.notifyRequestHandlers(tx, req)
	return nil
}

// handleCancel answers an inbound CANCEL (§9.2) and, if it matched a
// still-Proceeding INVITE server transaction, notifies request handlers
// with that transaction so the TU can send its 487 Request Terminated.
func (m *Manager) handleCancel(cancel message.Message) error {
	resp, matched, err := m.cancelSupport.HandleCANCELRequest(cancel)
	if err != nil {
		return fmt.Errorf("failed to process CANCEL: %w", err)
	}

	// CreateServerTransaction returns the existing transaction alongside an
	// error on a duplicate key, which is exactly what a retransmitted
	// CANCEL looks like — reuse it rather than treating it as a failure.
	cancelTx, txErr := m.CreateServerTransaction(cancel)
	if cancelTx == nil {
		return fmt.Errorf("failed to create CANCEL transaction: %w", txErr)
	}
	if sendErr := cancelTx.SendResponse(resp); sendErr != nil {
		return fmt.Errorf("failed to send CANCEL response: %w", sendErr)
	}

	m.notifyRequestHandlers(matched, cancel)
	return nil
}

// HandleResponse routes an inbound response to the client transaction it
// answers.
func (m *Manager) HandleResponse(resp message.Message, addr net.Addr) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response")
	}

	m.incrementStat(&m.stats.ResponsesReceived)

	tx, ok := m.FindTransactionByMessage(resp)
	if !ok {
		m.incrementStat(&m.stats.InvalidMessages)
		return errTransactionNotFound(generateMessageKey(resp))
	}

	if err := tx.HandleResponse(resp); err != nil {
		return fmt.Errorf("transaction failed to handle response: %w", err)
	}

	m.notifyResponseHandlers(tx, resp)
	return nil
}

// OnRequest registers a handler invoked for every request the manager
// processes, whether or not it matched an existing transaction.
func (m *Manager) OnRequest(handler RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHandlers = append(m.requestHandlers, handler)
}

// OnResponse registers a handler invoked for every response the manager
// successfully routes to a transaction.
func (m *Manager) OnResponse(handler ResponseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseHandlers = append(m.responseHandlers, handler)
}

// SetTimers overrides the §17 timer values new transactions are created
// with. Does not affect transactions already in flight.
func (m *Manager) SetTimers(timers TransactionTimers) {
	m.timers = timers
}

// Stats returns the manager's running counters, with ActiveTransactions
// refreshed from the store (the authoritative count; the local field only
// tracks increments/decrements as transactions come and go).
func (m *Manager) Stats() TransactionStats {
	stats := m.stats
	stats.ActiveTransactions = m.store.Stats().ActiveTransactions
	return stats
}

// Close cancels the manager's context and closes its store.
func (m *Manager) Close() error {
	m.cancel()
	return m.store.Close()
}

func (m *Manager) handleIncomingMessage(msg message.Message, addr net.Addr, transport transport.Transport) {
	var err error
	if msg.IsRequest() {
		err = m.HandleRequest(msg, addr)
	} else {
		err = m.HandleResponse(msg, addr)
	}

	if err != nil {
		m.log.LogError(m.ctx, err, "failed to handle incoming message", logger.String("method", msg.Method()))
	}
}

// isMatchingTransaction double-checks a Call-ID/CSeq index hit: a client
// transaction must share the response's CSeq, a server transaction must
// share the request's method.
func (m *Manager) isMatchingTransaction(tx Transaction, msg message.Message) bool {
	if msg.IsResponse() && tx.IsClient() {
		return tx.Request().GetHeader("CSeq") == msg.GetHeader("CSeq")
	}
	if msg.IsRequest() && tx.IsServer() {
		return tx.Request().Method() == msg.Method()
	}
	return false
}

func (m *Manager) notifyRequestHandlers(tx Transaction, req message.Message) {
	m.mu.RLock()
	handlers := make([]RequestHandler, len(m.requestHandlers))
	copy(handlers, m.requestHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, req)
	}
}

func (m *Manager) notifyResponseHandlers(tx Transaction, resp message.Message) {
	m.mu.RLock()
	handlers := make([]ResponseHandler, len(m.responseHandlers))
	copy(handlers, m.responseHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(tx, resp)
	}
}

func (m *Manager) incrementStat(stat *uint64) {
	atomic.AddUint64(stat, 1)
}

func (m *Manager) decrementStat(stat *uint64) {
	atomic.AddUint64(stat, ^uint64(0))
}
