package transaction

import (
	"context"
	"net"
	"time"

	"github.com/sipcore/engine/pkg/message"
)

// Transaction is one RFC 3261 §17 transaction: an ICT, NICT, IST or NIST,
// identified by its branch+method+direction key and driven by its own
// state machine (see fsm.go).
type Transaction interface {
	ID() string
	Key() TransactionKey
	IsClient() bool
	IsServer() bool

	State() TransactionState
	IsCompleted() bool
	IsTerminated() bool

	Request() message.Message
	Response() message.Message
	LastResponse() message.Message

	// SendResponse is valid only on server transactions.
	SendResponse(resp message.Message) error

	// SendRequest and Cancel are valid only on client transactions; Cancel
	// additionally requires the request to be an INVITE.
	SendRequest(req message.Message) error
	Cancel() error

	HandleRequest(req message.Message) error
	HandleResponse(resp message.Message) error

	OnStateChange(handler StateChangeHandler)
	OnResponse(handler ResponseHandler)
	OnTimeout(handler TimeoutHandler)
	OnTransportError(handler TransportErrorHandler)

	Context() context.Context
}

// ACKHandler is implemented by INVITE server transactions: an ACK for a
// non-2xx final response is a transaction event (RFC 3261 §17.2.1 Figure 7,
// Completed -> Confirmed), unlike an ACK for 2xx which is TU-level only.
type ACKHandler interface {
	HandleACK(ack message.Message) error
}

// TransactionManager owns the transaction table: it mints client/server
// transactions, matches inbound messages against existing ones, and fans
// out the ones nobody claimed to RequestHandler/ResponseHandler.
type TransactionManager interface {
	CreateClientTransaction(req message.Message) (Transaction, error)
	CreateServerTransaction(req message.Message) (Transaction, error)

	FindTransaction(key TransactionKey) (Transaction, bool)
	FindTransactionByMessage(msg message.Message) (Transaction, bool)

	// FindServerTransactionsByBranch returns the server transactions sharing
	// a Via branch, regardless of CSeq method — the matching rule §9.2
	// requires for correlating a CANCEL with the INVITE transaction it targets.
	FindServerTransactionsByBranch(branch string) []Transaction

	HandleRequest(req message.Message, addr net.Addr) error
	HandleResponse(resp message.Message, addr net.Addr) error

	OnRequest(handler RequestHandler)
	OnResponse(handler ResponseHandler)

	SetTimers(timers TransactionTimers)
	Stats() TransactionStats
	Close() error
}

// TransactionKey is the branch+method+direction triple RFC 3261 §17.1.3/
// §17.2.3 use to match a message to its transaction.
type TransactionKey struct {
	Branch    string // Via branch
	Method    string // CSeq method
	Direction bool   // true = client, false = server
}

// TransactionState is the closed set of states across all four graphs
// (ICT/NICT share Calling|Trying/Proceeding/Completed/Terminated; IST
// alone adds Confirmed). fsm.go drives transitions between them.
type TransactionState int

const (
	TransactionCalling TransactionState = iota
	TransactionProceeding
	TransactionCompleted
	TransactionTerminated
	TransactionTrying
	TransactionConfirmed
)

// String renders the state for logging and for fsm.go's string-keyed graphs.
func (s TransactionState) String() string {
	switch s {
	case TransactionCalling:
		return "Calling"
	case TransactionProceeding:
		return "Proceeding"
	case TransactionCompleted:
		return "Completed"
	case TransactionTerminated:
		return "Terminated"
	case TransactionTrying:
		return "Trying"
	case TransactionConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// TransactionTimers holds every RFC 3261 §17 timer value this engine uses.
type TransactionTimers struct {
	T1 time.Duration // RTT estimate (default 500ms)
	T2 time.Duration // Max retransmit interval (default 4s)
	T4 time.Duration // Max duration transaction (default 5s)

	TimerA time.Duration // INVITE request retransmit
	TimerB time.Duration // INVITE transaction timeout
	TimerC time.Duration // Proxy INVITE timeout
	TimerD time.Duration // Response retransmit
	TimerE time.Duration // Non-INVITE request retransmit
	TimerF time.Duration // Non-INVITE transaction timeout
	TimerG time.Duration // INVITE response retransmit
	TimerH time.Duration // ACK receipt
	TimerI time.Duration // ACK retransmit
	TimerJ time.Duration // Non-INVITE response wait
	TimerK time.Duration // Non-INVITE response retransmit
}

// DefaultTimers returns the RFC 3261 §17 recommended timer values.
func DefaultTimers() TransactionTimers {
	t1 := 500 * time.Millisecond
	t2 := 4 * time.Second
	t4 := 5 * time.Second

	return TransactionTimers{
		T1: t1,
		T2: t2,
		T4: t4,

		TimerA: t1,                    // Initially T1
		TimerB: 64 * t1,               // 64*T1
		TimerC: 180 * time.Second,     // > 3 minutes
		TimerD: 32 * time.Second,      // >= 32s for UDP, 0 for others
		TimerE: t1,                    // Initially T1
		TimerF: 64 * t1,               // 64*T1
		TimerG: t1,                    // Initially T1
		TimerH: 64 * t1,               // 64*T1
		TimerI: t4,                    // T4 for UDP, 0 for others
		TimerJ: 64 * t1,               // 64*T1 for UDP, 0 for others
		TimerK: t4,                    // T4 for UDP, 0 for others
	}
}

// TransactionStats is the running counters the manager exposes for metrics.
type TransactionStats struct {
	ClientTransactions     uint64
	ServerTransactions     uint64
	ActiveTransactions     uint64
	CompletedTransactions  uint64
	TerminatedTransactions uint64
	TimedOutTransactions   uint64

	RequestsSent      uint64
	RequestsReceived  uint64
	ResponsesSent     uint64
	ResponsesReceived uint64

	Retransmissions    uint64
	DuplicateRequests  uint64
	DuplicateResponses uint64

	TransportErrors uint64
	InvalidMessages uint64
}

// Event callback shapes a transaction fires as its life cycle progresses.
type StateChangeHandler func(tx Transaction, oldState, newState TransactionState)
type ResponseHandler func(tx Transaction, resp message.Message)
type TimeoutHandler func(tx Transaction, timer string)
type TransportErrorHandler func(tx Transaction, err error)
type RequestHandler func(tx Transaction, req message.Message)

// TransactionTransport is the narrow slice of transport.Transport the
// transaction layer needs: send a message, hear about inbound ones, and
// know whether retransmission timers apply.
type TransactionTransport interface {
	Send(msg message.Message, addr string) error
	OnMessage(handler func(msg message.Message, addr net.Addr))
	IsReliable() bool
}

// TransactionError wraps a failure with the transaction and state it
// happened in, so logs don't need a separate correlation lookup.
type TransactionError struct {
	Transaction string
	Operation   string
	State       TransactionState
	Err         error
}

func (e *TransactionError) Error() string {
	return "transaction " + e.Transaction + " in state " + e.State.String() +
		": " + e.Operation + ": " + e.Err.Error()
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NewTransactionError builds a TransactionError.
func NewTransactionError(tx string, op string, state TransactionState, err error) error {
	return &TransactionError{
		Transaction: tx,
		Operation:   op,
		State:       state,
		Err:         err,
	}
}