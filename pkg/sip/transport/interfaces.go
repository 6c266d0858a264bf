package transport

import (
	"context"
	"net"
	"time"

	"github.com/sipcore/engine/pkg/message"
)

// Transport represents a network transport.
type Transport interface {
	// Transport metadata.
	Network() string // "udp", "tcp", "tls", "ws", "wss"
	Reliable() bool  // true for TCP/TLS/WS
	Secure() bool    // true for TLS/WSS

	// Lifecycle.
	Listen(addr string) error
	Close() error

	// Sending.
	Send(msg message.Message, addr string) error
	SendTo(msg message.Message, conn Connection) error

	// Handlers.
	OnMessage(handler MessageHandler)
	OnConnection(handler ConnectionHandler)
	OnError(handler ErrorHandler)

	// Stats.
	Stats() TransportStats

	// LocalAddr is used by tests.
	LocalAddr() net.Addr
}

// Connection represents a network connection.
type Connection interface {
	// Connection metadata.
	ID() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Transport() string

	// Operations.
	Send(msg message.Message) error
	Close() error
	IsClosed() bool

	// Keep-alive.
	EnableKeepAlive(interval time.Duration)
	DisableKeepAlive()

	// Context carries connection-scoped values.
	Context() context.Context
	SetContext(ctx context.Context)
}

// TransportManager manages a set of transports.
type TransportManager interface {
	// Transport registration.
	RegisterTransport(transport Transport) error
	UnregisterTransport(network string) error

	// Transport lookup.
	GetTransport(network string) (Transport, bool)
	GetPreferredTransport(target string) (Transport, error)

	// Sending.
	Send(msg message.Message, target string) error

	// Handlers.
	OnMessage(handler MessageHandler)
	OnConnection(handler ConnectionHandler)

	// Lifecycle.
	Start() error
	Stop() error
}

// ConnectionPool manages a pool of connections.
type ConnectionPool interface {
	// Add and remove.
	Add(conn Connection)
	Remove(id string)
	RemoveClosed() int

	// Lookup.
	GetByID(id string) (Connection, bool)
	GetByRemoteAddr(addr string) []Connection
	GetAll() []Connection
}

// Event handler types.
type MessageHandler func(msg message.Message, addr net.Addr, transport Transport)
type ConnectionHandler func(conn Connection, event ConnectionEvent)
type ErrorHandler func(err error, transport Transport)

// ConnectionEvent is a connection lifecycle event.
type ConnectionEvent int

const (
	ConnectionOpened ConnectionEvent = iota
	ConnectionClosed
	ConnectionError
)

// TransportStats holds transport-level counters.
type TransportStats struct {
	MessagesReceived  uint64
	MessagesSent      uint64
	BytesReceived     uint64
	BytesSent         uint64
	Errors            uint64
	ActiveConnections int
}

// TransportError is a transport-layer error.
type TransportError struct {
	Transport string
	Operation string
	Err       error
	Temporary bool
}

func (e *TransportError) Error() string {
	return e.Transport + " " + e.Operation + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) IsTemporary() bool {
	return e.Temporary
}
