package transaction

import (
	"net"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transport"
)

// TransportAdapter narrows a transport.TransportManager down to the
// TransactionTransport surface the transaction layer needs, so this
// package never imports transport.Transport directly.
type TransportAdapter struct {
	manager transport.TransportManager
}

// NewTransportAdapter wraps manager as a TransactionTransport.
func NewTransportAdapter(manager transport.TransportManager) TransactionTransport {
	return &TransportAdapter{manager: manager}
}

// Send routes msg through the wrapped manager.
func (a *TransportAdapter) Send(msg message.Message, addr string) error {
	return a.manager.Send(msg, addr)
}

// OnMessage drops the transport.Transport argument the manager's callback
// carries; transactions only care about the message and its source.
func (a *TransportAdapter) OnMessage(handler func(msg message.Message, addr net.Addr)) {
	a.manager.OnMessage(func(msg message.Message, addr net.Addr, _ transport.Transport) {
		handler(msg, addr)
	})
}

// IsReliable reports the registered UDP transport's reliability, which is
// always false — RFC 3261 §17.1.1's retransmission timers exist precisely
// because this engine's one wire transport (§2) is datagram-based.
func (a *TransportAdapter) IsReliable() bool {
	udp, ok := a.manager.GetTransport("udp")
	if !ok {
		return false
	}
	return udp.Reliable()
}
