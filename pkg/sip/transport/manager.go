package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sipcore/engine/pkg/logger"
	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/metrics"
	"github.com/sipcore/engine/pkg/parser"
)

// DefaultTransportManager is the stock TransportManager implementation: it
// fans inbound messages out to a single handler and picks an outbound
// transport by inspecting the request-URI's scheme and transport param.
type DefaultTransportManager struct {
	transports        map[string]Transport
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	mu                sync.RWMutex
	parser            parser.Parser
	started           bool

	log logger.StructuredLogger
	met *metrics.Metrics
}

// NewTransportManager creates a TransportManager with no transports
// registered yet.
func NewTransportManager() *DefaultTransportManager {
	return &DefaultTransportManager{
		transports: make(map[string]Transport),
		parser:     parser.NewParser(),
		log:        logger.NoOp{},
	}
}

// SetLogger installs the structured logger the manager reports transport
// lifecycle and send failures through.
func (m *DefaultTransportManager) SetLogger(log logger.StructuredLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
}

// SetMetrics installs the Prometheus collectors the manager increments on
// every send/receive. Optional: a nil met (the zero value) disables
// instrumentation.
func (m *DefaultTransportManager) SetMetrics(met *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.met = met
}

func (m *DefaultTransportManager) RegisterTransport(transport Transport) error {
	if transport == nil {
		return fmt.Errorf("transport is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	network := transport.Network()
	if _, exists := m.transports[network]; exists {
		return fmt.Errorf("transport %s already registered", network)
	}

	transport.OnMessage(m.handleMessage)
	transport.OnConnection(m.handleConnection)

	m.transports[network] = transport
	m.log.Info(context.Background(), "transport registered", logger.String("network", network))
	return nil
}

func (m *DefaultTransportManager) UnregisterTransport(network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transport, exists := m.transports[network]
	if !exists {
		return fmt.Errorf("transport %s not found", network)
	}

	transport.Close()
	delete(m.transports, network)
	return nil
}

func (m *DefaultTransportManager) GetTransport(network string) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transport, exists := m.transports[network]
	return transport, exists
}

// target describes the pieces of a request-URI relevant to transport
// selection: whether it carries sips:, an explicit transport param, and
// the bare host:port to dial.
type target struct {
	secure    bool
	transport string
	hostport  string
}

// parseTarget extracts scheme, transport param and host:port from a SIP(S)
// URI or bare host string, per RFC 3261 §19.1.2's transport-param and
// §18.1's default-transport rules.
func parseTarget(raw string) (target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return target{}, fmt.Errorf("%w: empty target", ErrInvalidAddress)
	}

	var t target
	switch {
	case strings.HasPrefix(raw, "sips:"):
		t.secure = true
		raw = raw[len("sips:"):]
	case strings.HasPrefix(raw, "sip:"):
		raw = raw[len("sip:"):]
	}

	if idx := strings.Index(raw, ";transport="); idx != -1 {
		param := raw[idx+len(";transport="):]
		if end := strings.IndexAny(param, ";>"); end != -1 {
			param = param[:end]
		}
		t.transport = strings.ToLower(param)
	}
	if t.transport == "" {
		if t.secure {
			t.transport = "tls"
		} else {
			t.transport = "udp"
		}
	}

	hostport := raw
	if idx := strings.IndexAny(hostport, ";>"); idx != -1 {
		hostport = hostport[:idx]
	}
	if idx := strings.Index(hostport, "@"); idx != -1 {
		hostport = hostport[idx+1:]
	}
	if !strings.Contains(hostport, ":") {
		hostport += ":5060"
	}
	t.hostport = hostport

	return t, nil
}

func (m *DefaultTransportManager) GetPreferredTransport(rawTarget string) (Transport, error) {
	t, err := parseTarget(rawTarget)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if tr, exists := m.transports[t.transport]; exists {
		return tr, nil
	}
	return nil, errTransportUnavailable(t.transport)
}

func (m *DefaultTransportManager) Send(msg message.Message, rawTarget string) error {
	t, err := parseTarget(rawTarget)
	if err != nil {
		return err
	}

	m.mu.RLock()
	tr, exists := m.transports[t.transport]
	met := m.met
	m.mu.RUnlock()

	if !exists {
		return errTransportUnavailable(t.transport)
	}

	if err := tr.Send(msg, t.hostport); err != nil {
		if met != nil {
			met.TransportErrorsTotal.Inc()
		}
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
		}
		return err
	}

	if met != nil {
		met.TransportMessagesTotal.WithLabelValues(t.transport, "sent").Inc()
	}
	return nil
}

func (m *DefaultTransportManager) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageHandler = handler
}

func (m *DefaultTransportManager) OnConnection(handler ConnectionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionHandler = handler
}

func (m *DefaultTransportManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("already started")
	}

	m.started = true
	return nil
}

func (m *DefaultTransportManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return fmt.Errorf("not started")
	}

	for network, transport := range m.transports {
		if err := transport.Close(); err != nil {
			m.log.LogError(context.Background(), err, "transport close failed", logger.String("network", network))
		}
	}

	m.started = false
	return nil
}

func (m *DefaultTransportManager) handleMessage(msg message.Message, addr net.Addr, transport Transport) {
	m.mu.RLock()
	handler := m.messageHandler
	met := m.met
	m.mu.RUnlock()

	if met != nil {
		met.TransportMessagesTotal.WithLabelValues(transport.Network(), "received").Inc()
	}

	if handler != nil {
		handler(msg, addr, transport)
	}
}

func (m *DefaultTransportManager) handleConnection(conn Connection, event ConnectionEvent) {
	m.mu.RLock()
	handler := m.connectionHandler
	m.mu.RUnlock()

	if handler != nil {
		handler(conn, event)
	}
}
