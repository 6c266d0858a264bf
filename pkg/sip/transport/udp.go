package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/metrics"
	"github.com/sipcore/engine/pkg/parser"
)

// UDPConfig holds UDP transport tuning knobs.
type UDPConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	Workers         int

	// ReuseAddr/ReusePort set SO_REUSEADDR/SO_REUSEPORT on the listening
	// socket before bind, letting multiple processes share the same port.
	ReuseAddr bool
	ReusePort bool
}

// DefaultUDPConfig returns sane defaults for a UDP transport.
func DefaultUDPConfig() *UDPConfig {
	return &UDPConfig{
		ReadBufferSize:  2 * 1024 * 1024,
		WriteBufferSize: 2 * 1024 * 1024,
		Workers:         4,
	}
}

// UDPTransport implements the Transport interface over a single UDP
// socket. Incoming datagrams are parsed into message.Message, NAT hints
// (received/rport, RFC 3261 §18.2.1 and RFC 3581) are applied to the
// top Via, and the result is handed to worker goroutines for dispatch.
type UDPTransport struct {
	conn *net.UDPConn
	addr *net.UDPAddr
	cfg  *UDPConfig

	parser parser.Parser
	met    *metrics.Metrics

	msgHandler  MessageHandler
	connHandler ConnectionHandler
	errHandler  ErrorHandler
	mu          sync.RWMutex

	workers    int
	workerPool chan struct{}

	closed int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received uint64
	sent     uint64
	errors   uint64
}

// NewUDPTransport creates a UDP transport not yet bound to an address.
// Listen binds and starts the receive loop.
func NewUDPTransport(config *UDPConfig) *UDPTransport {
	if config == nil {
		config = DefaultUDPConfig()
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		cfg:        config,
		parser:     parser.NewParser(),
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		ctx:        ctx,
		cancel:     cancel,
		closed:     1, // not listening until Listen succeeds
	}
	for i := 0; i < workers; i++ {
		t.workerPool <- struct{}{}
	}
	return t
}

// SetMetrics wires the shared Prometheus collectors; nil disables
// instrumentation (reads/writes still succeed, just uncounted).
func (t *UDPTransport) SetMetrics(met *metrics.Metrics) { t.met = met }

func (t *UDPTransport) Network() string { return "udp" }
func (t *UDPTransport) Reliable() bool  { return false }
func (t *UDPTransport) Secure() bool    { return false }

// Listen binds the UDP socket and starts the receive loop in a
// background goroutine.
func (t *UDPTransport) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("invalid UDP address: %w", err)
	}

	conn, err := t.listenWithOptions(udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen UDP: %w", err)
	}

	t.conn = conn
	t.addr = conn.LocalAddr().(*net.UDPAddr)
	atomic.StoreInt32(&t.closed, 0)

	t.wg.Add(1)
	go t.receiveLoop()

	return nil
}

// listenWithOptions binds the socket, optionally applying SO_REUSEADDR
// and SO_REUSEPORT before bind so several processes can share a port.
func (t *UDPTransport) listenWithOptions(addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				if t.reuseAddr() {
					if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
						ctlErr = e
					}
				}
				if t.reusePort() {
					if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
						ctlErr = e
					}
				}
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}

	pc, err := lc.ListenPacket(t.ctx, "udp", addr.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	if t.cfg != nil {
		if t.cfg.ReadBufferSize > 0 {
			_ = conn.SetReadBuffer(t.cfg.ReadBufferSize)
		}
		if t.cfg.WriteBufferSize > 0 {
			_ = conn.SetWriteBuffer(t.cfg.WriteBufferSize)
		}
	}

	return conn, nil
}

func (t *UDPTransport) reuseAddr() bool { return t.cfg != nil && t.cfg.ReuseAddr }
func (t *UDPTransport) reusePort() bool { return t.cfg != nil && t.cfg.ReusePort }

func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, 65535)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&t.closed) == 1 {
				return
			}
			atomic.AddUint64(&t.errors, 1)
			// A timeout read is reported as ErrReadTimeout; any other
			// temporary error (e.g. a transient EAGAIN) is counted but not
			// passed to ErrorHandler.
			if isTimeout(err) {
				t.notifyError(fmt.Errorf("%w: %v", ErrReadTimeout, err))
			} else if !isTemporary(err) {
				t.notifyError(err)
			}
			continue
		}

		atomic.AddUint64(&t.received, 1)
		if t.met != nil {
			t.met.TransportBytesTotal.WithLabelValues("udp", "inbound").Add(float64(n))
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case <-t.workerPool:
			t.wg.Add(1)
			go t.processDatagram(data, remoteAddr)
		default:
			atomic.AddUint64(&t.errors, 1)
			t.notifyError(fmt.Errorf("%w: all %d workers busy, dropping datagram from %s", ErrBufferFull, t.workers, remoteAddr))
		}
	}
}

func (t *UDPTransport) processDatagram(data []byte, remoteAddr *net.UDPAddr) {
	defer func() {
		t.workerPool <- struct{}{}
		t.wg.Done()
	}()

	msg, err := t.parser.ParseMessage(data)
	if err != nil {
		atomic.AddUint64(&t.errors, 1)
		t.notifyError(fmt.Errorf("parse from %s: %w", remoteAddr, err))
		return
	}

	if msg.IsRequest() {
		applyNATHints(msg, remoteAddr)
	}

	t.mu.RLock()
	handler := t.msgHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(msg, remoteAddr, t)
	}
}

// applyNATHints sets received/rport on the top Via of an inbound
// request per RFC 3261 §18.2.1 and RFC 3581. Idempotent: a second
// application against the same remote address is a no-op.
func applyNATHints(msg message.Message, remote *net.UDPAddr) {
	via := msg.GetHeader("Via")
	if via == "" {
		return
	}

	sentByHost, hasRport := parseViaSentBy(via)
	remoteIP := remote.IP.String()

	updated := via
	if sentByHost != remoteIP && !strings.Contains(updated, "received=") {
		updated = updated + ";received=" + remoteIP
	}
	if hasRport && !strings.Contains(updated, "rport=") {
		updated = strings.Replace(updated, ";rport", fmt.Sprintf(";rport=%d", remote.Port), 1)
	}

	if updated != via {
		msg.SetHeader("Via", updated)
	}
}

// parseViaSentBy extracts the sent-by host from a Via header value and
// reports whether an bare rport parameter (no value yet) is present.
func parseViaSentBy(via string) (host string, hasRport bool) {
	// "SIP/2.0/UDP host:port;branch=...;rport"
	parts := strings.SplitN(via, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	rest := parts[1]
	if idx := strings.Index(rest, ";"); idx != -1 {
		hasRport = strings.Contains(rest[idx:], ";rport") && !strings.Contains(rest[idx:], ";rport=")
		rest = rest[:idx]
	}
	host = rest
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host, hasRport
}

// Send serializes msg and sends it to addr.
func (t *UDPTransport) Send(msg message.Message, addr string) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return ErrTransportClosed
	}

	data := msg.Bytes()
	if len(data) > 65507 {
		return ErrMessageTooLarge
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", addr, err)
	}

	if _, err := t.conn.WriteToUDP(data, remoteAddr); err != nil {
		atomic.AddUint64(&t.errors, 1)
		return err
	}
	atomic.AddUint64(&t.sent, 1)
	if t.met != nil {
		t.met.TransportBytesTotal.WithLabelValues("udp", "outbound").Add(float64(len(data)))
	}
	return nil
}

// SendTo sends msg over an established Connection. UDP is connectionless,
// so the Connection's remote address is used as the datagram destination.
func (t *UDPTransport) SendTo(msg message.Message, conn Connection) error {
	return t.Send(msg, conn.RemoteAddr().String())
}

func (t *UDPTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgHandler = handler
}

func (t *UDPTransport) OnConnection(handler ConnectionHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connHandler = handler
}

func (t *UDPTransport) OnError(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errHandler = handler
}

func (t *UDPTransport) notifyError(err error) {
	t.mu.RLock()
	handler := t.errHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err, t)
	}
}

func (t *UDPTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.cancel()
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.wg.Wait()
	return err
}

func (t *UDPTransport) LocalAddr() net.Addr {
	return t.addr
}

func (t *UDPTransport) Stats() TransportStats {
	return TransportStats{
		MessagesReceived: atomic.LoadUint64(&t.received),
		MessagesSent:     atomic.LoadUint64(&t.sent),
		Errors:           atomic.LoadUint64(&t.errors),
	}
}
