// Package config holds the engine's external configuration surface:
// listen/exposed addresses, timer values, RTP port range and codec
// preference, all set through functional options with RFC-sane
// defaults so a zero-value call to New() is already usable.
package config

import (
	"fmt"
	"net"
	"time"
)

// Config is the engine's runtime configuration (see EXTERNAL INTERFACES).
type Config struct {
	ListenAddr string
	ListenPort int

	ExposedAddr string
	ExposedPort int

	MaxBurst int
	SIPTrace bool

	T1 time.Duration
	T2 time.Duration
	T4 time.Duration

	RTPPortMin int
	RTPPortMax int

	RTPStatsInterval time.Duration

	SupportedCodecs []string
}

// Option mutates a Config during New.
type Option func(*Config)

// WithListenAddr sets the UDP bind address.
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithListenPort sets the UDP bind port.
func WithListenPort(port int) Option {
	return func(c *Config) { c.ListenPort = port }
}

// WithExposed sets the address/port advertised in Via/Contact when
// behind NAT.
func WithExposed(addr string, port int) Option {
	return func(c *Config) {
		c.ExposedAddr = addr
		c.ExposedPort = port
	}
}

// WithMaxBurst bounds how many inbound datagrams are processed before
// the receive loop yields.
func WithMaxBurst(n int) Option {
	return func(c *Config) { c.MaxBurst = n }
}

// WithSIPTrace enables wire-message logging.
func WithSIPTrace(enabled bool) Option {
	return func(c *Config) { c.SIPTrace = enabled }
}

// WithTimers overrides the T1/T2/T4 base timer values (RFC 3261 §17.1.1.1).
func WithTimers(t1, t2, t4 time.Duration) Option {
	return func(c *Config) {
		c.T1, c.T2, c.T4 = t1, t2, t4
	}
}

// WithRTPPortRange sets the inclusive port range media sessions allocate
// RTP/RTCP pairs from.
func WithRTPPortRange(min, max int) Option {
	return func(c *Config) {
		c.RTPPortMin = min
		c.RTPPortMax = max
	}
}

// WithRTPStatsInterval sets the period between RTP statistics callbacks.
func WithRTPStatsInterval(d time.Duration) Option {
	return func(c *Config) { c.RTPStatsInterval = d }
}

// WithSupportedCodecs overrides the codec preference order.
func WithSupportedCodecs(codecs ...string) Option {
	return func(c *Config) { c.SupportedCodecs = codecs }
}

// New builds a Config with spec defaults, applying opts in order.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		ListenAddr:       firstNonLoopbackIPv4(),
		ListenPort:       5060,
		MaxBurst:         10,
		SIPTrace:         false,
		T1:               500 * time.Millisecond,
		T2:               4 * time.Second,
		T4:               5 * time.Second,
		RTPPortMin:       16384,
		RTPPortMax:       32768,
		RTPStatsInterval: time.Second,
		SupportedCodecs:  []string{"pcma"},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.ExposedAddr == "" {
		c.ExposedAddr = c.ListenAddr
	}
	if c.ExposedPort == 0 {
		c.ExposedPort = c.ListenPort
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: invalid listen_port %d", c.ListenPort)
	}
	if c.RTPPortMin <= 0 || c.RTPPortMax <= c.RTPPortMin {
		return fmt.Errorf("config: invalid rtp_port_range [%d, %d]", c.RTPPortMin, c.RTPPortMax)
	}
	if c.MaxBurst <= 0 {
		return fmt.Errorf("config: max_burst must be positive")
	}
	if len(c.SupportedCodecs) == 0 {
		return fmt.Errorf("config: supported_codecs must not be empty")
	}
	return nil
}

// firstNonLoopbackIPv4 returns the first non-loopback IPv4 address found
// on the host's interfaces, falling back to 0.0.0.0 if none is found.
func firstNonLoopbackIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "0.0.0.0"
}
