package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/roach88/scanvault/internal/clock"
)

// Defaults for ProbeSignal.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeSignal considers the device online while a TCP connection to
// Address can be established. It starts offline and probes once
// immediately when Run starts, then every Interval.
type ProbeSignal struct {
	*state

	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	clock    clock.Clock
	logger   *slog.Logger
}

// ProbeOption configures a ProbeSignal.
type ProbeOption func(*ProbeSignal)

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *ProbeSignal) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds each dial.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeSignal) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the network dialer.
func WithDialer(dial DialFunc) ProbeOption {
	return func(p *ProbeSignal) {
		if dial != nil {
			p.dial = dial
		}
	}
}

// WithProbeClock sets the clock that schedules probes.
func WithProbeClock(c clock.Clock) ProbeOption {
	return func(p *ProbeSignal) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithProbeLogger sets the logger. Default: slog.Default().
func WithProbeLogger(logger *slog.Logger) ProbeOption {
	return func(p *ProbeSignal) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProbeSignal creates a probe for address ("host:port").
func NewProbeSignal(address string, opts ...ProbeOption) (*ProbeSignal, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("probe address %q: %w", address, err)
	}
	var d net.Dialer
	p := &ProbeSignal{
		state:    newState(false),
		address:  address,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		dial:     d.DialContext,
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run probes until ctx is cancelled. Returns ctx.Err().
func (p *ProbeSignal) Run(ctx context.Context) error {
	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.interval):
		}
	}
}

// Probe dials once and updates the state. Returns the observed state.
func (p *ProbeSignal) Probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.address)
	online := err == nil
	if conn != nil {
		conn.Close()
	}
	if ctx.Err() != nil {
		// shutting down; not evidence of being offline
		return p.IsOnline()
	}
	if p.set(online) {
		p.logger.Info("connectivity probe changed state", "address", p.address, "online", online, "error", err)
	} else {
		p.logger.Debug("connectivity probe", "address", p.address, "online", online)
	}
	return online
}
