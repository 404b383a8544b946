package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/scanvault/internal/clock"
	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/queue"
)

// Drainer runs one queue drain. *queue.Queue satisfies it.
type Drainer interface {
	Process(ctx context.Context) (queue.Summary, error)
}

// Monitor follows a Signal and starts a queue drain on every transition
// to online. Drains run on their own goroutines; Monitor never waits for
// them except in Wait.
type Monitor struct {
	signal  Signal
	drainer Drainer
	bus     *events.Bus
	clock   clock.Clock
	logger  *slog.Logger

	drainOnStart bool
	online       atomic.Bool
	drains       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus publishes ConnectivityChanged events on bus.
func WithBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDrainOnStart controls whether Run drains immediately when the
// signal is already online. Default: true.
func WithDrainOnStart(enabled bool) Option {
	return func(m *Monitor) { m.drainOnStart = enabled }
}

// New creates a Monitor.
func New(signal Signal, drainer Drainer, opts ...Option) *Monitor {
	m := &Monitor{
		signal:       signal,
		drainer:      drainer,
		clock:        clock.Real(),
		logger:       slog.Default(),
		drainOnStart: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.online.Store(signal.IsOnline())
	return m
}

// IsOnline returns the last state the monitor observed. Transitions are
// measured against the signal's state when New was called.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Run consumes signal transitions until ctx is cancelled or the signal's
// channel is closed. Drains it starts inherit ctx.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("connectivity monitor starting", "online", m.IsOnline())
	if m.drainOnStart && m.IsOnline() {
		m.triggerDrain(ctx)
	}

	changes := m.signal.Changes()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopping: context cancelled")
			return ctx.Err()
		case online, ok := <-changes:
			if !ok {
				m.logger.Info("connectivity monitor stopping: signal closed")
				return nil
			}
			m.observe(ctx, online)
		}
	}
}

func (m *Monitor) observe(ctx context.Context, online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.bus.Publish(events.ConnectivityChanged{Online: online, At: m.clock.Now()})
	if !online {
		m.logger.Info("went offline")
		return
	}
	m.logger.Info("back online, draining queue")
	m.triggerDrain(ctx)
}

func (m *Monitor) triggerDrain(ctx context.Context) {
	m.drains.Add(1)
	go func() {
		defer m.drains.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("queue drain panicked", "panic", fmt.Sprint(r))
			}
		}()

		sum, err := m.drainer.Process(ctx)
		switch {
		case err != nil:
			m.logger.Error("queue drain failed", "error", err)
		case sum.Skipped:
			m.logger.Debug("queue drain already running")
		default:
			m.logger.Info("queue drain finished",
				"succeeded", sum.Succeeded,
				"failed", sum.Failed,
				"elapsed", sum.Elapsed)
		}
	}()
}

// Wait blocks until every drain started by the monitor has returned.
func (m *Monitor) Wait() {
	m.drains.Wait()
}
