package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scanvault/internal/connectivity"
	"github.com/roach88/scanvault/internal/events"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Probe    string
	Interval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Drain the queue whenever connectivity returns",
		Long: `Probe an address periodically and drain the operation queue each time
it becomes reachable. Runs until interrupted.

Example:
  scanvault watch --probe vault.example.com:443
  scanvault watch --probe 10.0.0.5:8443 --interval 5s --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Probe, "probe", "", "host:port to probe (overrides connectivity.probe_address)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "probe interval (overrides connectivity.probe_interval)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer closeApp(a)

	address := opts.Probe
	if address == "" {
		address = a.cfg.Connectivity.ProbeAddress
	}
	if address == "" {
		return formatter.Fail(ExitCommandError, ErrCodeInput,
			"no probe address: pass --probe or set connectivity.probe_address", nil)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.Connectivity.ProbeInterval
	}

	logger := slog.Default()
	probe, err := connectivity.NewProbeSignal(address,
		connectivity.WithProbeInterval(interval),
		connectivity.WithProbeTimeout(a.cfg.Connectivity.ProbeTimeout),
		connectivity.WithProbeLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid probe address", err)
	}
	monitor := connectivity.New(probe, a.queue,
		connectivity.WithBus(a.bus),
		connectivity.WithLogger(logger))

	unsubscribe, err := logQueueEvents(a.bus, logger)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to subscribe to events", err)
	}
	defer unsubscribe()

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		probe.Run(ctx)
	}()

	slog.Info("watching connectivity", "probe", address, "interval", interval)
	err = monitor.Run(ctx)
	monitor.Wait()
	<-probeDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "watch stopped", err)
	}
	return formatter.Success(fmt.Sprintf("stopped watching %s", address))
}

// logQueueEvents logs queue and connectivity events from bus. The
// returned func stops logging.
func logQueueEvents(bus *events.Bus, logger *slog.Logger) (func(), error) {
	var cancels []func()
	stop := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}

	cancel, err := events.Subscribe(bus, func(e events.ConnectivityChanged) {
		logger.Info("connectivity changed", "online", e.Online)
	})
	if err != nil {
		return nil, err
	}
	cancels = append(cancels, cancel)

	cancel, err = events.Subscribe(bus, func(e events.OperationSucceeded) {
		logger.Info("operation succeeded", "id", e.ID, "type", e.Type, "attempt", e.Attempt)
	})
	if err != nil {
		stop()
		return nil, err
	}
	cancels = append(cancels, cancel)

	cancel, err = events.Subscribe(bus, func(e events.OperationFailed) {
		logger.Warn("operation failed",
			"id", e.ID,
			"type", e.Type,
			"retry_count", e.RetryCount,
			"max_retries", e.MaxRetries,
			"permanent", e.Permanent,
			"error", e.Err)
	})
	if err != nil {
		stop()
		return nil, err
	}
	cancels = append(cancels, cancel)

	return stop, nil
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
