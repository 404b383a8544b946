package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scanvault/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the offline operation queue",
	}

	cmd.AddCommand(newQueueAddCommand(rootOpts))
	cmd.AddCommand(newQueueStatusCommand(rootOpts))
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDrainCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))

	return cmd
}

// OperationView is the JSON form of a queued operation.
type OperationView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
	RetryCount  int       `json:"retryCount"`
	MaxRetries  int       `json:"maxRetries"`
	PayloadSize int       `json:"payloadSize"`
	LastError   string    `json:"lastError,omitempty"`
}

func viewOf(op queue.Operation) OperationView {
	return OperationView{
		ID:          op.ID,
		Type:        op.Type,
		Priority:    op.Priority,
		CreatedAt:   op.CreatedAt,
		RetryCount:  op.RetryCount,
		MaxRetries:  op.MaxRetries,
		PayloadSize: len(op.Payload),
		LastError:   op.LastError,
	}
}

func (v OperationView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "queued %s %s (priority %d, max retries %d)\n", v.Type, v.ID, v.Priority, v.MaxRetries)
	return err
}

type queueAddOptions struct {
	*RootOptions
	Type        string
	Priority    int
	MaxRetries  int
	PayloadFile string
}

func newQueueAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queueAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue an operation",
		Long: `Queue an operation for the next drain.

Example:
  scanvault queue add --type vault.store --payload-file envelope.json --priority 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts.RootOptions, cmd)

			var payload []byte
			if opts.PayloadFile != "" {
				data, err := readInput(opts.PayloadFile, cmd.InOrStdin())
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read payload", err)
				}
				payload = data
			}

			a, err := openApp(opts.RootOptions, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			op, err := a.queue.Enqueue(cmd.Context(), queue.Operation{
				Type:       opts.Type,
				Priority:   opts.Priority,
				MaxRetries: opts.MaxRetries,
				Payload:    payload,
			})
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to queue operation", err)
			}
			if _, ok := a.queue.Registry().Lookup(op.Type); !ok {
				formatter.VerboseLog("no handler registered for %q; the operation will fail until one is", op.Type)
			}
			return formatter.Success(viewOf(op))
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "operation type (required)")
	cmd.Flags().IntVar(&opts.Priority, "priority", 1, "priority (lower is more urgent)")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", 0, "attempt limit (0 uses the configured default)")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", `payload file ("-" for stdin)`)
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// StatusResult is the output of queue status.
type StatusResult struct {
	Pending      int        `json:"pending"`
	HighPriority int        `json:"highPriority"`
	Retrying     int        `json:"retrying"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Processing   bool       `json:"processing"`
}

func (r StatusResult) RenderText(w io.Writer) error {
	oldest := "-"
	if r.Oldest != nil {
		oldest = r.Oldest.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "pending:       %d\nhigh priority: %d\nretrying:      %d\noldest:        %s\n",
		r.Pending, r.HighPriority, r.Retrying, oldest)
	return err
}

func newQueueStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			st, err := a.queue.Status(cmd.Context())
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to read queue", err)
			}
			result := StatusResult{
				Pending:      st.Pending,
				HighPriority: st.HighPriority,
				Retrying:     st.Retrying,
				Processing:   st.Processing,
			}
			if !st.Oldest.IsZero() {
				result.Oldest = &st.Oldest
			}
			return formatter.Success(result)
		},
	}
}

// QueueListResult is the output of queue list.
type QueueListResult struct {
	Operations []OperationView `json:"operations"`
}

func (r QueueListResult) RenderText(w io.Writer) error {
	if len(r.Operations) == 0 {
		_, err := fmt.Fprintln(w, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, op := range r.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			op.ID, op.Type, op.Priority, op.RetryCount, op.MaxRetries,
			op.CreatedAt.Format(time.RFC3339), op.LastError)
	}
	return tw.Flush()
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued operations in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ops, err := a.queue.Pending(cmd.Context())
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to read queue", err)
			}
			result := QueueListResult{Operations: make([]OperationView, 0, len(ops))}
			for _, op := range ops {
				result.Operations = append(result.Operations, viewOf(op))
			}
			return formatter.Success(result)
		},
	}
}

// DrainResult is the output of queue drain.
type DrainResult struct {
	Skipped   bool   `json:"skipped"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Evicted   int    `json:"evicted"`
	Elapsed   string `json:"elapsed"`
}

func (r DrainResult) RenderText(w io.Writer) error {
	if r.Skipped {
		_, err := fmt.Fprintln(w, "a drain is already running")
		return err
	}
	_, err := fmt.Fprintf(w, "processed %d: %d succeeded, %d failed, %d evicted (%s)\n",
		r.Processed, r.Succeeded, r.Failed, r.Evicted, r.Elapsed)
	return err
}

func newQueueDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Process every queued operation once",
		Long: `Process every queued operation once, in priority order.

Operations that failed before wait out their backoff first. Operations
with no attempts left are evicted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx, stop := withSignals(cmd.Context())
			defer stop()

			sum, err := a.queue.Process(ctx)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "drain aborted", err)
			}
			return formatter.Success(DrainResult{
				Skipped:   sum.Skipped,
				Processed: sum.Processed,
				Succeeded: sum.Succeeded,
				Failed:    sum.Failed,
				Evicted:   sum.Evicted,
				Elapsed:   sum.Elapsed.Round(time.Millisecond).String(),
			})
		},
	}
}

// ClearResult is the output of queue clear.
type ClearResult struct {
	Removed int `json:"removed"`
}

func (r ClearResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "removed %d operations\n", r.Removed)
	return err
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every operation that is not awaiting a retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			n, err := a.queue.ClearProcessed(cmd.Context())
			if errors.Is(err, queue.ErrProcessing) {
				return formatter.Fail(ExitFailure, ErrCodeGeneric, "a drain is running; try again later", err)
			}
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to clear queue", err)
			}
			return formatter.Success(ClearResult{Removed: n})
		},
	}
}
