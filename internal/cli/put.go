package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/envelope"
	"github.com/roach88/scanvault/internal/queue"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	KeyPath    string
	Defer      bool
	Priority   int
	MaxRetries int
}

// timeNow stamps new envelopes.
var timeNow = time.Now

// QueuedResult is the output of put --defer.
type QueuedResult struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Address cas.Address `json:"address"`
}

func (r QueuedResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "queued %s as %s (address %s)\n", r.Type, r.ID, r.Address)
	return err
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Sign and store a document",
		Long: `Sign a document with the given key and store the envelope.

Use "-" to read the document from stdin. With --defer the envelope is
queued as a vault.store operation instead and stored on the next drain.

Example:
  scanvault put --key device.key scan-0042.pdf
  scanvault put --key device.key --defer scan-0043.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.KeyPath, "key", "k", "", "signing key file (required)")
	cmd.Flags().BoolVar(&opts.Defer, "defer", false, "queue the envelope instead of storing it now")
	cmd.Flags().IntVar(&opts.Priority, "priority", 1, "queue priority with --defer (lower is more urgent)")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", 0, "attempt limit with --defer (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runPut(opts *PutOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	content, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read document", err)
	}
	signer, err := loadSigner(opts.KeyPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeKey, "failed to load key", err)
	}
	sc, err := envelope.Sign(content, signer, timeNow())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeKey, "failed to sign document", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	if !opts.Defer {
		md, err := a.vault.Store(ctx, sc)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to store document", err)
		}
		formatter.VerboseLog("stored %d-byte envelope", md.Size)
		return formatter.Success(metadataResult{md})
	}

	data, err := envelope.Marshal(sc)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to encode envelope", err)
	}
	op, err := a.queue.Enqueue(ctx, queue.Operation{
		Type:       OpVaultStore,
		Priority:   opts.Priority,
		MaxRetries: opts.MaxRetries,
		Payload:    data,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to queue document", err)
	}
	return formatter.Success(QueuedResult{
		ID:      op.ID,
		Type:    op.Type,
		Address: cas.AddressOf(a.cas.Algorithm(), data),
	})
}

// readInput reads path, or r when path is "-".
func readInput(path string, r io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(path)
}
