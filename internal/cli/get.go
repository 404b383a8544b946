package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/vault"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Out string
}

// GetResult is the output of get in JSON mode or with --out.
type GetResult struct {
	Address   cas.Address `json:"address"`
	Algorithm string      `json:"algorithm"`
	PublicKey string      `json:"publicKeyBase64"`
	Timestamp time.Time   `json:"timestamp"`
	Size      int         `json:"size"`
	Content   []byte      `json:"content,omitempty"`
	Path      string      `json:"path,omitempty"`
}

func (r GetResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "wrote %d bytes to %s (signed %s by %s key %s)\n",
		r.Size, r.Path, r.Timestamp.Format(time.RFC3339), r.Algorithm, r.PublicKey)
	return err
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <address>",
		Short: "Retrieve and verify a document",
		Long: `Retrieve the document stored at an address.

The envelope's signature is verified on every read. Content that fails
verification is never written out; the command exits with status 1.

Example:
  scanvault get LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ > scan.pdf
  scanvault get --out scan.pdf LPJNul-wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write content to this file instead of stdout")

	return cmd
}

func runGet(opts *GetOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	addr, err := cas.ParseAddress(arg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid address", err)
	}

	a, err := openApp(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	defer closeApp(a)

	r, err := a.vault.Retrieve(cmd.Context(), addr)
	switch {
	case vault.IsTampered(err):
		return formatter.Fail(ExitFailure, ErrCodeTampered,
			fmt.Sprintf("content at %s failed verification", addr), err)
	case err != nil:
		return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to read document", err)
	case r.Outcome == vault.NotFound:
		return formatter.Fail(ExitCommandError, ErrCodeNotFound,
			fmt.Sprintf("no document at %s", addr), nil)
	}

	sc := r.Content
	result := GetResult{
		Address:   addr,
		Algorithm: sc.Algorithm,
		PublicKey: base64.StdEncoding.EncodeToString(sc.PublicKey),
		Timestamp: sc.Timestamp,
		Size:      len(sc.Content),
	}

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, sc.Content, 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to write output", err)
		}
		result.Path = opts.Out
		return formatter.Success(result)
	}
	if opts.Format == "json" {
		result.Content = sc.Content
		return formatter.Success(result)
	}
	_, err = formatter.Writer.Write(sc.Content)
	return err
}
