package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/vault"
)

// metadataResult renders vault metadata.
type metadataResult struct {
	vault.Metadata
}

func (r metadataResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"address:    %s\nsize:       %d\nalgorithm:  %s\nversion:    %s\npublic key: %s\ntimestamp:  %s\n",
		r.Address, r.Size, r.Algorithm, r.Version, r.PublicKeyBase64, r.Timestamp.Format(time.RFC3339Nano))
	return err
}

// ListResult is the output of ls.
type ListResult struct {
	Entries []vault.Metadata `json:"entries"`
	Count   int              `json:"count"`
}

func (r ListResult) RenderText(w io.Writer) error {
	if r.Count == 0 {
		_, err := fmt.Fprintln(w, "no documents stored")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSIZE\tALGORITHM\tTIMESTAMP")
	for _, md := range r.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", md.Address, md.Size, md.Algorithm, md.Timestamp.Format(time.RFC3339))
	}
	return tw.Flush()
}

// NewStatCommand creates the stat command.
func NewStatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <address>",
		Short: "Show document metadata without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			addr, err := cas.ParseAddress(args[0])
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid address", err)
			}

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			md, err := a.vault.Metadata(cmd.Context(), addr)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to read metadata", err)
			}
			if md == nil {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound,
					fmt.Sprintf("no document at %s", addr), nil)
			}
			return formatter.Success(metadataResult{*md})
		},
	}
}

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored documents, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			all, err := a.vault.List(cmd.Context())
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to list documents", err)
			}
			result := ListResult{Entries: []vault.Metadata{}}
			for md := range all {
				result.Entries = append(result.Entries, md)
			}
			result.Count = len(result.Entries)
			return formatter.Success(result)
		},
	}
}

// RemoveResult is the output of rm.
type RemoveResult struct {
	Address cas.Address `json:"address"`
	Removed bool        `json:"removed"`
}

func (r RemoveResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "removed %s\n", r.Address)
	return err
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <address>",
		Short: "Delete a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			addr, err := cas.ParseAddress(args[0])
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid address", err)
			}

			a, err := openApp(rootOpts, formatter)
			if err != nil {
				return err
			}
			defer closeApp(a)

			removed, err := a.vault.Delete(cmd.Context(), addr)
			if err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStorage, "failed to delete document", err)
			}
			if !removed {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound,
					fmt.Sprintf("no document at %s", addr), nil)
			}
			return formatter.Success(RemoveResult{Address: addr, Removed: true})
		},
	}
}
