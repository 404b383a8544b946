// Command scanvault stores signed scanned documents in a local
// content-addressed vault.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/scanvault/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// ExitErrors have already been reported by the command
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
