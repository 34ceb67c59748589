// Command quicsession-demo exercises the transportconfig,
// internal/buffer and retrytoken packages from the command line (the
// quicsession state machine itself is not driven), in the teacher's
// cmd/ idiom (root command, small focused subcommands, persistent
// flags) but scaled to a single demonstration binary rather than a
// full daemon's command tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quicsession-demo",
		Short: "Exercises the quicsession engine's collaborators from the command line",
		Long: `quicsession-demo drives small, self-contained demonstrations of the
packages under this module: transport parameter configuration, the
chunked send buffer's push/seek/consume/cancel lifecycle, and the
server's Retry-token codec. It does not speak QUIC on the wire; the
session state machine itself is a library, not a standalone server.`,
	}
	root.AddCommand(newConfigCmd())
	root.AddCommand(newBufferCmd())
	root.AddCommand(newRetryCmd())
	return root
}
