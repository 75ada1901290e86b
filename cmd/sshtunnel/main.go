// Package main is the entry point for the sshtunnel binary.
//
// sshtunnel keeps a list of SSH port-forwarding tunnels, supervises one ssh
// process per active tunnel and edits the Host blocks of your OpenSSH client
// config. It combines a TUI dashboard (built with Bubble Tea) and a CLI
// (built with Cobra).
//
// When invoked without arguments, it launches the interactive dashboard.
// Subcommands run one operation and exit.
//
// Usage:
//
//	sshtunnel                     # launch the dashboard
//	sshtunnel tunnel add ...      # save a tunnel
//	sshtunnel run db api          # run tunnels in the foreground
//	sshtunnel config comment web  # disable a Host block
//
// The CLI is constructed in internal/cli and the dashboard in internal/ui.
package main

import (
	"fmt"
	"os"

	"github.com/treykane/sshtunnel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()

	// Errors are printed in their user-facing, optionally redacted form.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorMessage(err))
		os.Exit(1)
	}
}
