// Package cli provides the command-line interface for sshtunnel.
package cli

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/logging"
	"github.com/treykane/sshtunnel/internal/security"
	"github.com/treykane/sshtunnel/internal/ui"
)

// redactErrors follows security.redact_errors of the last loaded config.
var redactErrors = true

// ErrorMessage renders an error returned by the command tree for the
// terminal and logs its full detail.
func ErrorMessage(err error) string {
	slog.Debug("command failed", "error", security.DebugMessage(err))
	return security.UserMessage(err, redactErrors)
}

// session carries what the persistent pre-run loaded.
type session struct {
	verbose bool
	cfg     appconfig.Config
	logs    io.Closer
}

// open builds the stores and the supervisor. Callers close the result.
func (s *session) open() (*app.App, error) {
	return app.Open(s.cfg)
}

// withApp runs fn with an open App and closes it afterwards.
func (s *session) withApp(fn func(a *app.App) error) error {
	a, err := s.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:           "sshtunnel",
		Short:         "Manage SSH port-forwarding tunnels and your ssh config",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			s.cfg = cfg
			redactErrors = cfg.Security.RedactErrors
			closer, err := logging.Setup(cfg.Log, s.verbose)
			if err != nil {
				return err
			}
			s.logs = closer
			slog.Debug("command started", "command", cmd.CommandPath())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if s.logs != nil {
				return s.logs.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !s.cfg.Startup.OpenDashboard {
				return cmd.Help()
			}
			return s.withApp(ui.Run)
		},
	}
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "debug logging, mirrored to stderr")

	root.AddCommand(
		newRunCmd(s),
		newTunnelCmd(s),
		newShellCmd(s),
		newImportCmd(s),
		newConfigCmd(s),
		newHostsCmd(s),
		newBundleCmd(s),
		newDoctorCmd(s),
		newAuditCmd(s),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
