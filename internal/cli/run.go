package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/share"
	"github.com/treykane/sshtunnel/internal/sshclient"
	"github.com/treykane/sshtunnel/internal/status"
	"github.com/treykane/sshtunnel/internal/tunnel"
)

// errAllStopped is returned by a foreground run once no tunnel is left.
var errAllStopped = errors.New("all tunnels stopped")

func newRunCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "run [tunnel...]",
		Short: "Run tunnels in the foreground until interrupted",
		Long: `Run connects the named tunnels, or every auto-connect tunnel when none is
named, and prints their state changes. Ctrl-C disconnects them all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				if _, err := sshclient.EnsureSSHBinary(s.cfg.SSH.Binary); err != nil {
					return err
				}
				var tunnels []model.TunnelConfig
				if len(args) == 0 {
					for _, t := range a.Tunnels.All() {
						if t.AutoConnect {
							tunnels = append(tunnels, t)
						}
					}
					if len(tunnels) == 0 {
						return fmt.Errorf("no tunnel named and none is marked auto-connect")
					}
				} else {
					var err error
					if tunnels, err = resolveTunnels(a, args); err != nil {
						return err
					}
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runForeground(ctx, a, tunnels, cmd.OutOrStdout())
			})
		},
	}
}

// runForeground connects tunnels and reports their changes on out until ctx
// ends or every tunnel has stopped.
func runForeground(ctx context.Context, a *app.App, tunnels []model.TunnelConfig, out io.Writer) error {
	names := make(map[string]string, len(tunnels))
	for _, t := range tunnels {
		names[t.ID] = t.DisplayName()
	}

	changes := make(chan status.Change, 64)
	stopped := make(chan struct{})
	unsubscribe := a.Registry.Subscribe(func(ch status.Change) {
		if _, ok := names[ch.ID]; !ok {
			return
		}
		sendChange(ctx, stopped, changes, ch)
	})
	defer unsubscribe()
	defer close(stopped)

	for _, t := range tunnels {
		for _, c := range tunnel.CheckPortConflicts(t) {
			fmt.Fprintf(out, "%s: warning: %s\n", t.DisplayName(), c)
		}
		a.Manager.Connect(t)
	}

	anyActive := func() bool {
		for id := range names {
			if a.Manager.State(id).IsActive() {
				return true
			}
		}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "disconnecting...")
			var waits []<-chan struct{}
			for id := range names {
				waits = append(waits, a.Manager.Wait(id))
			}
			a.Manager.DisconnectAll()
			deadline := time.After(app.QuitTimeout)
			for _, w := range waits {
				select {
				case <-w:
				case <-deadline:
					return fmt.Errorf("tunnels did not exit within %s", app.QuitTimeout)
				}
			}
			return nil
		case ch := <-changes:
			printChange(out, names[ch.ID], ch)
			// Drain what is queued so the final check sees settled states.
			for drained := false; !drained; {
				select {
				case ch := <-changes:
					printChange(out, names[ch.ID], ch)
				default:
					drained = true
				}
			}
			if !anyActive() {
				return errAllStopped
			}
		}
	}
}

// sendChange queues ch for the foreground loop. It blocks while the queue is
// full and gives up once ctx is done or the loop has returned.
func sendChange(ctx context.Context, stopped <-chan struct{}, changes chan<- status.Change, ch status.Change) bool {
	select {
	case changes <- ch:
		return true
	case <-ctx.Done():
		return false
	case <-stopped:
		return false
	}
}

func printChange(out io.Writer, name string, ch status.Change) {
	line := fmt.Sprintf("%s  %-20s %s", ch.Changed.Local().Format(time.TimeOnly), name, ch.State)
	if ch.HasExit {
		line += fmt.Sprintf(" (exit %d)", ch.ExitCode)
	}
	fmt.Fprintln(out, line)
	if ch.Error != "" {
		for _, l := range strings.Split(strings.TrimRight(ch.Error, "\n"), "\n") {
			fmt.Fprintln(out, "    "+l)
		}
	}
}

func newShellCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "shell <tunnel>",
		Short: "Open an interactive ssh session to a tunnel's host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				binary, err := sshclient.EnsureSSHBinary(s.cfg.SSH.Binary)
				if err != nil {
					return err
				}
				defer a.Stager.Cleanup(cfg.ID)
				sshArgs := sshclient.InteractiveArgs(cfg, a.Stager.Resolve)
				return sshclient.New().RunInteractive(cmd.Context(), binary, sshArgs)
			})
		},
	}
}

func newImportCmd(s *session) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <share-string...>",
		Short: "Import a tunnel from a share string (\"-\" reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, "\n")
			if len(args) == 1 && args[0] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(b)
			}
			cfg, err := share.Decode(strings.Join(strings.Fields(text), "\n"))
			if err != nil {
				return err
			}
			if name != "" {
				cfg.Name = name
			}
			return s.withApp(func(a *app.App) error {
				added, err := a.Tunnels.Add(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s)\n", added.DisplayName(), added.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "override the imported tunnel's name")
	return cmd
}
