package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/bundle"
	"github.com/treykane/sshtunnel/internal/sshclient"
)

func newBundleCmd(s *session) *cobra.Command {
	root := &cobra.Command{Use: "bundle", Short: "Group tunnels that are started together"}
	root.AddCommand(
		&cobra.Command{
			Use:   "create <name> <tunnel>...",
			Short: "Create or replace a bundle",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.withApp(func(a *app.App) error {
					tunnels, err := resolveTunnels(a, args[1:])
					if err != nil {
						return err
					}
					ids := make([]string, 0, len(tunnels))
					for _, t := range tunnels {
						ids = append(ids, t.ID)
					}
					if err := bundle.Create(args[0], ids); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "bundle %s: %d tunnel(s)\n", strings.TrimSpace(args[0]), len(ids))
					return nil
				})
			},
		},
		newBundleListCmd(s),
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a bundle; its tunnels are kept",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := bundle.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted bundle %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "run <name>",
			Short: "Run every tunnel of a bundle in the foreground",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				def, err := bundle.Get(args[0])
				if err != nil {
					return err
				}
				return s.withApp(func(a *app.App) error {
					if _, err := sshclient.EnsureSSHBinary(s.cfg.SSH.Binary); err != nil {
						return err
					}
					tunnels, missing := bundle.Resolve(def, a.Tunnels.Get)
					if len(missing) > 0 {
						ids := make([]string, 0, len(missing))
						for id := range missing {
							ids = append(ids, id)
						}
						sort.Strings(ids)
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping %d missing tunnel(s): %s\n", len(ids), strings.Join(ids, ", "))
					}
					if len(tunnels) == 0 {
						return fmt.Errorf("bundle %s has no runnable tunnels", def.Name)
					}
					ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
					defer stop()
					return runForeground(ctx, a, tunnels, cmd.OutOrStdout())
				})
			},
		},
	)
	return root
}

func newBundleListCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := bundle.LoadAll()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, defs)
			}
			if len(defs) == 0 {
				fmt.Fprintln(out, "No bundles.")
				return nil
			}
			return s.withApp(func(a *app.App) error {
				table := uitable.New()
				table.MaxColWidth = 80
				table.Wrap = true
				table.AddRow("BUNDLE", "TUNNELS")
				for _, def := range defs {
					names := make([]string, 0, len(def.Tunnels))
					for _, id := range def.Tunnels {
						if t, err := a.Tunnels.Get(id); err == nil {
							names = append(names, t.DisplayName())
						} else {
							names = append(names, shortID(id)+" (missing)")
						}
					}
					table.AddRow(def.Name, strings.Join(names, ", "))
				}
				_, err := fmt.Fprintln(out, table)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
