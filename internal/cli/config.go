package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/util"
)

// entryView is the JSON shape of one ssh config entry.
type entryView struct {
	ID         string            `json:"id"`
	Host       string            `json:"host"`
	File       string            `json:"file"`
	Commented  bool              `json:"commented"`
	Comment    string            `json:"comment,omitempty"`
	Directives map[string]string `json:"directives"`
}

func newEntryView(e sshconfig.Entry) entryView {
	v := entryView{
		ID:         e.ID,
		Host:       e.Host,
		File:       e.SourceFile,
		Commented:  e.Commented,
		Comment:    e.Comment,
		Directives: map[string]string{},
	}
	for _, d := range e.Directives {
		if _, dup := v.Directives[d.Key]; !dup {
			v.Directives[d.Key] = d.Value
		}
	}
	return v
}

func newConfigCmd(s *session) *cobra.Command {
	root := &cobra.Command{Use: "config", Short: "Edit Host blocks of your ssh config"}
	root.AddCommand(
		newConfigListCmd(s),
		newConfigShowCmd(s),
		newConfigAddCmd(s),
		newConfigSetCmd(s),
		newConfigUnsetCmd(s),
		newConfigRmCmd(s),
		newConfigCommentCmd(s),
		newConfigMoveCmd(s),
		newConfigMvFileCmd(s),
		newConfigReplaceCmd(s),
		newConfigFilesCmd(s),
	)
	return root
}

// findEntry resolves a host pattern or an entry id.
func findEntry(store *sshconfig.Store, ref string) (sshconfig.Entry, error) {
	if e, err := store.Find(ref); err == nil {
		return e, nil
	}
	if e, err := store.Get(ref); err == nil {
		return e, nil
	}
	return sshconfig.Entry{}, errors.NotFoundf("ssh config host %q", ref)
}

// parseAssignments splits "Key=Value" pairs.
func parseAssignments(pairs []string) ([][2]string, error) {
	out := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.ContainsAny(k, " \t") {
			return nil, errors.NotValidf("directive %q (want Key=Value)", p)
		}
		out = append(out, [2]string{k, strings.TrimSpace(v)})
	}
	return out, nil
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

// configFile maps a --file value to a path: absolute paths are used as is,
// bare names are taken relative to the drop-in directory.
func configFile(store *sshconfig.Store, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(store.Dir(), name)
}

func newConfigListCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List Host blocks in file order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				entries := a.SSHConfig.Entries()
				out := cmd.OutOrStdout()
				if jsonOut {
					views := make([]entryView, 0, len(entries))
					for _, e := range entries {
						views = append(views, newEntryView(e))
					}
					return writeJSON(out, views)
				}
				home := homeDir()
				table := uitable.New()
				table.MaxColWidth = 40
				table.AddRow("HOST", "HOSTNAME", "USER", "PORT", "FILE", "")
				for _, e := range entries {
					state := ""
					if e.Commented {
						state = "disabled"
					}
					file := e.SourceFile
					if home != "" && strings.HasPrefix(file, home) {
						file = "~" + strings.TrimPrefix(file, home)
					}
					table.AddRow(e.Host, util.EmptyDash(e.Value("HostName")), util.EmptyDash(e.Value("User")),
						util.EmptyDash(e.Value("Port")), file, state)
				}
				_, err := fmt.Fprintln(out, table)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newConfigShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <host>",
		Short: "Print one Host block as it is written to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), sshconfig.Serialize([]sshconfig.Entry{e}))
				return err
			})
		},
	}
}

func newConfigAddCmd(s *session) *cobra.Command {
	var (
		sets []string
		file string
	)
	cmd := &cobra.Command{
		Use:     "add <host>",
		Short:   "Append a Host block",
		Example: `  sshtunnel config add web --set HostName=10.0.0.5 --set User=deploy --file work.conf`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			return s.withApp(func(a *app.App) error {
				e := sshconfig.Entry{Host: args[0], SourceFile: configFile(a.SSHConfig, file)}
				for _, p := range pairs {
					e.Directives = append(e.Directives, sshconfig.Directive{Key: p[0], Value: p[1]})
				}
				added, err := a.SSHConfig.Add(e)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added Host %s to %s\n", added.Host, added.SourceFile)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "directive Key=Value (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "target file: absolute, or a name in the config.d directory")
	return cmd
}

func newConfigSetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "set <host> <Key=Value>...",
		Short: "Set directives of a Host block; an empty value removes the directive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				for _, p := range pairs {
					e.SetValue(p[0], p[1])
				}
				return a.SSHConfig.Update(e)
			})
		},
	}
}

func newConfigUnsetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <host> <Key>...",
		Short: "Remove directives from a Host block",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				for _, key := range args[1:] {
					e.SetValue(key, "")
				}
				return a.SSHConfig.Update(e)
			})
		},
	}
}

func newConfigRmCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <host>",
		Aliases: []string{"delete"},
		Short:   "Delete a Host block",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				if err := a.SSHConfig.Delete(e.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted Host %s\n", e.Host)
				return nil
			})
		},
	}
}

func newConfigCommentCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <host>",
		Short: "Comment out a Host block, or restore a commented one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				if err := a.SSHConfig.ToggleComment(e.ID); err != nil {
					return err
				}
				verb := "disabled"
				if e.Commented {
					verb = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Host %s\n", verb, e.Host)
				return nil
			})
		},
	}
}

func newConfigMoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:       "move <host> up|down",
		Short:     "Move a Host block within its file",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir int
			switch args[1] {
			case "up":
				dir = -1
			case "down":
				dir = 1
			default:
				return errors.NotValidf("direction %q", args[1])
			}
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				return a.SSHConfig.MoveEntry(e.ID, dir)
			})
		},
	}
}

func newConfigMvFileCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "mv-file <file> <host>...",
		Short: "Move Host blocks to another config file",
		Long: `mv-file moves Host blocks to the primary config file or to a file in the
config.d directory. A bare file name is taken relative to config.d.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				target := configFile(a.SSHConfig, args[0])
				var ids []string
				for _, ref := range args[1:] {
					e, err := findEntry(a.SSHConfig, ref)
					if err != nil {
						return err
					}
					ids = append(ids, e.ID)
				}
				if err := a.SSHConfig.MoveEntriesToFile(ids, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "moved %d host(s) to %s\n", len(ids), target)
				return nil
			})
		},
	}
}

func newConfigReplaceCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <host>",
		Short: "Replace a Host block with config text read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return s.withApp(func(a *app.App) error {
				e, err := findEntry(a.SSHConfig, args[0])
				if err != nil {
					return err
				}
				return a.SSHConfig.ReplaceFromText(e.ID, string(b))
			})
		},
	}
}

func newConfigFilesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List the config files that were read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				for _, f := range a.SSHConfig.Files() {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			})
		},
	}
}

func newHostsCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List concrete hosts from your ssh config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				hosts, err := sshconfig.LoadHosts(a.SSHConfig.Files())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					if hosts == nil {
						hosts = []sshconfig.Host{}
					}
					return writeJSON(out, hosts)
				}
				if len(hosts) == 0 {
					fmt.Fprintln(out, "No hosts found.")
					return nil
				}
				table := uitable.New()
				table.MaxColWidth = 50
				table.AddRow("NAME", "HOSTNAME", "USER", "PORT", "IDENTITY FILE")
				for _, h := range hosts {
					port := "-"
					if h.Port > 0 {
						port = fmt.Sprint(h.Port)
					}
					table.AddRow(h.Name, util.EmptyDash(h.HostName), util.EmptyDash(h.User), port, util.EmptyDash(h.IdentityFile))
				}
				_, err = fmt.Fprintln(out, table)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
