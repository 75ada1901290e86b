package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/doctor"
	"github.com/treykane/sshtunnel/internal/events"
	"github.com/treykane/sshtunnel/internal/history"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/share"
	"github.com/treykane/sshtunnel/internal/tunnel"
	"github.com/treykane/sshtunnel/internal/util"
)

func newTunnelCmd(s *session) *cobra.Command {
	root := &cobra.Command{Use: "tunnel", Short: "Manage saved tunnels"}
	root.AddCommand(
		newTunnelListCmd(s),
		newTunnelShowCmd(s),
		newTunnelAddCmd(s),
		newTunnelEditCmd(s),
		newTunnelRmCmd(s),
		newTunnelPasswordCmd(s),
		newTunnelLogsCmd(s),
		newTunnelCheckCmd(s),
		newTunnelShareCmd(s),
		newTunnelCLICmd(s),
	)
	return root
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func forwardSummary(rules []model.ForwardRule) string {
	var parts []string
	for _, r := range rules {
		parts = append(parts, r.Type.Flag()+" "+r.Argument())
	}
	return util.EmptyDash(strings.Join(parts, ", "))
}

func newTunnelListCmd(s *session) *cobra.Command {
	var jsonOut, recent bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved tunnels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				tunnels := a.Tunnels.All()
				last, err := history.LastConnected()
				if err != nil {
					return err
				}
				if recent {
					tunnels = history.SortRecent(tunnels, last)
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					return writeJSON(out, tunnels)
				}
				table := uitable.New()
				table.MaxColWidth = 48
				table.AddRow("ID", "NAME", "TARGET", "FORWARDS", "AUTO", "LAST CONNECTED")
				for _, t := range tunnels {
					when := "never"
					if ts := last[t.ID]; ts > 0 {
						when = humanize.Time(time.Unix(ts, 0))
					}
					auto := ""
					if t.AutoConnect {
						auto = "yes"
					}
					table.AddRow(shortID(t.ID), t.DisplayName(), fmt.Sprintf("%s:%d", t.Target(), t.Port), forwardSummary(t.Tunnels), util.EmptyDash(auto), when)
				}
				_, err = fmt.Fprintln(out, table)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&recent, "recent", false, "most recently connected first")
	return cmd
}

func newTunnelShowCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <tunnel>",
		Short: "Show one tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				t, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					return writeJSON(out, t)
				}
				_, hasPassword := a.Credentials.Password(t.ID)
				table := uitable.New()
				table.AddRow("ID:", t.ID)
				table.AddRow("Name:", t.DisplayName())
				table.AddRow("Target:", fmt.Sprintf("%s:%d", t.Target(), t.Port))
				table.AddRow("Auth:", string(t.AuthMethod))
				if t.AuthMethod == model.AuthIdentityFile {
					table.AddRow("Identity file:", util.EmptyDash(t.IdentityFile))
				} else {
					table.AddRow("Password stored:", fmt.Sprint(hasPassword))
				}
				for _, r := range t.Tunnels {
					table.AddRow("Forward:", r.Type.Flag()+" "+r.Argument())
				}
				table.AddRow("Auto-connect:", fmt.Sprint(t.AutoConnect))
				table.AddRow("Disconnect on quit:", fmt.Sprint(t.DisconnectOnQuit))
				table.AddRow("Additional args:", util.EmptyDash(t.AdditionalArgs))
				_, err = fmt.Fprintln(out, table)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// tunnelFlags are the editable fields shared by add and edit.
type tunnelFlags struct {
	name, host, user, identity, extra string
	port                              int
	password                          bool
	local, remote, dynamic            []string
	autoConnect, keepOnQuit           bool
	clearForwards                     bool
}

func (f *tunnelFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "display name")
	fl.StringVar(&f.host, "host", "", "ssh server")
	fl.StringVar(&f.user, "user", "", "ssh user")
	fl.IntVar(&f.port, "port", util.DefaultSSHPort, "ssh port")
	fl.StringVar(&f.identity, "identity", "", "private key file")
	fl.BoolVar(&f.password, "password-auth", false, "authenticate with a stored password instead of a key")
	fl.StringArrayVarP(&f.local, "local", "L", nil, "local forward [bind:]port:host:hostport (repeatable)")
	fl.StringArrayVarP(&f.remote, "remote", "R", nil, "remote forward [bind:]port:host:hostport (repeatable)")
	fl.StringArrayVarP(&f.dynamic, "dynamic", "D", nil, "dynamic SOCKS forward [bind:]port (repeatable)")
	fl.BoolVar(&f.autoConnect, "auto-connect", false, "connect when the dashboard or run starts")
	fl.BoolVar(&f.keepOnQuit, "keep-on-quit", false, "leave the tunnel running when the dashboard quits")
	fl.StringVar(&f.extra, "extra-args", "", "additional ssh arguments, inserted verbatim")
}

func (f *tunnelFlags) rules() ([]model.ForwardRule, error) {
	var out []model.ForwardRule
	for kind, specs := range map[model.ForwardType][]string{
		model.ForwardLocal:   f.local,
		model.ForwardRemote:  f.remote,
		model.ForwardDynamic: f.dynamic,
	} {
		for _, spec := range specs {
			r, err := tunnel.ParseForwardArg(kind, spec)
			if err != nil {
				return nil, fmt.Errorf("%s forward %q: %w", kind, spec, err)
			}
			out = append(out, r)
		}
	}
	return sortRules(out), nil
}

// sortRules orders rules local, remote, dynamic, keeping flag order within a kind.
func sortRules(rules []model.ForwardRule) []model.ForwardRule {
	var out []model.ForwardRule
	for _, kind := range []model.ForwardType{model.ForwardLocal, model.ForwardRemote, model.ForwardDynamic} {
		for _, r := range rules {
			if r.Type == kind {
				out = append(out, r)
			}
		}
	}
	return out
}

// apply copies every flag the user set onto cfg.
func (f *tunnelFlags) apply(cmd *cobra.Command, cfg *model.TunnelConfig) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		cfg.Name = f.name
	}
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("user") {
		cfg.Username = f.user
	}
	if changed("port") {
		if err := util.ValidatePort(f.port); err != nil {
			return err
		}
		cfg.Port = uint16(f.port)
	}
	if changed("identity") {
		cfg.IdentityFile = f.identity
		cfg.AuthMethod = model.AuthIdentityFile
	}
	if changed("password-auth") {
		if f.password {
			cfg.AuthMethod = model.AuthPassword
		} else {
			cfg.AuthMethod = model.AuthIdentityFile
		}
	}
	if changed("auto-connect") {
		cfg.AutoConnect = f.autoConnect
	}
	if changed("keep-on-quit") {
		cfg.DisconnectOnQuit = !f.keepOnQuit
	}
	if changed("extra-args") {
		cfg.AdditionalArgs = f.extra
	}
	if f.clearForwards {
		cfg.Tunnels = nil
	}
	rules, err := f.rules()
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		cfg.Tunnels = append(cfg.Tunnels, rules...)
	}
	return nil
}

func newTunnelAddCmd(s *session) *cobra.Command {
	var f tunnelFlags
	var from string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a tunnel",
		Example: `  sshtunnel tunnel add --name db --host db.example.com --user bob -L 5432:localhost:5432
  sshtunnel tunnel add --from db --name "db staging" --host db.staging.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				var cfg model.TunnelConfig
				if from != "" {
					src, err := a.Tunnels.Find(from)
					if err != nil {
						return err
					}
					dup, err := a.Tunnels.Duplicate(src.ID, f.name)
					if err != nil {
						return err
					}
					err = f.apply(cmd, &dup)
					if err == nil {
						err = a.Tunnels.Update(dup)
					}
					if err != nil {
						_ = a.Tunnels.Delete(dup.ID)
						return err
					}
					cfg = dup
				} else {
					cfg = model.NewTunnelConfig("", "")
					if err := f.apply(cmd, &cfg); err != nil {
						return err
					}
					added, err := a.Tunnels.Add(cfg)
					if err != nil {
						return err
					}
					cfg = added
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", cfg.DisplayName(), cfg.ID)
				if cfg.AuthMethod == model.AuthPassword {
					fmt.Fprintf(cmd.OutOrStdout(), "store its password with: sshtunnel tunnel password %s\n", shortID(cfg.ID))
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "copy an existing tunnel")
	return cmd
}

func newTunnelEditCmd(s *session) *cobra.Command {
	var f tunnelFlags
	cmd := &cobra.Command{
		Use:   "edit <tunnel>",
		Short: "Change fields of a tunnel; forwards given here are appended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				if err := f.apply(cmd, &cfg); err != nil {
					return err
				}
				if err := a.Tunnels.Update(cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", cfg.DisplayName())
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.clearForwards, "clear-forwards", false, "drop existing forwards before adding the given ones")
	return cmd
}

func newTunnelRmCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <tunnel>",
		Aliases: []string{"delete"},
		Short:   "Delete a tunnel, its stored password and its bundle memberships",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				if err := a.DeleteTunnel(cfg.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", cfg.DisplayName())
				return nil
			})
		},
	}
}

func newTunnelPasswordCmd(s *session) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "password <tunnel>",
		Short: "Store the ssh password of a password-auth tunnel (read from the terminal or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				if clear {
					if err := a.Credentials.Delete(cfg.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed password of %s\n", cfg.DisplayName())
					return nil
				}
				secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password for "+cfg.Target()+": ")
				if err != nil {
					return err
				}
				if secret == "" {
					return fmt.Errorf("empty password; use --clear to remove a stored password")
				}
				if err := a.Credentials.Set(cfg.ID, secret); err != nil {
					return err
				}
				if cfg.AuthMethod != model.AuthPassword {
					fmt.Fprintf(cmd.ErrOrStderr(), "note: %s uses key authentication; the password is only used after `tunnel edit --password-auth`\n", cfg.DisplayName())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s\n", cfg.DisplayName())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the stored password")
	return cmd
}

// readSecret reads without echo from a terminal, otherwise one line of in.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newTunnelLogsCmd(s *session) *cobra.Command {
	var (
		jsonOut bool
		limit   int
		since   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logs [tunnel]",
		Short: "Show the lifecycle journal of one or all tunnels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				q := events.Query{Limit: limit}
				if since > 0 {
					q.Since = time.Now().Add(-since)
				}
				if len(args) == 1 {
					cfg, err := a.Tunnels.Find(args[0])
					if err != nil {
						return err
					}
					q.TunnelID = cfg.ID
				}
				evts, err := a.Events.Read(q)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					if evts == nil {
						evts = []events.Event{}
					}
					return writeJSON(out, evts)
				}
				for _, e := range evts {
					name := util.DefaultString(e.TunnelName, shortID(e.TunnelID))
					fmt.Fprintf(out, "%s  %-20s %-12s", e.Timestamp.Local().Format(time.DateTime), name, e.EventType)
					if e.ExitCode != nil {
						fmt.Fprintf(out, " exit=%d", *e.ExitCode)
					}
					fmt.Fprintln(out)
					if e.Message != "" {
						for _, line := range strings.Split(strings.TrimRight(e.Message, "\n"), "\n") {
							fmt.Fprintln(out, "    "+line)
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most this many events (0 = all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	return cmd
}

// checkReport is the per-tunnel result of `tunnel check`.
type checkReport struct {
	Tunnel string         `json:"tunnel"`
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Issues []doctor.Issue `json:"issues"`
}

func newTunnelCheckCmd(s *session) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check [tunnel...]",
		Short: "Check configuration, keys and local ports of tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				tunnels, err := resolveTunnels(a, args)
				if err != nil {
					return err
				}
				reports := make([]checkReport, 0, len(tunnels))
				for _, t := range tunnels {
					res := doctor.Check(doctor.Input{
						SSHBinary: s.cfg.SSH.Binary,
						Tunnels:   []model.TunnelConfig{t},
						HasPassword: func(id string) bool {
							_, ok := a.Credentials.Password(id)
							return ok
						},
					})
					ok := true
					for _, issue := range res.Issues {
						if issue.Severity != doctor.SeverityLow {
							ok = false
						}
					}
					reports = append(reports, checkReport{Tunnel: t.DisplayName(), ID: t.ID, OK: ok, Issues: res.Issues})
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					return writeJSON(out, reports)
				}
				for _, r := range reports {
					verdict := "PASS"
					if !r.OK {
						verdict = "FAIL"
					}
					fmt.Fprintf(out, "[%s] %s\n", verdict, r.Tunnel)
					for _, issue := range r.Issues {
						fmt.Fprintf(out, "  - %s %s: %s\n", issue.Severity, issue.Check, issue.Message)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newTunnelShareCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "share <tunnel>",
		Short: "Print the share string of a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), share.Encode(cfg))
				return err
			})
		},
	}
}

func newTunnelCLICmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cli <tunnel>",
		Short: "Print an equivalent plain ssh command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withApp(func(a *app.App) error {
				cfg, err := a.Tunnels.Find(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), share.BuildCLI(cfg))
				return err
			})
		},
	}
}

// resolveTunnels maps refs to tunnels; no refs selects every tunnel.
func resolveTunnels(a *app.App, refs []string) ([]model.TunnelConfig, error) {
	if len(refs) == 0 {
		return a.Tunnels.All(), nil
	}
	out := make([]model.TunnelConfig, 0, len(refs))
	for _, ref := range refs {
		t, err := a.Tunnels.Find(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
