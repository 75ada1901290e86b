// Package ui implements the sshtunnel dashboard: a tunnel list with live
// state and logs, and an editor view of the ssh config entries.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/treykane/sshtunnel/internal/app"
	"github.com/treykane/sshtunnel/internal/history"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/security"
	"github.com/treykane/sshtunnel/internal/share"
	"github.com/treykane/sshtunnel/internal/sshclient"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/status"
	"github.com/treykane/sshtunnel/internal/tunnel"
	"github.com/treykane/sshtunnel/internal/util"
)

type view int

const (
	viewTunnels view = iota
	viewConfig
)

type tickMsg time.Time

// changedMsg is sent when a store, the registry or a tunnel log changed.
type changedMsg struct{}

type statusMsg string

// shellDoneMsg ends an interactive ssh session started from the dashboard.
type shellDoneMsg struct {
	tunnelID string
	err      error
}

type dashboardModel struct {
	app *app.App

	view       view
	all        []model.TunnelConfig
	filtered   []model.TunnelConfig
	sel        int
	filter     string
	filterMode bool
	// recentFirst orders tunnels by last successful connection.
	recentFirst bool
	last        map[string]int64

	entries []sshconfig.Entry
	cfgSel  int

	form     *tunnelForm
	logView  viewport.Model
	showHelp bool
	status   string
	width    int
	height   int

	changes chan struct{}
	stops   []func()
}

func newDashboard(a *app.App) dashboardModel {
	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	m := dashboardModel{
		app:     a,
		logView: viewport.New(80, 8),
		changes: changes,
	}
	m.stops = append(m.stops,
		a.Tunnels.Subscribe(notify),
		a.SSHConfig.Subscribe(notify),
		a.Registry.Subscribe(func(status.Change) { notify() }),
		a.Manager.SubscribeLogs(func(string) { notify() }),
	)
	m.reload()
	m.status = "Ready. Enter toggles the selected tunnel, n adds one, Tab switches to ssh config."
	return m
}

func (m *dashboardModel) close() {
	for _, stop := range m.stops {
		stop()
	}
}

func (m *dashboardModel) reload() {
	m.all = m.app.Tunnels.All()
	m.entries = m.app.SSHConfig.Entries()
	if m.cfgSel >= len(m.entries) {
		m.cfgSel = len(m.entries) - 1
	}
	if m.cfgSel < 0 {
		m.cfgSel = 0
	}
	m.applyFilter()
	m.refreshLog()
}

func (m *dashboardModel) applyFilter() {
	tunnels := m.all
	if m.recentFirst {
		last, err := history.LastConnected()
		if err != nil {
			slog.Warn("failed to read tunnel history", "error", err)
		}
		m.last = last
		tunnels = history.SortRecent(tunnels, last)
	}
	f := strings.ToLower(strings.TrimSpace(m.filter))
	m.filtered = nil
	for _, t := range tunnels {
		if f == "" || strings.Contains(strings.ToLower(t.DisplayName()), f) || strings.Contains(strings.ToLower(t.Host), f) {
			m.filtered = append(m.filtered, t)
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m *dashboardModel) selected() (model.TunnelConfig, bool) {
	if len(m.filtered) == 0 {
		return model.TunnelConfig{}, false
	}
	return m.filtered[m.sel], true
}

func (m *dashboardModel) selectedEntry() (sshconfig.Entry, bool) {
	if len(m.entries) == 0 {
		return sshconfig.Entry{}, false
	}
	return m.entries[m.cfgSel], true
}

func (m *dashboardModel) refreshLog() {
	t, ok := m.selected()
	if !ok {
		m.logView.SetContent("")
		return
	}
	m.logView.SetContent(strings.Join(m.app.Manager.LogLines(t.ID), "\n"))
	m.logView.GotoBottom()
}

func (m *dashboardModel) errorText(err error) string {
	return security.UserMessage(err, m.app.Config.Security.RedactErrors)
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.app.Config.UI.RefreshSeconds), waitForChange(m.changes))
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.reload()
		return m, tickCmd(m.app.Config.UI.RefreshSeconds)
	case changedMsg:
		m.reload()
		return m, waitForChange(m.changes)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = m.effectiveWidth() - 4
		m.logView.Height = logHeight(msg.Height)
		m.refreshLog()
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case shellDoneMsg:
		if msg.tunnelID != "" && !m.app.Manager.State(msg.tunnelID).IsActive() {
			m.app.Stager.Cleanup(msg.tunnelID)
		}
		if msg.err != nil {
			m.status = "ssh exited: " + m.errorText(msg.err)
		} else {
			m.status = "ssh session closed"
		}
		return m, nil
	case tea.KeyMsg:
		if m.form != nil {
			return m.updateForm(msg)
		}
		if m.filterMode {
			return m.updateFilter(msg), nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.view == viewTunnels {
				m.view = viewConfig
			} else {
				m.view = viewTunnels
			}
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		case "r":
			if err := m.app.SSHConfig.Load(); err != nil {
				m.status = "ssh config reload failed: " + m.errorText(err)
			} else {
				m.status = "Reloaded ssh config and tunnel state"
			}
			m.reload()
			return m, nil
		}
		if m.view == viewConfig {
			return m.updateConfig(msg)
		}
		return m.updateTunnels(msg)
	}
	return m, nil
}

func (m dashboardModel) updateFilter(msg tea.KeyMsg) dashboardModel {
	switch msg.String() {
	case "enter", "esc":
		m.filterMode = false
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	default:
		if len(msg.String()) == 1 {
			m.filter += msg.String()
		}
	}
	m.applyFilter()
	m.refreshLog()
	return m
}

func (m dashboardModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.form = nil
		m.status = "Cancelled"
		return m, nil
	}
	res, cmd := m.form.update(msg)
	if res == nil {
		return m, cmd
	}
	m.form = nil
	added, err := m.app.Tunnels.Add(res.tunnel)
	if err != nil {
		m.status = "Save failed: " + m.errorText(err)
		return m, nil
	}
	m.status = "Saved tunnel " + added.DisplayName()
	if res.connect {
		m.connect(added)
	}
	m.reload()
	return m, nil
}

func (m *dashboardModel) connect(t model.TunnelConfig) {
	if conflicts := tunnel.CheckPortConflicts(t); len(conflicts) > 0 {
		var ports []string
		for _, c := range conflicts {
			ports = append(ports, fmt.Sprint(c.Port))
		}
		m.status = fmt.Sprintf("Warning: local port(s) %s already in use; connecting %s anyway", strings.Join(ports, ", "), t.DisplayName())
	} else {
		m.status = "Connecting " + t.DisplayName()
	}
	m.app.Manager.Connect(t)
}

func (m dashboardModel) updateTunnels(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if m.sel < len(m.filtered)-1 {
			m.sel++
			m.refreshLog()
		}
	case "k", "up":
		if m.sel > 0 {
			m.sel--
			m.refreshLog()
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "o":
		m.recentFirst = !m.recentFirst
		m.applyFilter()
		m.refreshLog()
	case "n":
		m.form = newForm()
	case "i":
		f, cmd := newImportForm()
		m.form = f
		return m, cmd
	case "D":
		m.app.Manager.DisconnectAll()
		m.status = "Disconnecting all tunnels"
	}

	t, ok := m.selected()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "enter", "t":
		if m.app.Manager.State(t.ID).IsActive() {
			m.app.Manager.Disconnect(t.ID)
			m.status = "Disconnecting " + t.DisplayName()
		} else {
			m.connect(t)
		}
	case "x":
		m.app.Manager.ClearLog(t.ID)
		m.status = "Cleared log of " + t.DisplayName()
	case "s":
		m.status = "Share string:\n" + share.Encode(t)
	case "c":
		m.status = "Command line:\n" + share.BuildCLI(t)
	case "S":
		args := sshclient.InteractiveArgs(t, m.app.Stager.Resolve)
		cmd := exec.Command(m.app.SSHBinary(), args...)
		id := t.ID
		return m, tea.ExecProcess(cmd, func(err error) tea.Msg {
			return shellDoneMsg{tunnelID: id, err: err}
		})
	}
	return m, nil
}

func (m dashboardModel) updateConfig(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if m.cfgSel < len(m.entries)-1 {
			m.cfgSel++
		}
		return m, nil
	case "k", "up":
		if m.cfgSel > 0 {
			m.cfgSel--
		}
		return m, nil
	}

	e, ok := m.selectedEntry()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "c":
		if err := m.app.SSHConfig.ToggleComment(e.ID); err != nil {
			m.status = "Toggle failed: " + m.errorText(err)
		} else if e.Commented {
			m.status = "Enabled Host " + e.Host
		} else {
			m.status = "Commented out Host " + e.Host
		}
	case "J", "K":
		dir := 1
		if msg.String() == "K" {
			dir = -1
		}
		before := m.cfgSel
		if err := m.app.SSHConfig.MoveEntry(e.ID, dir); err != nil {
			m.status = "Move failed: " + m.errorText(err)
			break
		}
		m.reload()
		for i, cur := range m.entries {
			if cur.ID == e.ID {
				m.cfgSel = i
			}
		}
		if m.cfgSel == before {
			m.status = "Host " + e.Host + " is already at the edge of " + filepath.Base(e.SourceFile)
		} else {
			m.status = "Moved Host " + e.Host
		}
		return m, nil
	case "enter":
		if e.Commented {
			m.status = "Host " + e.Host + " is commented out"
			return m, nil
		}
		cmd := exec.Command(m.app.SSHBinary(), e.Host)
		return m, tea.ExecProcess(cmd, func(err error) tea.Msg {
			return shellDoneMsg{err: err}
		})
	}
	m.reload()
	return m, nil
}

func (m dashboardModel) View() string {
	if m.form != nil {
		return m.form.view(m.renderPanel, m.effectiveWidth())
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("SSH Tunnel Dashboard")
	active := len(m.app.Registry.ActiveIDs())
	subhead := fmt.Sprintf("tunnels=%d active=%d hosts=%d refresh=%ds", len(m.all), active, len(m.entries), clampRefresh(m.app.Config.UI.RefreshSeconds))

	var body []string
	if m.view == viewConfig {
		body = append(body, "Keys: j/k move | c comment/uncomment | J/K reorder | Enter ssh | Tab tunnels | ? help | q quit")
		body = append(body, m.renderMainPanels("SSH Config", m.entryList(), "Entry", m.entryDetail()))
	} else {
		filterLine := fmt.Sprintf("Filter: %s", m.filter)
		if m.filterMode {
			filterLine += " (typing...)"
		}
		if m.recentFirst {
			filterLine += "  [recent first]"
		}
		body = append(body, filterLine)
		body = append(body, "Keys: Enter/t toggle | n new | i import | s share | c command | S shell | x clear log | Tab ssh config | ? help | q quit")
		body = append(body, m.renderMainPanels("Tunnels", m.tunnelList(), "Details", m.tunnelDetail()))
		body = append(body, m.renderPanel("Log", m.logView.View(), m.effectiveWidth(), lipgloss.Color("63")))
	}
	if m.showHelp {
		body = append(body, m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244")))
	}
	body = append(body, m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205")))
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{head, subhead}, body...)...)
}

func stateStyle(state model.ConnectionState) lipgloss.Style {
	color := lipgloss.Color("244")
	switch state {
	case model.Connected:
		color = lipgloss.Color("42")
	case model.Connecting:
		color = lipgloss.Color("214")
	case model.Error:
		color = lipgloss.Color("196")
	}
	return lipgloss.NewStyle().Foreground(color)
}

func (m dashboardModel) tunnelList() string {
	var b strings.Builder
	for i, t := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		state := m.app.Registry.Get(t.ID)
		b.WriteString(fmt.Sprintf("%s %s %-24s %s\n", cursor, stateStyle(state).Render("●"), t.DisplayName(), state))
	}
	if len(m.filtered) == 0 {
		b.WriteString("  (no tunnels; press n to add one)\n")
	}
	return b.String()
}

func (m dashboardModel) tunnelDetail() string {
	t, ok := m.selected()
	if !ok {
		return "Pick a tunnel to see its forwards and state.\n"
	}
	st := m.app.Registry.Status(t.ID)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Target: %s:%d\nAuth: %s\n", t.Target(), t.Port, t.AuthMethod))
	if t.AuthMethod == model.AuthIdentityFile {
		b.WriteString(fmt.Sprintf("Key: %s\n", util.EmptyDash(t.IdentityFile)))
	}
	b.WriteString(fmt.Sprintf("State: %s\n", stateStyle(st.State).Render(string(st.State))))
	if !st.Changed.IsZero() {
		b.WriteString(fmt.Sprintf("Changed: %s\n", humanize.Time(st.Changed)))
	}
	if ts, ok := m.last[t.ID]; ok && ts > 0 {
		b.WriteString(fmt.Sprintf("Last connected: %s\n", humanize.Time(time.Unix(ts, 0))))
	}
	if st.HasExit {
		b.WriteString(fmt.Sprintf("Exit code: %d\n", st.ExitCode))
	}
	if st.Error != "" {
		b.WriteString("Error: " + security.RedactMessage(st.Error) + "\n")
	}
	b.WriteString("Forwards:\n")
	if len(t.Tunnels) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range t.Tunnels {
		b.WriteString(fmt.Sprintf("  %s %s\n", r.Type.Flag(), r.Argument()))
	}
	return b.String()
}

func (m dashboardModel) entryList() string {
	var b strings.Builder
	for i, e := range m.entries {
		cursor := " "
		if i == m.cfgSel {
			cursor = ">"
		}
		marker := " "
		if e.Commented {
			marker = "#"
		}
		b.WriteString(fmt.Sprintf("%s[%s] %-24s %s\n", cursor, marker, e.Host, filepath.Base(e.SourceFile)))
	}
	if len(m.entries) == 0 {
		b.WriteString("  (no Host blocks found)\n")
	}
	return b.String()
}

func (m dashboardModel) entryDetail() string {
	e, ok := m.selectedEntry()
	if !ok {
		return "Pick a Host block to inspect it.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("File: %s\n", e.SourceFile))
	if e.Commented {
		b.WriteString("Commented out\n")
	}
	if e.Comment != "" {
		b.WriteString(e.Comment + "\n")
	}
	b.WriteString("Host " + e.Host + "\n")
	for _, d := range e.Directives {
		b.WriteString(fmt.Sprintf("  %s %s\n", d.Key, d.Value))
	}
	if dups := e.DuplicateKeys(); len(dups) > 0 {
		b.WriteString("Repeated keys: " + strings.Join(dups, ", ") + "\n")
	}
	return b.String()
}

// Run opens the dashboard, connecting auto-connect tunnels first. When the
// dashboard closes, tunnels flagged disconnectOnQuit are stopped.
func Run(a *app.App) error {
	if _, err := sshclient.EnsureSSHBinary(a.Config.SSH.Binary); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := a.SSHConfig.Watch(ctx); err != nil {
			slog.Debug("ssh config watch stopped", "error", err)
		}
	}()

	m := newDashboard(a)
	defer m.close()
	a.AutoConnect()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	a.Shutdown()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func logHeight(total int) int {
	h := total / 4
	if h < 4 {
		return 4
	}
	return h
}

func (m dashboardModel) renderMainPanels(leftTitle, left, rightTitle, right string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel(leftTitle, left, width, lipgloss.Color("39")),
			m.renderPanel(rightTitle, right, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel(leftTitle, left, leftWidth, lipgloss.Color("39")),
		m.renderPanel(rightTitle, right, rightWidth, lipgloss.Color("69")),
	)
}

func (m dashboardModel) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection, Tab switches between tunnels and ssh config.",
		"  Tunnels: Enter or t connects/disconnects, D disconnects all, o sorts by last connection.",
		"  Adding: n opens the new-tunnel form, i imports a " + share.Scheme + " share string.",
		"  Sharing: s shows the share string, c the equivalent ssh command line.",
		"  Logs: PgUp/PgDn scroll the log of the selected tunnel, x clears it.",
		"  SSH config: c comments a Host block in or out, J/K move it within its file.",
		"  Quit: q (or Ctrl+C); tunnels with disconnect-on-quit are stopped.",
	}, "\n")
}

func (m dashboardModel) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m dashboardModel) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
