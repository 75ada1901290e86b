package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/share"
	"github.com/treykane/sshtunnel/internal/tunnel"
)

// formMode distinguishes between the mode-select, quick, full and import screens.
type formMode int

const (
	formModeSelect formMode = iota
	formModeQuick
	formModeFull
	formModeImport
)

// Field indices for the full tunnel form.
const (
	fieldName = iota
	fieldHost
	fieldUser
	fieldPort
	fieldIdentityFile
	fieldLocal
	fieldRemote
	fieldDynamic
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	tunnel  model.TunnelConfig
	connect bool // true = connect right after saving
}

// tunnelForm holds all state for the "new tunnel" screens.
type tunnelForm struct {
	mode    formMode
	modeSel int

	quickInput  textinput.Model
	importInput textinput.Model

	fields   []textinput.Model
	focusIdx int

	autoConnect bool
	password    bool

	errMsg string
}

// newForm creates an initialized form starting at mode selection.
func newForm() *tunnelForm {
	f := &tunnelForm{mode: formModeSelect}

	qi := textinput.New()
	qi.Placeholder = "user@host:port [localPort:remoteHost:remotePort ...]"
	qi.CharLimit = 512
	qi.Width = 60
	f.quickInput = qi

	ii := textinput.New()
	ii.Placeholder = share.Scheme + "..."
	ii.CharLimit = 4096
	ii.Width = 60
	f.importInput = ii

	placeholders := []string{
		"production db (optional)",
		"db.example.com (required)",
		"deploy",
		"22 (default)",
		"~/.ssh/id_ed25519 (optional)",
		"5432:localhost:5432, 127.0.0.1:8080:web:80",
		"9000:localhost:3000",
		"1080",
	}
	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 256
		ti.Width = 44
		f.fields[i] = ti
	}
	return f
}

// newImportForm opens the form directly on the share-string prompt.
func newImportForm() (*tunnelForm, tea.Cmd) {
	f := newForm()
	f.mode = formModeImport
	f.importInput.Focus()
	return f, f.importInput.Cursor.BlinkCmd()
}

// update processes a key message and returns a formResult if the form is complete.
func (f *tunnelForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch f.mode {
	case formModeSelect:
		return f.updateModeSelect(msg)
	case formModeQuick:
		return f.updateQuick(msg)
	case formModeFull:
		return f.updateFull(msg)
	case formModeImport:
		return f.updateImport(msg)
	}
	return nil, nil
}

func (f *tunnelForm) updateModeSelect(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if f.modeSel < 2 {
			f.modeSel++
		}
	case "k", "up":
		if f.modeSel > 0 {
			f.modeSel--
		}
	case "enter":
		switch f.modeSel {
		case 0:
			f.mode = formModeQuick
			f.quickInput.Focus()
			return nil, f.quickInput.Cursor.BlinkCmd()
		case 1:
			f.mode = formModeFull
			f.focusIdx = 0
			f.fields[0].Focus()
			return nil, f.fields[0].Cursor.BlinkCmd()
		default:
			f.mode = formModeImport
			f.importInput.Focus()
			return nil, f.importInput.Cursor.BlinkCmd()
		}
	}
	return nil, nil
}

func (f *tunnelForm) updateQuick(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	if msg.String() == "enter" {
		cfg, err := parseQuickConnect(f.quickInput.Value())
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{tunnel: cfg, connect: true}, nil
	}
	var cmd tea.Cmd
	f.quickInput, cmd = f.quickInput.Update(msg)
	f.errMsg = ""
	return nil, cmd
}

func (f *tunnelForm) updateImport(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	if msg.String() == "enter" {
		// Pasting into a single-line input turns the rule lines into spaces.
		cfg, err := share.Decode(strings.Join(strings.Fields(f.importInput.Value()), "\n"))
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{tunnel: cfg}, nil
	}
	var cmd tea.Cmd
	f.importInput, cmd = f.importInput.Update(msg)
	f.errMsg = ""
	return nil, cmd
}

func (f *tunnelForm) updateFull(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "ctrl+a":
		f.autoConnect = !f.autoConnect
		return nil, nil
	case "ctrl+p":
		f.password = !f.password
		return nil, nil
	case "enter":
		cfg, err := f.buildTunnel()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{tunnel: cfg}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *tunnelForm) value(i int) string {
	return strings.TrimSpace(f.fields[i].Value())
}

func (f *tunnelForm) buildTunnel() (model.TunnelConfig, error) {
	cfg := model.NewTunnelConfig("", f.value(fieldName))
	cfg.Host = f.value(fieldHost)
	cfg.Username = f.value(fieldUser)
	cfg.IdentityFile = f.value(fieldIdentityFile)
	cfg.AutoConnect = f.autoConnect
	if f.password {
		cfg.AuthMethod = model.AuthPassword
		cfg.IdentityFile = ""
	}
	if cfg.Host == "" {
		return model.TunnelConfig{}, fmt.Errorf("host is required")
	}
	if p := f.value(fieldPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return model.TunnelConfig{}, fmt.Errorf("port must be 1-65535")
		}
		cfg.Port = uint16(port)
	}

	kinds := map[int]model.ForwardType{
		fieldLocal:   model.ForwardLocal,
		fieldRemote:  model.ForwardRemote,
		fieldDynamic: model.ForwardDynamic,
	}
	for _, i := range []int{fieldLocal, fieldRemote, fieldDynamic} {
		rules, err := parseRuleList(kinds[i], f.value(i))
		if err != nil {
			return model.TunnelConfig{}, err
		}
		cfg.Tunnels = append(cfg.Tunnels, rules...)
	}
	return cfg, cfg.Validate()
}

// parseRuleList parses a comma separated list of forward specs.
func parseRuleList(kind model.ForwardType, s string) ([]model.ForwardRule, error) {
	var rules []model.ForwardRule
	for _, spec := range strings.Split(s, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		r, err := tunnel.ParseForwardArg(kind, spec)
		if err != nil {
			return nil, fmt.Errorf("%s forward %q: %w", kind, spec, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// view renders the form panel.
func (f *tunnelForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	switch f.mode {
	case formModeSelect:
		return renderPanel("New Tunnel", f.modeSelectView(), width, accent)
	case formModeQuick:
		return renderPanel("Quick Tunnel", f.quickView(), width, accent)
	case formModeFull:
		return renderPanel("New Tunnel - Full Config", f.fullView(), width, accent)
	case formModeImport:
		return renderPanel("Import Share String", f.importView(), width, accent)
	}
	return ""
}

func (f *tunnelForm) modeSelectView() string {
	var b strings.Builder
	b.WriteString("Choose how to create the tunnel:\n\n")
	options := []struct {
		label string
		desc  string
	}{
		{"Quick", "user@host:port plus local forwards, connect immediately"},
		{"Full Config", "every field, forward type and auth option"},
		{"Import", "paste a " + share.Scheme + " share string"},
	}
	for i, opt := range options {
		cursor := "  "
		if i == f.modeSel {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s[%s]  %s\n", cursor, opt.label, opt.desc))
	}
	b.WriteString("\nj/k to select, Enter to confirm, Esc to cancel")
	return b.String()
}

func (f *tunnelForm) quickView() string {
	var b strings.Builder
	b.WriteString("Destination and forwards:\n\n")
	b.WriteString("  " + f.quickInput.View() + "\n\n")
	b.WriteString("Forwards: localPort:remoteHost:remotePort (local) | port (dynamic)\n")
	b.WriteString(f.errorLine())
	b.WriteString("\nEnter to save and connect, Esc to cancel")
	return b.String()
}

func (f *tunnelForm) importView() string {
	var b strings.Builder
	b.WriteString("Share string:\n\n")
	b.WriteString("  " + f.importInput.View() + "\n")
	b.WriteString(f.errorLine())
	b.WriteString("\nEnter to import, Esc to cancel")
	return b.String()
}

func (f *tunnelForm) fullView() string {
	labels := []string{"Name:", "Host:", "User:", "Port:", "IdentityFile:", "Local (-L):", "Remote (-R):", "Dynamic (-D):"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-14s %s\n", cursor, label, f.fields[i].View()))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  [%s] Auto-connect on start   [%s] Password auth\n", mark(f.autoConnect), mark(f.password)))
	b.WriteString(f.errorLine())
	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+A auto-connect | Ctrl+P password | Enter save | Esc cancel")
	return b.String()
}

func (f *tunnelForm) errorLine() string {
	if f.errMsg == "" {
		return ""
	}
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	return "\n" + errStyle.Render("Error: "+f.errMsg) + "\n"
}

func mark(on bool) string {
	if on {
		return "x"
	}
	return " "
}

// parseQuickConnect parses "destination [forward...]" into a tunnel config.
// The destination is hostname, user@hostname, hostname:port or
// user@hostname:port. Forwards with three or four fields are local rules,
// with one or two fields dynamic rules.
func parseQuickConnect(input string) (model.TunnelConfig, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return model.TunnelConfig{}, fmt.Errorf("destination cannot be empty")
	}
	dest := parts[0]
	cfg := model.NewTunnelConfig("", "")

	if atIdx := strings.Index(dest, "@"); atIdx > 0 {
		cfg.Username = dest[:atIdx]
		dest = dest[atIdx+1:]
	}
	if colonIdx := strings.LastIndex(dest, ":"); colonIdx > 0 {
		if port, err := strconv.Atoi(dest[colonIdx+1:]); err == nil && port > 0 && port <= 65535 {
			cfg.Port = uint16(port)
			dest = dest[:colonIdx]
		}
	}
	if dest == "" {
		return model.TunnelConfig{}, fmt.Errorf("hostname cannot be empty")
	}
	cfg.Host = dest
	cfg.Name = dest

	for _, spec := range parts[1:] {
		kind := model.ForwardLocal
		if strings.Count(spec, ":") < 2 {
			kind = model.ForwardDynamic
		}
		r, err := tunnel.ParseForwardArg(kind, spec)
		if err != nil {
			return model.TunnelConfig{}, fmt.Errorf("forward %q: %w", spec, err)
		}
		cfg.Tunnels = append(cfg.Tunnels, r)
	}
	return cfg, nil
}
