// Package doctor runs local diagnostics for sshtunnel: the ssh binary,
// forwarding ports, identity keys, stored credentials and ssh config quality.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/credentials"
	"github.com/treykane/sshtunnel/internal/keystage"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/security"
	"github.com/treykane/sshtunnel/internal/sshclient"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/tunnel"
	"github.com/treykane/sshtunnel/internal/tunnelstore"
	"github.com/treykane/sshtunnel/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Input is everything Check inspects. Run fills it from the local files.
type Input struct {
	SSHBinary   string
	Tunnels     []model.TunnelConfig
	Entries     []sshconfig.Entry
	HasPassword func(tunnelID string) bool
	// SkipPortProbe disables binding the local ports of each tunnel.
	SkipPortProbe bool
	Audit         security.AuditReport
}

// Run executes local diagnostics for sshtunnel operations.
func Run() (Report, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return Report{}, err
	}
	in := Input{SSHBinary: cfg.SSH.Binary}

	store, err := tunnelstore.Open("")
	if err != nil {
		return Report{}, err
	}
	in.Tunnels = store.All()

	if creds, err := credentials.Open(""); err == nil {
		in.HasPassword = func(id string) bool {
			_, ok := creds.Password(id)
			return ok
		}
	}

	primary, dir, err := sshconfig.DefaultPaths()
	if err == nil {
		if cfg.SSH.ConfigPath != "" {
			primary = cfg.SSH.ConfigPath
		}
		if cfg.SSH.ConfigDir != "" {
			dir = cfg.SSH.ConfigDir
		}
		if cs, err := sshconfig.NewStore(primary, dir); err == nil && cs.Load() == nil {
			in.Entries = cs.Entries()
		}
	}

	if audit, err := security.RunLocalAudit(); err == nil {
		in.Audit = audit
	}
	return Check(in), nil
}

// Check runs every diagnostic over in and returns the issues sorted by
// severity, then check name and target.
func Check(in Input) Report {
	var issues []Issue

	if _, err := sshclient.EnsureSSHBinary(in.SSHBinary); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "ssh-binary",
			Target:         util.DefaultString(in.SSHBinary, "PATH"),
			Message:        err.Error(),
			Recommendation: "install the OpenSSH client or set ssh.binary in config.yaml",
		})
	}

	issues = append(issues, duplicateBindIssues(in.Tunnels)...)
	for _, t := range in.Tunnels {
		issues = append(issues, tunnelIssues(t, in)...)
	}
	for _, e := range in.Entries {
		if dups := e.DuplicateKeys(); len(dups) > 0 {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "config-duplicate-key",
				Target:         e.Host,
				Message:        fmt.Sprintf("directives repeated in one block: %s", strings.Join(dups, ", ")),
				Recommendation: "ssh uses the first value; remove the later duplicates",
			})
		}
	}

	for _, f := range in.Audit.Findings {
		sev := SeverityLow
		if f.Severity == security.SeverityMedium {
			sev = SeverityMedium
		}
		if f.Severity == security.SeverityHigh {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{
			Severity:       sev,
			Check:          "security-audit",
			Target:         f.Target,
			Message:        f.Message,
			Recommendation: f.Recommendation,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}
}

func tunnelIssues(t model.TunnelConfig, in Input) []Issue {
	var issues []Issue
	name := t.DisplayName()
	if err := t.Validate(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "tunnel-invalid",
			Target:         name,
			Message:        err.Error(),
			Recommendation: "fix the tunnel with `sshtunnel tunnel edit`",
		})
	}
	if !in.SkipPortProbe {
		for _, c := range tunnel.CheckPortConflicts(t) {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "port-in-use",
				Target:         fmt.Sprintf("%s:%d", name, c.Port),
				Message:        c.String(),
				Recommendation: "stop the process holding the port or pick another local port",
			})
		}
	}
	switch t.AuthMethod {
	case model.AuthPassword:
		if in.HasPassword != nil && !in.HasPassword(t.ID) {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "password-missing",
				Target:         name,
				Message:        "password authentication is selected but no password is stored",
				Recommendation: "run `sshtunnel tunnel password " + name + "`",
			})
		}
	case model.AuthIdentityFile:
		if strings.TrimSpace(t.IdentityFile) != "" {
			issues = append(issues, keyIssues(name, t.IdentityFile)...)
		}
	}
	return issues
}

// keyIssues reads an identity file and checks that it parses as a private
// key. Encrypted keys are accepted: ssh prompts for the passphrase.
func keyIssues(target, path string) []Issue {
	path = expandHome(path)
	var issues []Issue
	if keystage.IsNetworkPath(path) {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "identity-network-path",
			Target:         target,
			Message:        "identity file is on a network share and is copied locally before each connect",
			Recommendation: "keep the key on a local disk to skip staging",
		})
	}
	b, err := os.ReadFile(path)
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "identity-unreadable",
			Target:         target,
			Message:        security.RedactMessage(err.Error()),
			Recommendation: "check the identityFile path of the tunnel",
		})
		return issues
	}
	if _, err := ssh.ParsePrivateKey(b); err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return issues
		}
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Check:          "identity-invalid",
			Target:         target,
			Message:        fmt.Sprintf("identity file is not a usable private key: %v", err),
			Recommendation: "point the tunnel at the private key, not the .pub file",
		})
	}
	return issues
}

func duplicateBindIssues(tunnels []model.TunnelConfig) []Issue {
	seen := map[string][]string{}
	for _, t := range tunnels {
		for _, r := range t.Tunnels {
			if r.Type == model.ForwardRemote || r.LocalPort == 0 {
				continue
			}
			key := fmt.Sprintf("%s:%d", util.NormalizeAddr(r.BindAddress, "127.0.0.1"), r.LocalPort)
			seen[key] = append(seen[key], t.DisplayName())
		}
	}
	var issues []Issue
	for bind, refs := range seen {
		if len(refs) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is used by %d forwards (%s)", len(refs), strings.Join(refs, ", ")),
			Recommendation: "use unique local ports to avoid tunnel startup conflicts",
		})
	}
	return issues
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
