package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/credentials"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/tunnelstore"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// AuditInput lists what Audit inspects.
type AuditInput struct {
	ConfigDir     string
	SSHConfigPath string
	IdentityFiles []string
	RedactErrors  bool
}

// RunLocalAudit gathers the sshtunnel and OpenSSH files of the current user
// and audits them.
func RunLocalAudit() (AuditReport, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return AuditReport{}, err
	}
	cfgDir, err := appconfig.ConfigDir()
	if err != nil {
		return AuditReport{}, err
	}
	in := AuditInput{ConfigDir: cfgDir, SSHConfigPath: cfg.SSH.ConfigPath, RedactErrors: cfg.Security.RedactErrors}

	primary, dir, err := sshconfig.DefaultPaths()
	if err == nil {
		if in.SSHConfigPath == "" {
			in.SSHConfigPath = primary
		}
		if cfg.SSH.ConfigDir != "" {
			dir = cfg.SSH.ConfigDir
		}
		if hosts, err := sshconfig.LoadHosts(sshconfig.ListFiles(in.SSHConfigPath, dir)); err == nil {
			for _, h := range hosts {
				in.IdentityFiles = append(in.IdentityFiles, h.IdentityFile)
			}
		}
	}
	if store, err := tunnelstore.Open(""); err == nil {
		for _, t := range store.All() {
			if t.AuthMethod == model.AuthIdentityFile {
				in.IdentityFiles = append(in.IdentityFiles, t.IdentityFile)
			}
		}
	}
	return Audit(in), nil
}

// Audit checks file permissions and risky settings.
func Audit(in AuditInput) AuditReport {
	var findings []Finding
	if !in.RedactErrors {
		findings = append(findings, Finding{
			Severity:       SeverityLow,
			Target:         "config.yaml",
			Message:        "error messages are shown without path redaction",
			Recommendation: "set security.redact_errors to true",
		})
	}

	home, _ := os.UserHomeDir()
	if in.SSHConfigPath != "" {
		checkPathPerm(&findings, filepath.Dir(in.SSHConfigPath), 0o700, false, SeverityMedium)
		checkPathPerm(&findings, in.SSHConfigPath, 0o600, true, SeverityMedium)
	}

	if in.ConfigDir != "" {
		checkPathPerm(&findings, in.ConfigDir, 0o700, false, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(in.ConfigDir, "config.yaml"), 0o600, true, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(in.ConfigDir, tunnelstore.FileName), 0o600, true, SeverityMedium)
		checkPathPerm(&findings, filepath.Join(in.ConfigDir, tunnelstore.FileName+".bak"), 0o600, true, SeverityMedium)
		// Passwords are stored in plain text.
		checkPathPerm(&findings, filepath.Join(in.ConfigDir, credentials.FileName), 0o600, true, SeverityHigh)
	}

	seen := map[string]struct{}{}
	for _, identity := range in.IdentityFiles {
		identity = strings.TrimSpace(identity)
		if identity == "" {
			continue
		}
		if strings.HasPrefix(identity, "~/") && home != "" {
			identity = filepath.Join(home, identity[2:])
		}
		if _, ok := seen[identity]; ok {
			continue
		}
		seen[identity] = struct{}{}
		checkPathPerm(&findings, identity, 0o600, true, SeverityHigh)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}
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

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool, sev Severity) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode&^max != 0 {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       sev,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
