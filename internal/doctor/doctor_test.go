package doctor

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/tunnelstore"
)

func hasCheck(r Report, check string) bool {
	for _, issue := range r.Issues {
		if issue.Check == check {
			return true
		}
	}
	return false
}

func tunnelWith(id string, rules ...model.ForwardRule) model.TunnelConfig {
	cfg := model.NewTunnelConfig(id, id)
	cfg.Host = "example.com"
	cfg.Username = "bob"
	cfg.Tunnels = rules
	return cfg
}

func writeKey(t *testing.T, dir string, passphrase []byte) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var block *pem.Block
	if passphrase == nil {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", passphrase)
	}
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckDuplicateLocalBind(t *testing.T) {
	a := tunnelWith("api", model.ForwardRule{Type: model.ForwardLocal, LocalPort: 9601, RemoteHost: "localhost", RemotePort: 80})
	b := tunnelWith("db", model.ForwardRule{Type: model.ForwardDynamic, LocalPort: 9601, BindAddress: "127.0.0.1"})
	c := tunnelWith("rev", model.ForwardRule{Type: model.ForwardRemote, LocalPort: 9601, RemoteHost: "localhost", RemotePort: 22})
	report := Check(Input{SSHBinary: "/bin/sh", Tunnels: []model.TunnelConfig{a, b, c}, SkipPortProbe: true})
	count := 0
	for _, issue := range report.Issues {
		if issue.Check == "duplicate-local-bind" {
			count++
			if issue.Target != "127.0.0.1:9601" {
				t.Fatalf("unexpected target %q", issue.Target)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected one duplicate-local-bind issue, got %+v", report.Issues)
	}
}

func TestCheckPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	cfg := tunnelWith("web", model.ForwardRule{Type: model.ForwardLocal, LocalPort: port, RemoteHost: "localhost", RemotePort: 80})
	report := Check(Input{SSHBinary: "/bin/sh", Tunnels: []model.TunnelConfig{cfg}})
	if !hasCheck(report, "port-in-use") {
		t.Fatalf("expected port-in-use issue, got %+v", report.Issues)
	}
}

func TestCheckMissingBinaryIsHigh(t *testing.T) {
	report := Check(Input{SSHBinary: filepath.Join(t.TempDir(), "no-ssh")})
	if len(report.Issues) != 1 || report.Issues[0].Check != "ssh-binary" || report.Issues[0].Severity != SeverityHigh {
		t.Fatalf("unexpected issues: %+v", report.Issues)
	}
}

func TestCheckIdentityFiles(t *testing.T) {
	dir := t.TempDir()
	good := tunnelWith("good")
	good.IdentityFile = writeKey(t, dir, nil)

	encDir := t.TempDir()
	encrypted := tunnelWith("encrypted")
	encrypted.IdentityFile = writeKey(t, encDir, []byte("secret"))

	pub := tunnelWith("pub")
	pub.IdentityFile = filepath.Join(dir, "id_ed25519.pub")
	if err := os.WriteFile(pub.IdentityFile, []byte("ssh-ed25519 AAAA test"), 0o644); err != nil {
		t.Fatal(err)
	}

	missing := tunnelWith("missing")
	missing.IdentityFile = filepath.Join(dir, "nope")

	report := Check(Input{SSHBinary: "/bin/sh", Tunnels: []model.TunnelConfig{good, encrypted, pub, missing}, SkipPortProbe: true})
	targets := map[string]string{}
	for _, issue := range report.Issues {
		targets[issue.Target] = issue.Check
	}
	if _, ok := targets["good"]; ok {
		t.Fatalf("valid key reported: %+v", report.Issues)
	}
	if _, ok := targets["encrypted"]; ok {
		t.Fatalf("encrypted key reported: %+v", report.Issues)
	}
	if targets["pub"] != "identity-invalid" {
		t.Fatalf("expected identity-invalid for public key, got %+v", report.Issues)
	}
	if targets["missing"] != "identity-unreadable" {
		t.Fatalf("expected identity-unreadable, got %+v", report.Issues)
	}
	if report.Issues[0].Severity != SeverityHigh {
		t.Fatal("issues must be sorted by severity")
	}
}

func TestCheckPasswordAndDuplicateKeys(t *testing.T) {
	pw := tunnelWith("pw")
	pw.AuthMethod = model.AuthPassword
	stored := tunnelWith("stored")
	stored.AuthMethod = model.AuthPassword
	entries := sshconfig.Parse("Host a\n    User x\n    user y\n", "/tmp/config")

	report := Check(Input{
		SSHBinary:     "/bin/sh",
		Tunnels:       []model.TunnelConfig{pw, stored},
		Entries:       entries,
		HasPassword:   func(id string) bool { return id == "stored" },
		SkipPortProbe: true,
	})
	var pwIssues, dupIssues int
	for _, issue := range report.Issues {
		switch issue.Check {
		case "password-missing":
			pwIssues++
			if issue.Target != "pw" {
				t.Fatalf("unexpected target %q", issue.Target)
			}
		case "config-duplicate-key":
			dupIssues++
			if issue.Severity != SeverityLow {
				t.Fatalf("duplicate keys should be low severity")
			}
		}
	}
	if pwIssues != 1 || dupIssues != 1 {
		t.Fatalf("unexpected issues: %+v", report.Issues)
	}
}

func TestRunJSONShape(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte("Host api\n  HostName 127.0.0.1\n  Port 22\n  port 2222\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := tunnelstore.Open("")
	if err != nil {
		t.Fatal(err)
	}
	pw := tunnelWith("pw")
	pw.ID = ""
	pw.AuthMethod = model.AuthPassword
	if _, err := store.Add(pw); err != nil {
		t.Fatal(err)
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCheck(report, "password-missing") || !hasCheck(report, "config-duplicate-key") {
		t.Fatalf("expected password and duplicate key issues, got %+v", report.Issues)
	}
	b, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["issues"]; !ok {
		t.Fatalf("expected issues key in json output: %s", string(b))
	}
}
