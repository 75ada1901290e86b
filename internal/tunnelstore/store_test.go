package tunnelstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/juju/errors"

	"github.com/treykane/sshtunnel/internal/model"
)

func sampleConfig(name string) model.TunnelConfig {
	cfg := model.NewTunnelConfig("", name)
	cfg.Host = "example.com"
	cfg.Username = "bob"
	cfg.Tunnels = []model.ForwardRule{
		{Type: model.ForwardLocal, LocalPort: 8080, RemoteHost: "localhost", RemotePort: 80},
		{Type: model.ForwardDynamic, LocalPort: 1080},
	}
	return cfg
}

func TestOpenDefaultPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Path() != filepath.Join(xdg, "sshtunnel", FileName) {
		t.Fatalf("unexpected path %s", s.Path())
	}
	if len(s.All()) != 0 {
		t.Fatalf("expected empty store, got %+v", s.All())
	}
}

func TestAddPersistsJSONAndBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := s.Add(sampleConfig("web"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ID == "" || cfg.Tunnels[0].ID == "" || cfg.Tunnels[1].ID == "" {
		t.Fatalf("expected ids to be assigned: %+v", cfg)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 || raw[0]["authMethod"] != "identityFile" || raw[0]["disconnectOnQuit"] != true {
		t.Fatalf("unexpected persisted shape: %s", b)
	}
	rules := raw[0]["tunnels"].([]any)
	if rules[0].(map[string]any)["localPort"] != float64(8080) {
		t.Fatalf("unexpected rule shape: %s", b)
	}

	backup, err := os.ReadFile(s.BackupPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(backup) != string(b) {
		t.Fatal("backup differs from main file")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("unexpected mode %o", info.Mode().Perm())
		}
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "web" || len(got.Tunnels) != 2 {
		t.Fatalf("unexpected reloaded config: %+v", got)
	}
}

func TestOpenRestoresFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := s.Add(sampleConfig("web"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	restored, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := restored.Get(cfg.ID); err != nil {
		t.Fatalf("expected tunnel restored from backup: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected main file to be rewritten: %v", err)
	}
}

func TestOpenCorruptFileFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(sampleConfig("web")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.All()) != 1 {
		t.Fatalf("expected backup contents, got %+v", reopened.All())
	}
}

func TestUpdateDeleteAndErrors(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := s.Add(sampleConfig("web"))
	if err != nil {
		t.Fatal(err)
	}

	cfg.Port = 2222
	if err := s.Update(cfg); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(cfg.ID); got.Port != 2222 {
		t.Fatalf("update not applied: %+v", got)
	}

	bad := cfg
	bad.Host = ""
	if err := s.Update(bad); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected not valid, got %v", err)
	}
	if err := s.Update(model.TunnelConfig{ID: "missing", Host: "h", AuthMethod: model.AuthPassword}); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Add(cfg); !errors.Is(err, errors.AlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	if err := s.Delete(cfg.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(cfg.ID); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatalf("expected empty store, got %+v", s.All())
	}
}

func TestFindAndDuplicate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatal(err)
	}
	web, err := s.Add(sampleConfig("Web"))
	if err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{web.ID, "web", web.ID[:8]} {
		got, err := s.Find(ref)
		if err != nil {
			t.Fatalf("find %q: %v", ref, err)
		}
		if got.ID != web.ID {
			t.Fatalf("find %q returned %s", ref, got.ID)
		}
	}
	if _, err := s.Find("nope"); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	dup, err := s.Duplicate(web.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if dup.ID == web.ID || dup.Tunnels[0].ID == web.Tunnels[0].ID {
		t.Fatal("duplicate must get fresh ids")
	}
	if dup.Name != "Web copy" || dup.Host != web.Host || len(dup.Tunnels) != 2 {
		t.Fatalf("unexpected duplicate: %+v", dup)
	}

	if _, err := s.Duplicate(web.ID, "web"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Find("web"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguous reference error, got %v", err)
	}
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan struct{}, 4)
	unsubscribe := s.Subscribe(func() { changed <- struct{}{} })
	defer unsubscribe()

	if _, err := s.Add(sampleConfig("web")); err != nil {
		t.Fatal(err)
	}
	<-changed
}
