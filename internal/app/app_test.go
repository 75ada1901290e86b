package app

import (
	"testing"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/bundle"
	"github.com/treykane/sshtunnel/internal/history"
	"github.com/treykane/sshtunnel/internal/model"
)

func openTemp(t *testing.T) *App {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	a, err := Open(appconfig.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return a
}

func addTunnel(t *testing.T, a *App, name string) model.TunnelConfig {
	t.Helper()
	cfg := model.NewTunnelConfig("", name)
	cfg.Host = "example.com"
	cfg.Username = "bob"
	added, err := a.Tunnels.Add(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return added
}

func TestDeleteTunnelRemovesRelatedData(t *testing.T) {
	a := openTemp(t)
	db := addTunnel(t, a, "db")
	api := addTunnel(t, a, "api")

	if err := a.Credentials.Set(db.ID, "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := history.Touch(db.ID); err != nil {
		t.Fatal(err)
	}
	if err := bundle.Create("both", []string{db.ID, api.ID}); err != nil {
		t.Fatal(err)
	}
	a.Registry.Set(db.ID, model.Error, "Connection failed (exit 255)")
	a.Registry.Set(api.ID, model.Error, "Connection failed (exit 255)")

	if err := a.DeleteTunnel(db.ID); err != nil {
		t.Fatal(err)
	}
	snap := a.Registry.Snapshot()
	if _, ok := snap[db.ID]; ok {
		t.Fatal("registry still tracks the deleted tunnel")
	}
	if _, ok := snap[api.ID]; !ok {
		t.Fatal("registry lost an unrelated tunnel")
	}
	if _, err := a.Tunnels.Get(db.ID); err == nil {
		t.Fatal("tunnel still stored")
	}
	if _, ok := a.Credentials.Password(db.ID); ok {
		t.Fatal("password still stored")
	}
	last, err := history.LastConnected()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := last[db.ID]; ok {
		t.Fatal("history still has the tunnel")
	}
	def, err := bundle.Get("both")
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Tunnels) != 1 || def.Tunnels[0] != api.ID {
		t.Fatalf("unexpected bundle after delete: %+v", def)
	}
	if err := a.DeleteTunnel(db.ID); err == nil {
		t.Fatal("expected error deleting a missing tunnel")
	}
}

func TestAutoConnectHonoursStartupSetting(t *testing.T) {
	a := openTemp(t)
	cfg := model.NewTunnelConfig("", "auto")
	cfg.Host = "example.com"
	cfg.AutoConnect = true
	if _, err := a.Tunnels.Add(cfg); err != nil {
		t.Fatal(err)
	}
	a.Config.Startup.AutoConnect = false
	if got := a.AutoConnect(); len(got) != 0 {
		t.Fatalf("expected nothing started, got %+v", got)
	}
}

func TestShutdownWithoutProcesses(t *testing.T) {
	a := openTemp(t)
	addTunnel(t, a, "idle")
	a.Shutdown()
	for _, tc := range a.Tunnels.All() {
		if a.Manager.State(tc.ID) != model.Disconnected {
			t.Fatalf("unexpected state %s", a.Manager.State(tc.ID))
		}
	}
}
