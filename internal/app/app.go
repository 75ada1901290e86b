// Package app opens the stores and the tunnel supervisor shared by the CLI
// and the dashboard.
package app

import (
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/bundle"
	"github.com/treykane/sshtunnel/internal/credentials"
	"github.com/treykane/sshtunnel/internal/events"
	"github.com/treykane/sshtunnel/internal/history"
	"github.com/treykane/sshtunnel/internal/keystage"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/sshclient"
	"github.com/treykane/sshtunnel/internal/sshconfig"
	"github.com/treykane/sshtunnel/internal/status"
	"github.com/treykane/sshtunnel/internal/tunnel"
	"github.com/treykane/sshtunnel/internal/tunnelstore"
)

// QuitTimeout bounds how long Shutdown waits for tunnel processes to exit.
const QuitTimeout = 5 * time.Second

// App holds one instance of every store plus the supervisor.
type App struct {
	Config      appconfig.Config
	Tunnels     *tunnelstore.Store
	Credentials *credentials.Store
	SSHConfig   *sshconfig.Store
	Events      *events.Store
	Registry    *status.Registry
	Manager     *tunnel.Manager
	Stager      *keystage.Stager

	stops []func()
}

// Open loads every store from the config directory and starts journaling
// state changes. A missing or unreadable ssh config is logged, not fatal.
func Open(cfg appconfig.Config) (*App, error) {
	tunnels, err := tunnelstore.Open("")
	if err != nil {
		return nil, errors.Annotate(err, "load tunnels")
	}
	creds, err := credentials.Open("")
	if err != nil {
		return nil, errors.Annotate(err, "load credentials")
	}
	journal, err := events.NewStore("")
	if err != nil {
		return nil, errors.Trace(err)
	}
	sshCfg, err := sshconfig.NewStore(cfg.SSH.ConfigPath, cfg.SSH.ConfigDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := sshCfg.Load(); err != nil {
		slog.Warn("failed to load ssh config", "path", sshCfg.Primary(), "error", err)
	}

	a := &App{
		Config:      cfg,
		Tunnels:     tunnels,
		Credentials: creds,
		SSHConfig:   sshCfg,
		Events:      journal,
		Registry:    status.NewRegistry(),
	}
	a.Stager = keystage.New("", func(id, line string) {
		if a.Manager != nil {
			a.Manager.Note(id, line)
		}
	})
	a.Manager = tunnel.NewManager(tunnel.Options{
		Starter:        sshclient.New(),
		Registry:       a.Registry,
		Stager:         a.Stager,
		Secrets:        creds,
		ConnectTimeout: cfg.ConnectTimeout(),
		SSHBinary:      cfg.SSH.Binary,
	})
	a.stops = append(a.stops,
		journal.Record(a.Registry, a.tunnelName),
		history.Track(a.Registry),
	)
	return a, nil
}

func (a *App) tunnelName(id string) string {
	if t, err := a.Tunnels.Get(id); err == nil {
		return t.DisplayName()
	}
	return ""
}

// SSHBinary returns the ssh executable tunnels and shells are started with.
func (a *App) SSHBinary() string {
	return sshclient.FindSSHBinary(a.Config.SSH.Binary)
}

// AutoConnect connects every tunnel flagged autoConnect when startup
// auto-connect is enabled, and returns the tunnels it started.
func (a *App) AutoConnect() []model.TunnelConfig {
	if !a.Config.Startup.AutoConnect {
		return nil
	}
	var started []model.TunnelConfig
	for _, t := range a.Tunnels.All() {
		if !t.AutoConnect {
			continue
		}
		a.Manager.Connect(t)
		started = append(started, t)
	}
	return started
}

// Shutdown disconnects the tunnels that ask for it and waits up to
// QuitTimeout for their processes to exit.
func (a *App) Shutdown() {
	tunnels := a.Tunnels.All()
	var waits []<-chan struct{}
	for _, t := range tunnels {
		if t.DisconnectOnQuit {
			waits = append(waits, a.Manager.Wait(t.ID))
		}
	}
	a.Manager.DisconnectOnQuit(tunnels)
	deadline := time.After(QuitTimeout)
	for _, ch := range waits {
		select {
		case <-ch:
		case <-deadline:
			slog.Warn("tunnels still running at exit")
			return
		}
	}
}

// DeleteTunnel disconnects and removes a tunnel together with its stored
// password, history entry and bundle memberships. Its registry record is
// dropped once the process has exited.
func (a *App) DeleteTunnel(id string) error {
	exited := a.Manager.Wait(id)
	a.Manager.Disconnect(id)
	if err := a.Tunnels.Delete(id); err != nil {
		return err
	}
	select {
	case <-exited:
	case <-time.After(QuitTimeout):
		slog.Warn("tunnel did not exit before delete", "tunnel", id, "timeout", QuitTimeout)
	}
	a.Registry.Forget(id)
	if err := a.Credentials.Delete(id); err != nil {
		slog.Warn("failed to delete tunnel password", "tunnel", id, "error", err)
	}
	if err := history.Forget(id); err != nil {
		slog.Warn("failed to forget tunnel history", "tunnel", id, "error", err)
	}
	if err := bundle.RemoveTunnel(id); err != nil {
		slog.Warn("failed to update bundles", "tunnel", id, "error", err)
	}
	a.Stager.Cleanup(id)
	return nil
}

// Close stops journaling. Running tunnels are left alone.
func (a *App) Close() {
	for _, stop := range a.stops {
		stop()
	}
	a.stops = nil
}
