// Package tunnel supervises ssh tunnel processes: it spawns them, captures
// their output, decides when they count as connected and records every state
// change in a status.Registry.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/pubsub/v2"
	"github.com/kballard/go-shellquote"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/sshclient"
	"github.com/treykane/sshtunnel/internal/status"
	"github.com/treykane/sshtunnel/internal/util"
)

const logTopic = "tunnel.log.changed"

// TunnelStarter abstracts SSH tunnel process creation for testing.
type TunnelStarter interface {
	StartTunnel(ctx context.Context, spec sshclient.Spec) (*sshclient.TunnelProcess, error)
}

// KeyStager resolves identity files before a spawn and removes staged copies
// after the process exits. keystage.Stager implements it.
type KeyStager interface {
	Resolve(keyPath, tunnelID string) string
	Cleanup(tunnelID string)
}

// SecretSource supplies stored passwords for password-auth tunnels.
type SecretSource interface {
	Password(tunnelID string) (string, bool)
}

// Options configures a Manager. Starter and Registry are required.
type Options struct {
	Starter  TunnelStarter
	Registry *status.Registry
	Stager   KeyStager
	Secrets  SecretSource
	Clock    clock.Clock
	// ConnectTimeout is how long a process must survive before the tunnel is
	// reported Connected. Zero means util.DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// SSHBinary overrides ssh discovery.
	SSHBinary string
	// TempDir holds askpass helpers. Empty means os.TempDir().
	TempDir string
}

// proc is one spawned process and the bookkeeping around it.
type proc struct {
	attempt  uint64
	tp       *sshclient.TunnelProcess
	cancel   context.CancelFunc
	timer    clock.Timer
	stopping bool
	done     chan struct{}
}

// Manager coordinates SSH tunnel processes. Every mutation of process table,
// log buffers and registry happens under mu so that reader goroutines, timer
// callbacks and callers observe one consistent order of events.
type Manager struct {
	mu       sync.Mutex
	opts     Options
	clock    clock.Clock
	timeout  time.Duration
	procs    map[string]*proc
	attempts map[string]uint64
	next     uint64
	logs     map[string]*strings.Builder
	hub      *pubsub.SimpleHub
}

// NewManager creates a new tunnel manager.
func NewManager(opts Options) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = util.DefaultConnectTimeout
	}
	return &Manager{
		opts:     opts,
		clock:    clk,
		timeout:  timeout,
		procs:    make(map[string]*proc),
		attempts: make(map[string]uint64),
		logs:     make(map[string]*strings.Builder),
		hub:      pubsub.NewSimpleHub(nil),
	}
}

// Registry returns the registry the manager reports into.
func (m *Manager) Registry() *status.Registry { return m.opts.Registry }

// State returns the current connection state of a tunnel.
func (m *Manager) State(id string) model.ConnectionState {
	return m.opts.Registry.Get(id)
}

// Connect starts the tunnel described by cfg. It returns as soon as the
// process has been spawned; the state is Connecting by then and moves on
// asynchronously. Connect is a no-op for a tunnel that is already active.
// Failures are reported through the registry, never returned.
func (m *Manager) Connect(cfg model.TunnelConfig) {
	cfg = cfg.Clone()
	id := cfg.ID

	m.mu.Lock()
	if m.opts.Registry.Get(id).IsActive() {
		m.mu.Unlock()
		return
	}
	m.next++
	attempt := m.next
	m.attempts[id] = attempt
	m.logs[id] = &strings.Builder{}
	m.opts.Registry.Set(id, model.Connecting, "")
	m.mu.Unlock()
	slog.Info("tunnel connecting", "tunnel", id, "name", cfg.Name)

	// Key staging notes land in the fresh log buffer; the command line is
	// put in front of them once it is known.
	binary := sshclient.FindSSHBinary(m.opts.SSHBinary)
	var resolve sshclient.KeyResolver
	if m.opts.Stager != nil {
		resolve = m.opts.Stager.Resolve
	}
	args := sshclient.BuildArgs(cfg, resolve)
	m.prependLog(id, attempt, "$ "+binary+" "+shellquote.Join(args...)+"\n\n")

	var env []string
	if cfg.AuthMethod == model.AuthPassword {
		env = m.askpassEnv(id, attempt)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tp, err := m.opts.Starter.StartTunnel(ctx, sshclient.Spec{Binary: binary, Args: args, Env: env})
	if err != nil {
		cancel()
		slog.Warn("failed to start tunnel", "tunnel", id, "error", err)
		m.mu.Lock()
		if m.attempts[id] <= attempt {
			m.cleanup(id)
		}
		m.appendLocked(id, attempt, "ERROR: "+err.Error()+"\n")
		if m.attempts[id] == attempt && m.opts.Registry.Get(id) == model.Connecting {
			m.opts.Registry.Set(id, model.Error, err.Error())
		}
		m.mu.Unlock()
		return
	}

	p := &proc{attempt: attempt, tp: tp, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	if m.attempts[id] != attempt || m.opts.Registry.Get(id) != model.Connecting {
		// Disconnect ran while the process was being spawned.
		p.stopping = true
		m.mu.Unlock()
		terminate(tp)
		go m.watch(id, p)
		return
	}
	m.procs[id] = p
	p.timer = m.clock.AfterFunc(m.timeout, func() { m.markConnected(id, p) })
	m.mu.Unlock()

	go m.watch(id, p)
}

func (m *Manager) askpassEnv(id string, attempt uint64) []string {
	if m.opts.Secrets == nil {
		return nil
	}
	secret, ok := m.opts.Secrets.Password(id)
	if !ok {
		m.appendLog(id, attempt, "[WARN] No stored password for this tunnel\n")
		return nil
	}
	path, err := sshclient.WriteAskpass(m.opts.TempDir, id, secret)
	if err != nil {
		slog.Warn("failed to write askpass helper", "tunnel", id, "error", err)
		m.appendLog(id, attempt, "[WARN] "+err.Error()+"\n")
		return nil
	}
	return sshclient.AskpassEnv(path)
}

func (m *Manager) markConnected(id string, p *proc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.procs[id] != p || p.stopping {
		return
	}
	if m.opts.Registry.Get(id) == model.Connecting {
		m.opts.Registry.Set(id, model.Connected, "")
		slog.Info("tunnel connected", "tunnel", id)
	}
}

// watch drains the combined output of p, reaps it and runs the exit handler.
func (m *Manager) watch(id string, p *proc) {
	sc := bufio.NewScanner(p.tp.Output)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m.appendLog(id, p.attempt, sc.Text()+"\n")
	}
	_ = p.tp.Output.Close()
	err := p.tp.Cmd.Wait()
	m.handleExit(id, p, exitCode(p.tp.Cmd, err))
	close(p.done)
}

// handleExit runs exactly once per spawned process.
func (m *Manager) handleExit(id string, p *proc, code int) {
	p.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	if m.procs[id] == p {
		delete(m.procs, id)
	}
	// Cleanup stays under mu: a Connect that starts after this point stages
	// its key and helper only once the old ones are gone.
	newer := m.procs[id] != nil || m.attempts[id] > p.attempt
	if !newer {
		m.cleanup(id)
	}

	if m.attempts[id] != p.attempt {
		// Superseded by a later Connect or cancelled by Disconnect.
		if p.stopping && !newer && m.opts.Registry.Get(id).IsActive() {
			m.opts.Registry.Set(id, model.Disconnected, "")
		}
		return
	}

	state := m.opts.Registry.Get(id)
	switch {
	case p.stopping || code == 0:
		m.opts.Registry.Set(id, model.Disconnected, "")
		slog.Info("tunnel disconnected", "tunnel", id, "exit", code)
	case state == model.Connecting:
		msg := fmt.Sprintf("Connection failed (exit %d)", code)
		if tail := util.LastLines(m.logLocked(id), util.ErrorLogTailLines); len(tail) > 0 {
			msg += "\n" + strings.Join(tail, "\n")
		}
		m.opts.Registry.Set(id, model.Error, msg)
		slog.Warn("tunnel failed to connect", "tunnel", id, "exit", code)
	default:
		// A drop after Connected looks the same as a user stop from outside,
		// so it is reported as Disconnected with the exit code kept aside.
		msg := fmt.Sprintf("Connection closed (exit %d)", code)
		if tail := util.LastLines(m.logLocked(id), util.ErrorLogTailLines); len(tail) > 0 {
			msg += "\n" + strings.Join(tail, "\n")
		}
		m.opts.Registry.SetExited(id, model.Disconnected, msg, code)
		slog.Warn("tunnel exited unexpectedly", "tunnel", id, "exit", code)
	}
}

// cleanup removes the askpass helper and staged key of id. Callers hold mu.
func (m *Manager) cleanup(id string) {
	sshclient.RemoveAskpass(m.opts.TempDir, id)
	if m.opts.Stager != nil {
		m.opts.Stager.Cleanup(id)
	}
}

// Disconnect stops the tunnel. Termination is asynchronous: the state changes
// when the process has actually exited. Without a live process an active state
// is forced to Disconnected; an inactive one is left untouched.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	p := m.procs[id]
	if p == nil {
		// Invalidate a Connect that has not registered its process yet.
		delete(m.attempts, id)
		if m.opts.Registry.Get(id).IsActive() {
			m.opts.Registry.Set(id, model.Disconnected, "")
		}
		m.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.stopping = true
	m.mu.Unlock()

	slog.Info("tunnel disconnecting", "tunnel", id)
	terminate(p.tp)
}

// Toggle disconnects an active tunnel and connects an inactive one.
func (m *Manager) Toggle(cfg model.TunnelConfig) {
	if m.State(cfg.ID).IsActive() {
		m.Disconnect(cfg.ID)
		return
	}
	m.Connect(cfg)
}

// DisconnectAll disconnects every tunnel with a live process or an active
// registry state.
func (m *Manager) DisconnectAll() {
	seen := map[string]bool{}
	m.mu.Lock()
	for id := range m.procs {
		seen[id] = true
	}
	m.mu.Unlock()
	for _, id := range m.opts.Registry.ActiveIDs() {
		seen[id] = true
	}
	for id := range seen {
		m.Disconnect(id)
	}
}

// DisconnectOnQuit disconnects the tunnels whose config asks for it.
func (m *Manager) DisconnectOnQuit(cfgs []model.TunnelConfig) {
	for _, cfg := range cfgs {
		if cfg.DisconnectOnQuit {
			m.Disconnect(cfg.ID)
		}
	}
}

// Wait returns a channel that is closed when the current process of id has
// exited and its exit handler has run. It is closed immediately when no
// process is live.
func (m *Manager) Wait(id string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.procs[id]; p != nil {
		return p.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Log returns the captured output of the latest connect attempt of id.
func (m *Manager) Log(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logLocked(id)
}

// LogLines returns Log split into lines.
func (m *Manager) LogLines(id string) []string {
	text := strings.TrimRight(m.Log(id), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// ClearLog empties the log buffer of id.
func (m *Manager) ClearLog(id string) {
	m.mu.Lock()
	if b, ok := m.logs[id]; ok {
		b.Reset()
	}
	m.mu.Unlock()
	_ = m.hub.Publish(logTopic, id)
}

// SubscribeLogs registers fn to be called with the tunnel id whenever its log
// changes. The returned function unsubscribes.
func (m *Manager) SubscribeLogs(fn func(id string)) func() {
	return m.hub.Subscribe(logTopic, func(_ string, data interface{}) {
		if id, ok := data.(string); ok {
			fn(id)
		}
	})
}

// Note appends a line to the log of the current attempt of id. The key stager
// reports through it.
func (m *Manager) Note(id, line string) {
	m.mu.Lock()
	attempt := m.attempts[id]
	m.mu.Unlock()
	m.appendLog(id, attempt, line+"\n")
}

func (m *Manager) logLocked(id string) string {
	if b, ok := m.logs[id]; ok {
		return b.String()
	}
	return ""
}

func (m *Manager) appendLog(id string, attempt uint64, text string) {
	m.mu.Lock()
	m.appendLocked(id, attempt, text)
	m.mu.Unlock()
}

// appendLocked drops output of superseded attempts so a reconnect starts
// with a clean buffer.
func (m *Manager) appendLocked(id string, attempt uint64, text string) {
	if cur, ok := m.attempts[id]; ok && cur != attempt {
		return
	}
	b, ok := m.logs[id]
	if !ok {
		b = &strings.Builder{}
		m.logs[id] = b
	}
	b.WriteString(text)
	_ = m.hub.Publish(logTopic, id)
}

func (m *Manager) prependLog(id string, attempt uint64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts[id] != attempt {
		return
	}
	b := &strings.Builder{}
	b.WriteString(text)
	if old, ok := m.logs[id]; ok {
		b.WriteString(old.String())
	}
	m.logs[id] = b
	_ = m.hub.Publish(logTopic, id)
}

// terminate asks the process to stop. Platforms without SIGTERM get a kill.
func terminate(tp *sshclient.TunnelProcess) {
	if tp == nil || tp.Cmd == nil || tp.Cmd.Process == nil {
		return
	}
	if err := tp.Cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			_ = tp.Cmd.Process.Kill()
		}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
