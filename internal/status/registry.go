// Package status tracks the connection state of every tunnel and publishes
// each change to subscribers.
package status

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/juju/pubsub/v2"

	"github.com/treykane/sshtunnel/internal/model"
)

const changedTopic = "tunnel.state.changed"

// Status is the registry record for one tunnel.
type Status struct {
	State model.ConnectionState
	Error string
	// ExitCode is the exit status of the last process that ended abnormally
	// after the tunnel had connected. HasExit reports whether it is set.
	ExitCode int
	HasExit  bool
	Changed  time.Time
}

// Change is delivered to subscribers after every Set.
type Change struct {
	ID       string
	Previous model.ConnectionState
	Status
}

// Registry is the single source of truth for tunnel connection states.
// Unknown ids read as Disconnected. Entries never expire.
type Registry struct {
	mu     sync.RWMutex
	states map[string]Status
	hub    *pubsub.SimpleHub
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]Status),
		hub:    pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{Logger: hubLogger{}}),
		now:    time.Now,
	}
}

// Get returns the state for id.
func (r *Registry) Get(id string) model.ConnectionState {
	return r.Status(id).State
}

// Status returns the full record for id.
func (r *Registry) Status(id string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	if !ok {
		return Status{State: model.Disconnected}
	}
	return st
}

// Set overwrites the state and error message of id and notifies subscribers.
func (r *Registry) Set(id string, state model.ConnectionState, msg string) {
	r.store(id, Status{State: state, Error: msg})
}

// SetExited is Set for a process that ended with exitCode; the code is kept
// alongside the state so callers can explain a downgrade to Disconnected.
func (r *Registry) SetExited(id string, state model.ConnectionState, msg string, exitCode int) {
	r.store(id, Status{State: state, Error: msg, ExitCode: exitCode, HasExit: true})
}

func (r *Registry) store(id string, st Status) {
	r.mu.Lock()
	prev, ok := r.states[id]
	if !ok {
		prev.State = model.Disconnected
	}
	st.Changed = r.now()
	r.states[id] = st
	r.mu.Unlock()

	_ = r.hub.Publish(changedTopic, Change{ID: id, Previous: prev.State, Status: st})
}

// Forget drops the record for id, e.g. after the tunnel config is deleted.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
}

// Snapshot returns a copy of every tracked record.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.states))
	for id, st := range r.states {
		out[id] = st
	}
	return out
}

// ActiveIDs returns the sorted ids whose state is Connecting or Connected.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, st := range r.states {
		if st.State.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Subscribe registers fn for every state change. Each subscriber receives
// changes in publish order; ordering across subscribers is not defined.
// The returned function unsubscribes.
func (r *Registry) Subscribe(fn func(Change)) func() {
	return r.hub.Subscribe(changedTopic, func(_ string, data interface{}) {
		if c, ok := data.(Change); ok {
			fn(c)
		}
	})
}

// hubLogger routes hub diagnostics into slog.
type hubLogger struct{}

func (hubLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...), "component", "status")
}

func (hubLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "status")
}

func (hubLogger) Infof(format string, args ...interface{}) {
	slog.Info(fmt.Sprintf(format, args...), "component", "status")
}

func (hubLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "status")
}

func (hubLogger) Tracef(string, ...interface{}) {}
