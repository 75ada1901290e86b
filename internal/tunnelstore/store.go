// Package tunnelstore persists tunnel definitions in tunnels.json.
//
// Saves go through a temp file and a rename. After each successful save the
// same content is copied to tunnels.json.bak, which Open restores from when
// the main file has gone missing.
package tunnelstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/util"
)

const (
	// FileName is the tunnel list inside the config directory.
	FileName     = "tunnels.json"
	backupSuffix = ".bak"
	changedTopic = "tunnels.changed"
)

// Store holds the tunnel list in memory. The in-memory list stays
// authoritative when a save fails.
type Store struct {
	mu      sync.Mutex
	path    string
	tunnels []model.TunnelConfig
	hub     *pubsub.SimpleHub
}

// Open loads the store at path; an empty path selects tunnels.json in the
// config directory.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := appconfig.DataPath(FileName)
		if err != nil {
			return nil, errors.Trace(err)
		}
		path = p
	}
	s := &Store{path: path, hub: pubsub.NewSimpleHub(nil)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of tunnels.json.
func (s *Store) Path() string { return s.path }

// BackupPath returns the location of the backup copy.
func (s *Store) BackupPath() string { return s.path + backupSuffix }

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		tunnels, perr := decode(b)
		if perr != nil {
			slog.Warn("tunnels.json is unreadable, falling back to backup", "path", s.path, "error", perr)
			s.tunnels = s.readBackup()
			return nil
		}
		s.tunnels = tunnels
		if _, err := os.Stat(s.BackupPath()); os.IsNotExist(err) {
			s.writeBackup(b)
		}
		return nil
	case os.IsNotExist(err):
		s.tunnels = s.readBackup()
		if len(s.tunnels) > 0 {
			slog.Info("restored tunnels from backup", "path", s.BackupPath(), "count", len(s.tunnels))
			if err := s.saveLocked(); err != nil {
				slog.Warn("failed to rewrite restored tunnels", "error", err)
			}
		}
		return nil
	default:
		return errors.Annotatef(err, "reading %s", s.path)
	}
}

func (s *Store) readBackup() []model.TunnelConfig {
	b, err := os.ReadFile(s.BackupPath())
	if err != nil {
		return nil
	}
	tunnels, err := decode(b)
	if err != nil {
		slog.Warn("tunnel backup is unreadable", "path", s.BackupPath(), "error", err)
		return nil
	}
	return tunnels
}

func (s *Store) writeBackup(b []byte) {
	if err := util.WriteFileAtomic(s.BackupPath(), b, 0o600); err != nil {
		slog.Warn("failed to write tunnel backup", "path", s.BackupPath(), "error", err)
	}
}

func decode(b []byte) ([]model.TunnelConfig, error) {
	var tunnels []model.TunnelConfig
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, &tunnels); err != nil {
		return nil, err
	}
	return tunnels, nil
}

// All returns a copy of every tunnel in insertion order.
func (s *Store) All() []model.TunnelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TunnelConfig, len(s.tunnels))
	for i, t := range s.tunnels {
		out[i] = t.Clone()
	}
	return out
}

// Get returns the tunnel with id.
func (s *Store) Get(id string) (model.TunnelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tunnels[i].Clone(), nil
	}
	return model.TunnelConfig{}, errors.NotFoundf("tunnel %q", id)
}

// Find resolves a user-supplied reference: an exact id, a case-insensitive
// name, or an unambiguous id prefix.
func (s *Store) Find(ref string) (model.TunnelConfig, error) {
	ref = strings.TrimSpace(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(ref); i >= 0 {
		return s.tunnels[i].Clone(), nil
	}
	var matches []int
	for i, t := range s.tunnels {
		if strings.EqualFold(t.Name, ref) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 && ref != "" {
		for i, t := range s.tunnels {
			if strings.HasPrefix(t.ID, ref) {
				matches = append(matches, i)
			}
		}
	}
	switch len(matches) {
	case 0:
		return model.TunnelConfig{}, errors.NotFoundf("tunnel %q", ref)
	case 1:
		return s.tunnels[matches[0]].Clone(), nil
	default:
		return model.TunnelConfig{}, errors.NotValidf("ambiguous tunnel reference %q", ref)
	}
}

// Add stores cfg, assigning ids to the tunnel and its rules where missing.
func (s *Store) Add(cfg model.TunnelConfig) (model.TunnelConfig, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return model.TunnelConfig{}, errors.NewNotValid(err, "tunnel")
	}
	assignIDs(&cfg)

	s.mu.Lock()
	if s.indexLocked(cfg.ID) >= 0 {
		s.mu.Unlock()
		return model.TunnelConfig{}, errors.AlreadyExistsf("tunnel %q", cfg.ID)
	}
	s.tunnels = append(s.tunnels, cfg)
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify()
	return cfg.Clone(), err
}

// Update replaces the tunnel with the same id.
func (s *Store) Update(cfg model.TunnelConfig) error {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return errors.NewNotValid(err, "tunnel")
	}
	assignIDs(&cfg)

	s.mu.Lock()
	i := s.indexLocked(cfg.ID)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("tunnel %q", cfg.ID)
	}
	s.tunnels[i] = cfg
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

// Delete removes the tunnel with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("tunnel %q", id)
	}
	s.tunnels = append(s.tunnels[:i], s.tunnels[i+1:]...)
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

// Duplicate stores a deep copy of the tunnel with id under fresh ids. An
// empty name becomes "<original name> copy".
func (s *Store) Duplicate(id, name string) (model.TunnelConfig, error) {
	src, err := s.Get(id)
	if err != nil {
		return model.TunnelConfig{}, err
	}
	dup := src.Clone()
	dup.ID = ""
	for i := range dup.Tunnels {
		dup.Tunnels[i].ID = ""
	}
	dup.Name = util.DefaultString(name, src.Name+" copy")
	return s.Add(dup)
}

// Subscribe registers fn to run after every mutation. The returned function
// unsubscribes.
func (s *Store) Subscribe(fn func()) func() {
	return s.hub.Subscribe(changedTopic, func(string, interface{}) { fn() })
}

func (s *Store) notify() {
	_ = s.hub.Publish(changedTopic, nil)
}

func (s *Store) indexLocked(id string) int {
	for i, t := range s.tunnels {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) saveLocked() error {
	list := s.tunnels
	if list == nil {
		list = []model.TunnelConfig{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	if err := util.WriteFileAtomic(s.path, b, 0o600); err != nil {
		slog.Warn("failed to save tunnels", "path", s.path, "error", err)
		return errors.Annotate(err, "saving tunnels")
	}
	s.writeBackup(b)
	return nil
}

func assignIDs(cfg *model.TunnelConfig) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	for i := range cfg.Tunnels {
		if cfg.Tunnels[i].ID == "" {
			cfg.Tunnels[i].ID = uuid.NewString()
		}
	}
}
