// Package credentials stores passwords for password-auth tunnels in
// credentials.json, keyed by tunnel id. The file is written with mode 0600;
// it is not encrypted.
package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/util"
)

// FileName is the secret file inside the config directory.
const FileName = "credentials.json"

type fileModel struct {
	Passwords map[string]string `json:"passwords"`
}

// Store is a password store backed by one JSON file.
type Store struct {
	mu        sync.Mutex
	path      string
	passwords map[string]string
}

// Open loads the store at path; an empty path selects credentials.json in
// the config directory. A missing or unreadable file yields an empty store.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := appconfig.DataPath(FileName)
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &Store{path: path, passwords: map[string]string{}}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fm fileModel
		if err := json.Unmarshal(b, &fm); err != nil {
			slog.Warn("credentials file is unreadable", "path", path, "error", err)
		} else if fm.Passwords != nil {
			s.passwords = fm.Passwords
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

// Path returns the location of the credentials file.
func (s *Store) Path() string { return s.path }

// Password returns the stored secret for a tunnel.
func (s *Store) Password(tunnelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passwords[tunnelID]
	return p, ok
}

// Set stores secret for a tunnel. An empty secret deletes it.
func (s *Store) Set(tunnelID, secret string) error {
	if secret == "" {
		return s.Delete(tunnelID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[tunnelID] = secret
	return s.saveLocked()
}

// Delete removes the secret of a tunnel. Deleting a missing secret is not
// an error.
func (s *Store) Delete(tunnelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passwords[tunnelID]; !ok {
		return nil
	}
	delete(s.passwords, tunnelID)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(fileModel{Passwords: s.passwords}, "", "  ")
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(s.path, b, 0o600); err != nil {
		slog.Warn("failed to save credentials", "path", s.path, "error", err)
		return err
	}
	return nil
}
