package sshconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	"github.com/treykane/sshtunnel/internal/util"
)

const changedTopic = "sshconfig.entries.changed"

// Store holds the parsed entries of all config files and writes edits back.
//
// Every mutation changes the in-memory list first and then rewrites each file
// whose membership changed. A failed write is logged and returned, but the
// in-memory list stays as edited. Subscribers are notified after every
// mutation and reload.
type Store struct {
	mu      sync.Mutex
	primary string
	dir     string
	entries []Entry
	files   []string
	// known is the content last read from or written to each file; Watch
	// uses it to ignore our own writes.
	known map[string]string
	hub   *pubsub.SimpleHub
}

// NewStore returns a store over primary and the drop-in directory dir. Empty
// arguments select ~/.ssh/config and ~/.ssh/config.d. Call Load to read them.
func NewStore(primary, dir string) (*Store, error) {
	if primary == "" || dir == "" {
		p, d, err := DefaultPaths()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if primary == "" {
			primary = p
		}
		if dir == "" {
			dir = d
		}
	}
	return &Store{
		primary: primary,
		dir:     dir,
		known:   map[string]string{},
		hub:     pubsub.NewSimpleHub(nil),
	}, nil
}

// Primary returns the path of the primary config file.
func (s *Store) Primary() string { return s.primary }

// Dir returns the drop-in directory.
func (s *Store) Dir() string { return s.dir }

// Load re-reads every config file, replacing the in-memory entries. Entry
// ids are regenerated.
func (s *Store) Load() error {
	files := ListFiles(s.primary, s.dir)
	var entries []Entry
	known := make(map[string]string, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return errors.Annotatef(err, "reading ssh config %s", f)
		}
		known[f] = string(b)
		entries = append(entries, Parse(string(b), f)...)
	}

	s.mu.Lock()
	s.entries = entries
	s.files = files
	s.known = known
	s.mu.Unlock()
	s.notify()
	return nil
}

// Entries returns a copy of all entries in file order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// Files returns the config files found by the last load or save.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Entry{}, errors.NotFoundf("ssh config entry %q", id)
	}
	return s.entries[i].Clone(), nil
}

// Find returns the first entry whose Host pattern equals host.
func (s *Store) Find(host string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Host == host {
			return e.Clone(), nil
		}
	}
	return Entry{}, errors.NotFoundf("ssh config host %q", host)
}

// Add appends e to its source file (the primary file when unset) and returns
// the stored entry with its ids filled in.
func (s *Store) Add(e Entry) (Entry, error) {
	e = e.Clone()
	if e.SourceFile == "" {
		e.SourceFile = s.primary
	}
	if err := s.validate(e); err != nil {
		return Entry{}, err
	}
	assignIDs(&e)

	s.mu.Lock()
	s.entries = append(s.entries, e)
	err := s.saveLocked(e.SourceFile)
	s.mu.Unlock()
	s.notify()
	return e.Clone(), err
}

// Update replaces the entry with the same id. When the source file changed,
// both the old and the new file are rewritten.
func (s *Store) Update(e Entry) error {
	e = e.Clone()
	if err := s.validate(e); err != nil {
		return err
	}
	assignIDs(&e)

	s.mu.Lock()
	i := s.indexLocked(e.ID)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("ssh config entry %q", e.ID)
	}
	oldFile := s.entries[i].SourceFile
	s.entries[i] = e
	err := s.saveLocked(e.SourceFile)
	if oldFile != e.SourceFile {
		if oldErr := s.saveLocked(oldFile); err == nil {
			err = oldErr
		}
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// ReplaceFromText parses text and replaces the entry with the first block
// found in it, keeping the entry's id and source file.
func (s *Store) ReplaceFromText(id, text string) error {
	old, err := s.Get(id)
	if err != nil {
		return err
	}
	parsed := Parse(text, old.SourceFile)
	if len(parsed) == 0 {
		return errors.NotValidf("config text without a Host block")
	}
	repl := parsed[0]
	repl.ID = id
	return s.Update(repl)
}

// Delete removes the entry with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("ssh config entry %q", id)
	}
	file := s.entries[i].SourceFile
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	err := s.saveLocked(file)
	s.mu.Unlock()
	s.notify()
	return err
}

// ToggleComment flips the Commented flag of the entry with id.
func (s *Store) ToggleComment(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("ssh config entry %q", id)
	}
	s.entries[i].Commented = !s.entries[i].Commented
	err := s.saveLocked(s.entries[i].SourceFile)
	s.mu.Unlock()
	s.notify()
	return err
}

// MoveEntry swaps the entry with its neighbour in the same file: direction
// -1 moves it up, +1 down. Moves past either end are no-ops.
func (s *Store) MoveEntry(id string, direction int) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.NotFoundf("ssh config entry %q", id)
	}
	file := s.entries[i].SourceFile
	var same []int
	pos := -1
	for j, e := range s.entries {
		if e.SourceFile == file {
			if j == i {
				pos = len(same)
			}
			same = append(same, j)
		}
	}
	target := pos + direction
	if direction == 0 || target < 0 || target >= len(same) {
		s.mu.Unlock()
		return nil
	}
	k := same[target]
	s.entries[i], s.entries[k] = s.entries[k], s.entries[i]
	err := s.saveLocked(file)
	s.mu.Unlock()
	s.notify()
	return err
}

// MoveEntriesToFile reassigns the entries with ids to target and rewrites
// every file involved. Unknown ids are skipped. target must be the primary
// file or a file in the drop-in directory.
func (s *Store) MoveEntriesToFile(ids []string, target string) error {
	if !s.allowedFile(target) {
		return errors.NotValidf("target file %q", target)
	}
	s.mu.Lock()
	affected := []string{target}
	seen := map[string]bool{target: true}
	for _, id := range ids {
		i := s.indexLocked(id)
		if i < 0 {
			continue
		}
		if src := s.entries[i].SourceFile; !seen[src] {
			seen[src] = true
			affected = append(affected, src)
		}
		s.entries[i].SourceFile = target
	}
	var firstErr error
	for _, f := range affected {
		if err := s.saveLocked(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mu.Unlock()
	s.notify()
	return firstErr
}

// Subscribe registers fn to run after every mutation or reload. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func()) func() {
	return s.hub.Subscribe(changedTopic, func(string, interface{}) { fn() })
}

func (s *Store) notify() {
	_ = s.hub.Publish(changedTopic, nil)
}

func (s *Store) indexLocked(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) validate(e Entry) error {
	if isGlobalHost(e.Host) {
		return errors.NotValidf("host pattern %q", e.Host)
	}
	if strings.ContainsAny(e.Host, "\r\n") {
		return errors.NotValidf("multi-line host pattern")
	}
	for _, d := range e.Directives {
		if strings.TrimSpace(d.Key) == "" || strings.ContainsAny(d.Key, " \t=\r\n") {
			return errors.NotValidf("directive key %q", d.Key)
		}
		if strings.ContainsAny(d.Value, "\r\n") {
			return errors.NotValidf("multi-line value for %s", d.Key)
		}
	}
	if !s.allowedFile(e.SourceFile) {
		return errors.NotValidf("source file %q", e.SourceFile)
	}
	return nil
}

func (s *Store) allowedFile(path string) bool {
	if path == s.primary {
		return true
	}
	return filepath.Dir(path) == filepath.Clean(s.dir) && !strings.HasPrefix(filepath.Base(path), ".")
}

// saveLocked rewrites path from the entries that belong to it. Every file
// keeps the comment run after its last block; the primary file also keeps
// its on-disk header.
func (s *Store) saveLocked(path string) error {
	var own []Entry
	for _, e := range s.entries {
		if e.SourceFile == path {
			own = append(own, e)
		}
	}
	content := Serialize(own)
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		footer := Footer(string(existing))
		if content == "" {
			footer = strings.TrimPrefix(footer, "\n")
		}
		content += footer
		if path == s.primary {
			content = Header(string(existing)) + content
		}
	case !os.IsNotExist(err):
		slog.Warn("failed to read ssh config", "path", path, "error", err)
		return errors.Annotatef(err, "reading %s", path)
	}
	if err := util.WriteFileAtomic(path, []byte(content), util.FileMode(path, 0o600)); err != nil {
		slog.Warn("failed to save ssh config", "path", path, "error", err)
		return errors.Annotatef(err, "saving %s", path)
	}
	s.known[path] = content
	s.files = ListFiles(s.primary, s.dir)
	return nil
}

func assignIDs(e *Entry) {
	if e.ID == "" {
		e.ID = newID()
	}
	for i := range e.Directives {
		if e.Directives[i].ID == "" {
			e.Directives[i].ID = newID()
		}
	}
}
