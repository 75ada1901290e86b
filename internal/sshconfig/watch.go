package sshconfig

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
)

// Watch reloads the store whenever a config file changes on disk, until ctx
// is done. Writes made by the store itself are recognised by content and do
// not trigger a reload.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Annotate(err, "creating config watcher")
	}
	defer w.Close()

	watched := 0
	for _, dir := range []string{filepath.Dir(s.primary), s.dir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			slog.Warn("failed to watch ssh config dir", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		return errors.NotFoundf("ssh config directory")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !s.isConfigFile(ev.Name) || !s.changedOnDisk(ev.Name) {
				continue
			}
			slog.Debug("ssh config changed on disk", "path", ev.Name, "op", ev.Op.String())
			if err := s.Load(); err != nil {
				slog.Warn("failed to reload ssh config", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("ssh config watcher error", "error", err)
		}
	}
}

func (s *Store) isConfigFile(path string) bool {
	path = filepath.Clean(path)
	if path == filepath.Clean(s.primary) {
		return true
	}
	return filepath.Dir(path) == filepath.Clean(s.dir) && !strings.HasPrefix(filepath.Base(path), ".")
}

func (s *Store) changedOnDisk(path string) bool {
	b, err := os.ReadFile(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known := s.known[path]
	if err != nil {
		return known
	}
	return !known || prev != string(b)
}
