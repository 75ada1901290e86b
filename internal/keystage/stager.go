// Package keystage copies private keys that live on network filesystems to a
// local directory with owner-only permissions. OpenSSH refuses keys whose
// permissions it cannot verify, which is the usual case for SMB and NFS mounts.
package keystage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DirName is the directory under os.TempDir() that holds staged keys.
const DirName = "sshtunnel-keys"

// Stager resolves key paths for tunnel processes. It is safe for concurrent
// use. Staging failures never abort a connect: Resolve logs a warning and
// hands back the original path.
type Stager struct {
	dir       string
	notify    func(tunnelID, line string)
	isNetwork func(path string) bool

	mu     sync.Mutex
	staged map[string]string
}

// New returns a Stager that copies keys into dir. An empty dir selects
// <os.TempDir()>/sshtunnel-keys. notify, when set, receives the [INFO] and
// [WARN] lines that belong in the tunnel's log.
func New(dir string, notify func(tunnelID, line string)) *Stager {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), DirName)
	}
	return &Stager{
		dir:       dir,
		notify:    notify,
		isNetwork: IsNetworkPath,
		staged:    make(map[string]string),
	}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// StagedPath returns the deterministic location of the staged copy of keyPath
// for tunnelID.
func (s *Stager) StagedPath(keyPath, tunnelID string) string {
	return filepath.Join(s.dir, tunnelID+"_"+baseName(keyPath))
}

// Resolve returns the path ssh should be given for keyPath. Local paths are
// returned unchanged. Network paths are copied once per tunnel and the copy
// is reused on later calls.
func (s *Stager) Resolve(keyPath, tunnelID string) string {
	if strings.TrimSpace(keyPath) == "" || !s.isNetwork(keyPath) {
		return keyPath
	}
	s.info(tunnelID, "Key file is on network path: "+keyPath)

	target := s.StagedPath(keyPath, tunnelID)
	if _, err := os.Stat(target); err == nil {
		s.info(tunnelID, "Using existing local key: "+target)
		s.remember(tunnelID, target)
		return target
	}
	if _, err := os.Stat(keyPath); err != nil {
		s.warn(tunnelID, "Key file not found: "+keyPath, err)
		return keyPath
	}
	if err := s.copyKey(keyPath, target); err != nil {
		s.warn(tunnelID, "Failed to copy key file locally: "+err.Error(), err)
		return keyPath
	}
	s.info(tunnelID, "Copied key file to "+target)
	s.remember(tunnelID, target)
	return target
}

// Cleanup deletes the staged copy for tunnelID, if any. Errors are swallowed.
func (s *Stager) Cleanup(tunnelID string) {
	s.mu.Lock()
	path, ok := s.staged[tunnelID]
	delete(s.staged, tunnelID)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = os.Chmod(path, 0o600)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove staged key", "tunnel", tunnelID, "path", path, "error", err)
	}
}

func (s *Stager) copyKey(src, dst string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Chmod(dst, 0o600)
}

func (s *Stager) remember(tunnelID, path string) {
	s.mu.Lock()
	s.staged[tunnelID] = path
	s.mu.Unlock()
}

func (s *Stager) info(tunnelID, msg string) {
	slog.Debug(msg, "tunnel", tunnelID)
	if s.notify != nil {
		s.notify(tunnelID, "[INFO] "+msg)
	}
}

func (s *Stager) warn(tunnelID, msg string, err error) {
	slog.Warn("key staging failed", "tunnel", tunnelID, "error", err)
	if s.notify != nil {
		s.notify(tunnelID, "[WARN] "+msg)
	}
}

// IsNetworkPath reports whether path is a UNC path (\\server\share or
// //server/share) or lives on a network filesystem.
func IsNetworkPath(path string) bool {
	if isUNC(path) {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return onNetworkFilesystem(abs)
}

func isUNC(path string) bool {
	p := strings.ReplaceAll(path, `\`, "/")
	if !strings.HasPrefix(p, "//") {
		return false
	}
	rest := strings.TrimPrefix(p, "//")
	server, share, ok := strings.Cut(rest, "/")
	return ok && server != "" && strings.Trim(share, "/") != ""
}

func baseName(path string) string {
	return filepath.Base(strings.ReplaceAll(path, `\`, "/"))
}
