package sshconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPaths returns ~/.ssh/config and ~/.ssh/config.d.
func DefaultPaths() (primary, dir string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve home dir: %w", err)
	}
	sshDir := filepath.Join(home, ".ssh")
	return filepath.Join(sshDir, "config"), filepath.Join(sshDir, "config.d"), nil
}

// ListFiles returns the config files in parse order: primary if it exists,
// then the regular non-hidden files of dir sorted by name.
func ListFiles(primary, dir string) []string {
	var files []string
	if info, err := os.Stat(primary); err == nil && !info.IsDir() {
		files = append(files, primary)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return files
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		files = append(files, filepath.Join(dir, n))
	}
	return files
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
