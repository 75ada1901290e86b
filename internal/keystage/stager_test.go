package keystage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsNetworkPathUNC(t *testing.T) {
	for path, want := range map[string]bool{
		`\\server\share\id_rsa`: true,
		"//server/share/id_rsa": true,
		`\\server`:              false,
		"//server/":             false,
		"/home/bob/.ssh/id_rsa": false,
	} {
		if got := isUNC(path); got != want {
			t.Errorf("isUNC(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestResolveLocalPathUnchanged(t *testing.T) {
	s := New(t.TempDir(), nil)
	s.isNetwork = func(string) bool { return false }
	if got := s.Resolve("/home/bob/.ssh/id_ed25519", "t1"); got != "/home/bob/.ssh/id_ed25519" {
		t.Fatalf("expected unchanged path, got %s", got)
	}
	if got := s.Resolve("", "t1"); got != "" {
		t.Fatalf("expected empty path, got %s", got)
	}
}

func TestResolveStagesNetworkKeyOnce(t *testing.T) {
	src := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(src, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	var lines []string
	s := New(filepath.Join(t.TempDir(), "keys"), func(id, line string) { lines = append(lines, id+" "+line) })
	s.isNetwork = func(string) bool { return true }

	first := s.Resolve(src, "t1")
	want := s.StagedPath(src, "t1")
	if first != want {
		t.Fatalf("expected staged path %s, got %s", want, first)
	}
	if filepath.Base(first) != "t1_id_rsa" {
		t.Fatalf("unexpected staged name %s", filepath.Base(first))
	}
	info, err := os.Stat(first)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}

	// A second resolve must reuse the copy rather than copy again.
	if err := os.WriteFile(src, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := s.Resolve(src, "t1")
	if second != first {
		t.Fatalf("expected same staged path, got %s and %s", first, second)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "first" {
		t.Fatalf("staged key was re-copied: %q", b)
	}
	if !strings.Contains(strings.Join(lines, "\n"), "[INFO] Using existing local key") {
		t.Fatalf("expected reuse note in log lines, got %v", lines)
	}

	s.Cleanup("t1")
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("expected staged key removed, stat err=%v", err)
	}
}

func TestResolveMissingNetworkKeyFallsBack(t *testing.T) {
	var lines []string
	s := New(t.TempDir(), func(_, line string) { lines = append(lines, line) })
	s.isNetwork = func(string) bool { return true }

	missing := filepath.Join(t.TempDir(), "nope")
	if got := s.Resolve(missing, "t1"); got != missing {
		t.Fatalf("expected fallback to original path, got %s", got)
	}
	if len(lines) == 0 || !strings.HasPrefix(lines[len(lines)-1], "[WARN]") {
		t.Fatalf("expected a warning line, got %v", lines)
	}
	// Nothing was staged, so cleanup is a no-op.
	s.Cleanup("t1")
}
