package util

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
)

func TestParsePort(t *testing.T) {
	if p, err := ParsePort(" 2222 "); err != nil || p != 2222 {
		t.Fatalf("ParsePort = %d, %v", p, err)
	}
	for _, bad := range []string{"", "abc", "0", "70000"} {
		if _, err := ParsePort(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestLastLines(t *testing.T) {
	got := LastLines("a\nb\nc\nd\ne\nf\ng\n\n", 5)
	want := []string{"c", "d", "e", "f", "g"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LastLines = %v, want %v", got, want)
	}
	if got := LastLines("only", 5); !reflect.DeepEqual(got, []string{"only"}) {
		t.Fatalf("LastLines short = %v", got)
	}
	if got := LastLines("", 5); got != nil {
		t.Fatalf("LastLines empty = %v", got)
	}
}

func TestEmptyDash(t *testing.T) {
	if EmptyDash("  ") != "-" || EmptyDash("bob") != "bob" {
		t.Fatal("EmptyDash mismatch")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "data.json")
	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o640); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "two" {
		t.Fatalf("unexpected content %q", b)
	}
	if runtime.GOOS != "windows" && FileMode(path, 0) != 0o640 {
		t.Fatalf("unexpected mode %o", FileMode(path, 0))
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
	if FileMode(filepath.Join(dir, "missing"), 0o600) != 0o600 {
		t.Fatal("expected fallback mode for missing file")
	}
}

func TestWriteFileAtomicFollowsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "dotfiles", "config")
	if err := WriteFileAtomic(target, []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(link, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("link replaced by a regular file: %v", info.Mode())
	}
	b, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "two" {
		t.Fatalf("unexpected target content %q", b)
	}
}
