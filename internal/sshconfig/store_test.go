package sshconfig

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
)

type storeFixture struct {
	store   *Store
	primary string
	dir     string
}

func newFixture(c *qt.C, primary string, dropins map[string]string) storeFixture {
	root := c.TempDir()
	f := storeFixture{
		primary: filepath.Join(root, ".ssh", "config"),
		dir:     filepath.Join(root, ".ssh", "config.d"),
	}
	if primary != "" {
		c.Assert(os.MkdirAll(filepath.Dir(f.primary), 0o700), qt.IsNil)
		c.Assert(os.WriteFile(f.primary, []byte(primary), 0o644), qt.IsNil)
	}
	if len(dropins) > 0 {
		c.Assert(os.MkdirAll(f.dir, 0o700), qt.IsNil)
		for name, content := range dropins {
			c.Assert(os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o600), qt.IsNil)
		}
	}
	s, err := NewStore(f.primary, f.dir)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Load(), qt.IsNil)
	f.store = s
	return f
}

func (f storeFixture) read(c *qt.C, path string) string {
	b, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	return string(b)
}

func (f storeFixture) id(c *qt.C, host string) string {
	e, err := f.store.Find(host)
	c.Assert(err, qt.IsNil)
	return e.ID
}

const threeHosts = "# global\nCompression yes\n\n# first\nHost a\n    User x\n\nHost b\n    User y\n\nHost c\n    User z\n"

func TestStoreLoadOrder(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, map[string]string{"20-late": "Host late\n", "10-early": "Host early\n"})

	var hosts []string
	for _, e := range f.store.Entries() {
		hosts = append(hosts, e.Host)
	}
	c.Assert(hosts, qt.DeepEquals, []string{"a", "b", "c", "early", "late"})
	c.Assert(f.store.Files(), qt.HasLen, 3)
	c.Assert(f.store.Primary(), qt.Equals, f.primary)
}

func TestStoreToggleCommentKeepsHeader(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)

	c.Assert(f.store.ToggleComment(f.id(c, "a")), qt.IsNil)
	want := "# global\nCompression yes\n\n# first\n# Host a\n#     User x\n\nHost b\n    User y\n\nHost c\n    User z\n"
	c.Assert(f.read(c, f.primary), qt.Equals, want)

	// A second save must not duplicate the header or the comment.
	c.Assert(f.store.ToggleComment(f.id(c, "a")), qt.IsNil)
	c.Assert(f.read(c, f.primary), qt.Equals, threeHosts)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(f.primary)
		c.Assert(err, qt.IsNil)
		c.Assert(info.Mode().Perm(), qt.Equals, os.FileMode(0o644))
	}
}

func TestStoreMoveEntry(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, map[string]string{"other": "Host d\n    User w\n"})
	a, b := f.id(c, "a"), f.id(c, "b")

	c.Assert(f.store.MoveEntry(a, +1), qt.IsNil)
	entries := f.store.Entries()
	c.Assert(entries[0].Host, qt.Equals, "b")
	c.Assert(entries[1].Host, qt.Equals, "a")
	c.Assert(f.read(c, f.primary), qt.Equals, "# global\nCompression yes\n\nHost b\n    User y\n\n# first\nHost a\n    User x\n\nHost c\n    User z\n")

	// b is first in its file now, so moving it up is a no-op.
	c.Assert(f.store.MoveEntry(b, -1), qt.IsNil)
	c.Assert(f.store.Entries()[0].Host, qt.Equals, "b")

	// c is last among the primary file's entries even though d follows it.
	c.Assert(f.store.MoveEntry(f.id(c, "c"), +1), qt.IsNil)
	c.Assert(f.store.Entries()[2].Host, qt.Equals, "c")
	c.Assert(f.store.Entries()[3].Host, qt.Equals, "d")
}

func TestStoreAddCreatesPrimary(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, "", nil)

	e, err := f.store.Add(Entry{Host: "new", Directives: []Directive{{Key: "HostName", Value: "10.0.0.5"}}})
	c.Assert(err, qt.IsNil)
	c.Assert(e.ID, qt.Not(qt.Equals), "")
	c.Assert(e.SourceFile, qt.Equals, f.primary)
	c.Assert(e.Directives[0].ID, qt.Not(qt.Equals), "")
	c.Assert(f.read(c, f.primary), qt.Equals, "Host new\n    HostName 10.0.0.5\n")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(f.primary)
		c.Assert(err, qt.IsNil)
		c.Assert(info.Mode().Perm(), qt.Equals, os.FileMode(0o600))
		dirInfo, err := os.Stat(filepath.Dir(f.primary))
		c.Assert(err, qt.IsNil)
		c.Assert(dirInfo.Mode().Perm(), qt.Equals, os.FileMode(0o700))
	}
	c.Assert(f.store.Files(), qt.DeepEquals, []string{f.primary})
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)

	_, err := f.store.Add(Entry{Host: "*"})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
	_, err = f.store.Add(Entry{Host: "x", SourceFile: "/etc/elsewhere"})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
	_, err = f.store.Add(Entry{Host: "x", Directives: []Directive{{Key: "Bad Key", Value: "v"}}})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)

	c.Assert(errors.Is(f.store.Delete("nope"), errors.NotFound), qt.IsTrue)
	c.Assert(errors.Is(f.store.ToggleComment("nope"), errors.NotFound), qt.IsTrue)
	c.Assert(errors.Is(f.store.MoveEntry("nope", 1), errors.NotFound), qt.IsTrue)
	c.Assert(errors.Is(f.store.Update(Entry{ID: "nope", Host: "x", SourceFile: f.primary}), errors.NotFound), qt.IsTrue)
	c.Assert(f.read(c, f.primary), qt.Equals, threeHosts)
}

func TestStoreUpdateAndDelete(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)

	e, err := f.store.Get(f.id(c, "b"))
	c.Assert(err, qt.IsNil)
	e.SetValue("User", "")
	e.SetValue("Port", "2222")
	e.Comment = "# second"
	c.Assert(f.store.Update(e), qt.IsNil)

	c.Assert(f.store.Delete(f.id(c, "c")), qt.IsNil)
	c.Assert(f.read(c, f.primary), qt.Equals, "# global\nCompression yes\n\n# first\nHost a\n    User x\n\n# second\nHost b\n    Port 2222\n")
}

func TestStoreKeepsSymlinkedPrimary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	c := qt.New(t)
	root := c.TempDir()
	target := filepath.Join(root, "dotfiles", "ssh_config")
	c.Assert(os.MkdirAll(filepath.Dir(target), 0o700), qt.IsNil)
	c.Assert(os.WriteFile(target, []byte(threeHosts), 0o600), qt.IsNil)
	primary := filepath.Join(root, ".ssh", "config")
	c.Assert(os.MkdirAll(filepath.Dir(primary), 0o700), qt.IsNil)
	c.Assert(os.Symlink(target, primary), qt.IsNil)

	s, err := NewStore(primary, filepath.Join(root, ".ssh", "config.d"))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Load(), qt.IsNil)
	e, err := s.Find("a")
	c.Assert(err, qt.IsNil)
	e.SetValue("User", "changed")
	c.Assert(s.Update(e), qt.IsNil)

	info, err := os.Lstat(primary)
	c.Assert(err, qt.IsNil)
	c.Assert(info.Mode()&os.ModeSymlink != 0, qt.IsTrue)
	b, err := os.ReadFile(target)
	c.Assert(err, qt.IsNil)
	c.Assert(string(b), qt.Contains, "Host a\n    User changed\n")
}

func TestStoreKeepsTrailingComments(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, "Host a\n    User x\n\n# trailing notes\n", nil)

	e, err := f.store.Find("a")
	c.Assert(err, qt.IsNil)
	e.SetValue("User", "changed")
	c.Assert(f.store.Update(e), qt.IsNil)
	c.Assert(f.read(c, f.primary), qt.Equals, "Host a\n    User changed\n\n# trailing notes\n")

	c.Assert(f.store.Delete(e.ID), qt.IsNil)
	c.Assert(f.read(c, f.primary), qt.Equals, "# trailing notes\n")
}

func TestStoreUpdateMovesBetweenFiles(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, map[string]string{"work": "Host w\n    User v\n"})
	work := filepath.Join(f.dir, "work")

	e, err := f.store.Get(f.id(c, "c"))
	c.Assert(err, qt.IsNil)
	e.SourceFile = work
	c.Assert(f.store.Update(e), qt.IsNil)

	c.Assert(f.read(c, work), qt.Equals, "Host c\n    User z\n\nHost w\n    User v\n")
	c.Assert(f.read(c, f.primary), qt.Equals, "# global\nCompression yes\n\n# first\nHost a\n    User x\n\nHost b\n    User y\n")
}

func TestStoreMoveEntriesToFile(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)
	target := filepath.Join(f.dir, "moved")

	err := f.store.MoveEntriesToFile([]string{f.id(c, "a"), "unknown", f.id(c, "c")}, target)
	c.Assert(err, qt.IsNil)
	c.Assert(f.read(c, target), qt.Equals, "# first\nHost a\n    User x\n\nHost c\n    User z\n")
	c.Assert(f.read(c, f.primary), qt.Equals, "# global\nCompression yes\n\nHost b\n    User y\n")
	c.Assert(f.store.Files(), qt.DeepEquals, []string{f.primary, target})

	err = f.store.MoveEntriesToFile([]string{f.id(c, "b")}, filepath.Join(c.TempDir(), "elsewhere"))
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
}

func TestStoreReplaceFromText(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)
	id := f.id(c, "b")

	c.Assert(f.store.ReplaceFromText(id, "# renamed\nHost bee\n    HostName bee.internal\n\nHost ignored\n"), qt.IsNil)
	e, err := f.store.Get(id)
	c.Assert(err, qt.IsNil)
	c.Assert(e.Host, qt.Equals, "bee")
	c.Assert(e.Comment, qt.Equals, "# renamed")
	c.Assert(e.SourceFile, qt.Equals, f.primary)
	c.Assert(f.store.Entries(), qt.HasLen, 3)

	err = f.store.ReplaceFromText(id, "just words")
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
}

func TestStoreSubscribe(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)
	changed := make(chan struct{}, 8)
	unsubscribe := f.store.Subscribe(func() { changed <- struct{}{} })
	defer unsubscribe()

	c.Assert(f.store.ToggleComment(f.id(c, "a")), qt.IsNil)
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		c.Fatal("no change notification")
	}
}

func TestStoreWatchReloadsExternalEdits(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c, threeHosts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.store.Watch(ctx) }()

	// The watcher may not be registered yet; keep editing until it notices.
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; ; i++ {
		content := threeHosts + "\nHost external\n    Port " + strconv.Itoa(2000+i) + "\n"
		c.Assert(os.WriteFile(f.primary, []byte(content), 0o644), qt.IsNil)
		time.Sleep(100 * time.Millisecond)
		if _, err := f.store.Find("external"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			c.Fatal("store did not reload after external edit")
		}
	}

	cancel()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("watch did not stop")
	}
}
