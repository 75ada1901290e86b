package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func directivePairs(e Entry) []string {
	var out []string
	for _, d := range e.Directives {
		out = append(out, d.Key+"="+d.Value)
	}
	return out
}

func TestParseSimpleHost(t *testing.T) {
	c := qt.New(t)
	input := "Host foo\n    HostName 1.2.3.4\n    User bob\n"

	entries := Parse(input, "/cfg")
	c.Assert(entries, qt.HasLen, 1)
	e := entries[0]
	c.Assert(e.Host, qt.Equals, "foo")
	c.Assert(e.Commented, qt.IsFalse)
	c.Assert(e.SourceFile, qt.Equals, "/cfg")
	c.Assert(directivePairs(e), qt.DeepEquals, []string{"HostName=1.2.3.4", "User=bob"})
	c.Assert(e.ID, qt.Not(qt.Equals), "")
	c.Assert(e.Directives[0].ID, qt.Not(qt.Equals), e.Directives[1].ID)

	c.Assert(Serialize(entries), qt.Equals, input)
}

func TestRoundTrip(t *testing.T) {
	c := qt.New(t)
	input := `# work boxes
# managed by hand
Host work
    HostName 10.0.0.1
    User alice

# Host old-box
#     HostName 10.0.0.2
#     User root

# jump through work
Host db-* db
    ProxyJump work
    Port 2222

Host last
    IdentityFile ~/.ssh/id_ed25519
`
	c.Assert(Serialize(Parse(input, "f")), qt.Equals, input)
}

func TestParseNormalizesSeparatorsAndIndent(t *testing.T) {
	c := qt.New(t)
	input := "Host a\n\tUser=bob\n  Port = 2200\n\tProxyCommand ssh -W %h:%p jump\n"
	entries := Parse(input, "f")
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(directivePairs(entries[0]), qt.DeepEquals, []string{"User=bob", "Port=2200", "ProxyCommand=ssh -W %h:%p jump"})
	c.Assert(Serialize(entries), qt.Equals, "Host a\n    User bob\n    Port 2200\n    ProxyCommand ssh -W %h:%p jump\n")
}

func TestParseCommentBetweenBlocksAttachesToNext(t *testing.T) {
	c := qt.New(t)
	input := "Host a\n    User x\n\n# about b\nHost b\n    User y\n"
	entries := Parse(input, "f")
	c.Assert(entries, qt.HasLen, 2)
	c.Assert(entries[0].Comment, qt.Equals, "")
	c.Assert(entries[1].Comment, qt.Equals, "# about b")
	c.Assert(Serialize(entries), qt.Equals, input)
}

func TestParseDetachedCommentIsDropped(t *testing.T) {
	c := qt.New(t)
	entries := Parse("# file header\n\n# about a\nHost a\n    User x\n", "f")
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(entries[0].Comment, qt.Equals, "# about a")

	entries = Parse("# about globals\nCompression yes\nHost a\n", "f")
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(entries[0].Comment, qt.Equals, "")
}

func TestParseNeverMaterializesWildcard(t *testing.T) {
	c := qt.New(t)
	input := "Host *\n    User def\n\n# Host *\n#    User x\n\nHost a\n    User y\n\nHost\n    User z\n"
	entries := Parse(input, "f")
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(entries[0].Host, qt.Equals, "a")
	c.Assert(directivePairs(entries[0]), qt.DeepEquals, []string{"User=y"})
}

func TestParseDropsIncludeAndMatch(t *testing.T) {
	c := qt.New(t)
	input := `Include config.d/*
Host a
    Include other
    User x
Match host y
    User z
# Host b
#    Include q
#    Match all
#    User w
`
	entries := Parse(input, "f")
	c.Assert(entries, qt.HasLen, 2)
	for _, e := range entries {
		for _, d := range e.Directives {
			c.Assert(unmodeled(d.Key), qt.IsFalse, qt.Commentf("entry %s kept %s", e.Host, d.Key))
		}
	}
	c.Assert(directivePairs(entries[0]), qt.DeepEquals, []string{"User=x"})
	c.Assert(entries[1].Commented, qt.IsTrue)
	c.Assert(directivePairs(entries[1]), qt.DeepEquals, []string{"User=w"})
}

func TestCommentedBlockEndsAtBlankLine(t *testing.T) {
	c := qt.New(t)
	input := "# Host old\n#     User root\n\n# notes for new\nHost new\n    User bob\n"
	entries := Parse(input, "f")
	c.Assert(entries, qt.HasLen, 2)
	c.Assert(directivePairs(entries[0]), qt.DeepEquals, []string{"User=root"})
	c.Assert(entries[1].Comment, qt.Equals, "# notes for new")
	c.Assert(Serialize(entries), qt.Equals, input)
}

func TestRealHostEndsCommentedBlock(t *testing.T) {
	c := qt.New(t)
	entries := Parse("# Host old\n#    User root\nHost new\n    User bob\n", "f")
	c.Assert(entries, qt.HasLen, 2)
	c.Assert(entries[0].Commented, qt.IsTrue)
	c.Assert(entries[1].Commented, qt.IsFalse)
	c.Assert(directivePairs(entries[1]), qt.DeepEquals, []string{"User=bob"})
}

func TestParseSkipsMalformedLines(t *testing.T) {
	c := qt.New(t)
	entries := Parse("Host a\n    BadLine\n    User x\r\n", "f")
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(directivePairs(entries[0]), qt.DeepEquals, []string{"User=x"})
}

func TestSerializeEmpty(t *testing.T) {
	qt.New(t).Assert(Serialize(nil), qt.Equals, "")
}

func TestHeader(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"globals then attached comment", "# global settings\nServerAliveInterval 60\n\n# about a\nHost a\n    User x\n", "# global settings\nServerAliveInterval 60\n\n"},
		{"include only", "Include config.d/*\nHost a\n", "Include config.d/*\n\n"},
		{"comment attached to first host", "# about a\nHost a\n", ""},
		{"commented first block", "Compression yes\n\n# Host off\n#   User x\n", "Compression yes\n\n"},
		{"no hosts", "Compression yes\n\n", "Compression yes\n\n"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			c.Assert(Header(tt.content), qt.Equals, tt.want)
		})
	}
}

func TestFooter(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"run after last block", "Host a\n    User x\n\n# trailing notes\n# more\n", "\n# trailing notes\n# more\n"},
		{"run inside last block", "Host a\n    User x\n    # note\n", "\n# note\n"},
		{"after commented block", "# Host off\n#   User x\n\n# tail\n", "\n# tail\n"},
		{"run attached to next host", "Host a\n\n# about b\nHost b\n", ""},
		{"no hosts", "# only a header\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			c.Assert(Footer(tt.content), qt.Equals, tt.want)
		})
	}
}

func TestEntryHelpers(t *testing.T) {
	c := qt.New(t)
	e := Parse("Host a\n    hostname 10.0.0.1\n    Zeta 1\n    User x\n    alpha 2\n    User y\n", "f")[0]

	c.Assert(e.Value("HostName"), qt.Equals, "10.0.0.1")
	c.Assert(e.Value("USER"), qt.Equals, "x")
	c.Assert(e.Value("Port"), qt.Equals, "")
	c.Assert(e.DuplicateKeys(), qt.DeepEquals, []string{"User"})

	var other []string
	for _, d := range e.OtherDirectives() {
		other = append(other, d.Key)
	}
	c.Assert(other, qt.DeepEquals, []string{"alpha", "Zeta"})

	e.SetValue("user", "z")
	c.Assert(directivePairs(e), qt.DeepEquals, []string{"hostname=10.0.0.1", "Zeta=1", "User=z", "alpha=2", "User=y"})
	e.SetValue("Port", "2222")
	c.Assert(e.Value("port"), qt.Equals, "2222")
	e.SetValue("Zeta", "")
	c.Assert(e.Value("Zeta"), qt.Equals, "")
	e.SetValue("Missing", "")
	c.Assert(directivePairs(e), qt.DeepEquals, []string{"hostname=10.0.0.1", "User=z", "alpha=2", "User=y", "Port=2222"})
}

func TestParseHosts(t *testing.T) {
	c := qt.New(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	content := `Host *
    User everyone

# Host hidden
#    HostName 10.9.9.9

Host web
    HostName web.internal
    Port 2200
    User deploy
    IdentityFile ~/.ssh/web

Host bare
    Port nonsense
`
	hosts := ParseHosts(content)
	c.Assert(hosts, qt.HasLen, 2)
	c.Assert(hosts[0], qt.DeepEquals, Host{
		Name: "web", HostName: "web.internal", Port: 2200, User: "deploy",
		IdentityFile: filepath.Join(home, ".ssh", "web"),
	})
	c.Assert(hosts[1], qt.DeepEquals, Host{Name: "bare", HostName: "bare", Port: 22})
}

func TestListFilesOrder(t *testing.T) {
	c := qt.New(t)
	root := t.TempDir()
	primary := filepath.Join(root, "config")
	dir := filepath.Join(root, "config.d")
	c.Assert(os.MkdirAll(filepath.Join(dir, "sub"), 0o700), qt.IsNil)
	for _, name := range []string{"b.conf", "a.conf", ".hidden"} {
		c.Assert(os.WriteFile(filepath.Join(dir, name), []byte("Host "+name+"\n"), 0o600), qt.IsNil)
	}

	c.Assert(ListFiles(primary, dir), qt.DeepEquals, []string{filepath.Join(dir, "a.conf"), filepath.Join(dir, "b.conf")})

	c.Assert(os.WriteFile(primary, []byte("Host p\n"), 0o600), qt.IsNil)
	files := ListFiles(primary, dir)
	c.Assert(files, qt.HasLen, 3)
	c.Assert(files[0], qt.Equals, primary)

	hosts, err := LoadHosts(append(files, filepath.Join(root, "missing")))
	c.Assert(err, qt.IsNil)
	var names []string
	for _, h := range hosts {
		names = append(names, h.Name)
	}
	c.Assert(strings.Join(names, ","), qt.Equals, "p,a.conf,b.conf")
}
