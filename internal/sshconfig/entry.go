// Package sshconfig reads and rewrites OpenSSH client configuration files
// without losing comments, ordering or commented-out Host blocks.
//
// A primary file (~/.ssh/config) and every non-hidden file of a drop-in
// directory (~/.ssh/config.d) are parsed into one ordered list of Entry
// values. Edits go through Store, which regenerates every affected file from
// the in-memory list. Text above the first Host block of the primary file is
// kept verbatim as a header.
package sshconfig

import (
	"sort"
	"strings"
)

// CommonKeys are the directives edited through dedicated fields.
var CommonKeys = []string{
	"HostName", "User", "Port", "IdentityFile",
	"ProxyCommand", "ProxyJump", "ForwardAgent",
	"ServerAliveInterval", "ServerAliveCountMax",
}

// Directive is one "Key Value" line of a Host block. Key keeps the case it was
// written with and is matched case-insensitively.
type Directive struct {
	ID    string
	Key   string
	Value string
}

// Entry is one Host block.
type Entry struct {
	ID         string
	Host       string
	Directives []Directive
	SourceFile string
	// Comment is the verbatim comment run directly above the Host line.
	Comment string
	// Commented marks a block that is disabled with a leading "# " on every line.
	Commented bool
}

// Value returns the value of the first directive matching key, or "".
func (e Entry) Value(key string) string {
	if i := e.index(key); i >= 0 {
		return e.Directives[i].Value
	}
	return ""
}

// SetValue updates the first directive matching key. An empty value removes
// it; a missing key is appended. Later duplicates are left alone.
func (e *Entry) SetValue(key, value string) {
	i := e.index(key)
	switch {
	case i >= 0 && value == "":
		e.Directives = append(e.Directives[:i], e.Directives[i+1:]...)
	case i >= 0:
		e.Directives[i].Value = value
	case value != "":
		e.Directives = append(e.Directives, Directive{ID: newID(), Key: key, Value: value})
	}
}

// OtherDirectives returns the directives that are not CommonKeys, sorted
// case-insensitively by key.
func (e Entry) OtherDirectives() []Directive {
	common := make(map[string]bool, len(CommonKeys))
	for _, k := range CommonKeys {
		common[strings.ToLower(k)] = true
	}
	var out []Directive
	for _, d := range e.Directives {
		if !common[strings.ToLower(d.Key)] {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key)
	})
	return out
}

// DuplicateKeys lists keys that appear more than once, in first-seen order.
func (e Entry) DuplicateKeys() []string {
	seen := map[string]int{}
	var out []string
	for _, d := range e.Directives {
		k := strings.ToLower(d.Key)
		seen[k]++
		if seen[k] == 2 {
			out = append(out, d.Key)
		}
	}
	return out
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	out := e
	if e.Directives != nil {
		out.Directives = append([]Directive(nil), e.Directives...)
	}
	return out
}

func (e Entry) index(key string) int {
	for i, d := range e.Directives {
		if strings.EqualFold(d.Key, key) {
			return i
		}
	}
	return -1
}
