package sshconfig

import "strings"

const indent = "    "

// Serialize renders entries as config text: a blank line between blocks,
// each block's comment verbatim, the Host line and one indented line per
// directive, all prefixed with "# " for commented blocks. Non-empty output
// ends with a newline.
func Serialize(entries []Entry) string {
	var b strings.Builder
	first := true
	for _, e := range entries {
		if isGlobalHost(e.Host) {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		if e.Comment != "" {
			b.WriteString(e.Comment)
			b.WriteString("\n")
		}
		prefix := ""
		if e.Commented {
			prefix = "# "
		}
		b.WriteString(prefix + "Host " + e.Host + "\n")
		for _, d := range e.Directives {
			b.WriteString(prefix + indent + d.Key + " " + d.Value + "\n")
		}
	}
	return b.String()
}
