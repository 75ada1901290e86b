package sshconfig

import (
	"strings"

	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

// Parse reads one config file's content into entries tagged with sourceFile.
// It never fails: lines it cannot interpret are skipped.
//
//   - A comment run directly above a Host line becomes that entry's Comment.
//     Blank lines and global directives outside a block discard the run.
//   - "# Host x" starts a commented block whose "# Key Value" lines are its
//     directives. The block ends at the next blank or uncommented line.
//   - Include and Match lines are never kept. Match also ends the current
//     block, since what follows it does not belong to the preceding Host.
//   - Blocks for "*" or with an empty pattern are dropped.
//   - A comment run after the last block belongs to no entry; see Footer.
func Parse(content, sourceFile string) []Entry {
	p := parser{source: sourceFile}
	for _, raw := range strings.Split(content, "\n") {
		p.line(strings.TrimSpace(raw))
	}
	p.flush()
	return p.entries
}

type parser struct {
	source   string
	entries  []Entry
	cur      *Entry
	comments []string
	blocks   int
}

func (p *parser) line(line string) {
	if line == "" {
		switch {
		case p.cur == nil:
			p.comments = nil
		case p.cur.Commented:
			p.flush()
		}
		return
	}

	if strings.HasPrefix(line, "#") {
		inner := strings.TrimSpace(strings.TrimLeft(line, "#"))
		key, value, ok := splitDirective(inner)
		if ok && strings.EqualFold(key, "Host") {
			p.flush()
			p.start(value, true)
			return
		}
		if p.cur != nil && p.cur.Commented {
			if ok && !unmodeled(key) {
				p.add(key, value)
			}
			return
		}
		p.comments = append(p.comments, line)
		return
	}

	if p.cur != nil && p.cur.Commented {
		p.flush()
	}
	key, value, ok := splitDirective(line)
	if !ok {
		return
	}
	switch {
	case strings.EqualFold(key, "Host"):
		p.flush()
		p.start(value, false)
	case strings.EqualFold(key, "Match"):
		p.flush()
		p.comments = nil
	case p.cur == nil:
		// Global option or Include: not part of any entry.
		p.comments = nil
	case unmodeled(key):
	default:
		p.add(key, value)
	}
}

func (p *parser) start(host string, commented bool) {
	p.cur = &Entry{
		ID:         newID(),
		Host:       host,
		SourceFile: p.source,
		Comment:    strings.Join(p.comments, "\n"),
		Commented:  commented,
	}
	p.comments = nil
	p.blocks++
}

func (p *parser) add(key, value string) {
	p.cur.Directives = append(p.cur.Directives, Directive{ID: newID(), Key: key, Value: value})
}

func (p *parser) flush() {
	if p.cur != nil && !isGlobalHost(p.cur.Host) {
		p.entries = append(p.entries, *p.cur)
	}
	p.cur = nil
}

func isGlobalHost(host string) bool {
	host = strings.TrimSpace(host)
	return host == "" || host == "*"
}

func unmodeled(key string) bool {
	return strings.EqualFold(key, "Include") || strings.EqualFold(key, "Match")
}

// splitDirective splits "Key Value", "Key=Value" and "Key = Value".
func splitDirective(line string) (key, value string, ok bool) {
	i := strings.IndexAny(line, " \t=")
	if i <= 0 {
		return "", "", false
	}
	key = line[:i]
	value = strings.TrimSpace(line[i:])
	value = strings.TrimSpace(strings.TrimPrefix(value, "="))
	return key, value, value != ""
}

// Header returns the verbatim text that precedes the first Host block of
// content, excluding the comment run that Parse attaches to that block.
// Trailing blank lines are dropped and a non-empty header is followed by one
// blank line.
func Header(content string) string {
	lines := strings.Split(content, "\n")
	end := len(lines)
	runStart := -1
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			runStart = -1
			continue
		}
		if strings.HasPrefix(line, "#") {
			inner := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if key, _, ok := splitDirective(inner); ok && strings.EqualFold(key, "Host") {
				end = i
				break
			}
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if key, _, ok := splitDirective(line); ok && strings.EqualFold(key, "Host") {
			end = i
			break
		}
		runStart = -1
	}
	if end < len(lines) && runStart >= 0 {
		end = runStart
	}
	header := strings.TrimRight(strings.Join(lines[:end], "\n"), " \t\r\n")
	if header == "" {
		return ""
	}
	return header + "\n\n"
}

// Footer returns the comment run left over at the end of content once the
// last Host block has been read, preceded by one blank line. Text before the
// first block is Header's and is never part of the footer.
func Footer(content string) string {
	var p parser
	for _, raw := range strings.Split(content, "\n") {
		p.line(strings.TrimSpace(raw))
	}
	if p.blocks == 0 || len(p.comments) == 0 {
		return ""
	}
	return "\n" + strings.Join(p.comments, "\n") + "\n"
}
