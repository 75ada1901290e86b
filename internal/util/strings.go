package util

import "strings"

// DefaultString returns fallback if v is blank, otherwise v unchanged.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash renders blank optional fields as "-" in tables and panels.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}

// LastLines returns at most n trailing lines of text, ignoring trailing
// newlines.
func LastLines(text string, n int) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
