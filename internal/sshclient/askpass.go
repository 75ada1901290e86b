package sshclient

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AskpassPath is where the password helper for tunnelID lives inside dir.
func AskpassPath(dir, tunnelID string) string {
	name := "sshtunnel-askpass-" + tunnelID
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, name+".cmd")
	}
	return filepath.Join(dir, name+".sh")
}

// WriteAskpass writes an executable helper that prints secret on stdout. ssh
// runs it in place of prompting when SSH_ASKPASS_REQUIRE=force is set.
func WriteAskpass(dir, tunnelID, secret string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := AskpassPath(dir, tunnelID)
	var body string
	if runtime.GOOS == "windows" {
		body = "@echo off\r\n" + cmdEcho(secret) + "\r\n"
	} else {
		body = "#!/bin/sh\nprintf '%s\\n' " + shellSingleQuote(secret) + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o700); err != nil {
		return "", fmt.Errorf("write askpass helper: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o700); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("chmod askpass helper: %w", err)
	}
	return path, nil
}

// RemoveAskpass deletes the helper for tunnelID. Missing files are ignored.
func RemoveAskpass(dir, tunnelID string) {
	if dir == "" {
		dir = os.TempDir()
	}
	_ = os.Remove(AskpassPath(dir, tunnelID))
}

// AskpassEnv returns the environment entries that force ssh to use the
// helper at path. An existing DISPLAY is left alone.
func AskpassEnv(path string) []string {
	env := []string{
		"SSH_ASKPASS=" + path,
		"SSH_ASKPASS_REQUIRE=force",
	}
	if os.Getenv("DISPLAY") == "" {
		env = append(env, "DISPLAY=localhost:0")
	}
	return env
}

func shellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// cmdEcho returns a batch file line that prints s verbatim. "echo(" prints
// empty and "on"/"off" values as text. Outside double quotes cmd
// metacharacters are escaped with a caret; inside quotes they are literal
// already. A percent sign is doubled in either case.
func cmdEcho(s string) string {
	var b strings.Builder
	b.WriteString("echo(")
	quoted := false
	for _, r := range s {
		switch {
		case r == '%':
			b.WriteString("%%")
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case !quoted && strings.ContainsRune("&|<>^()", r):
			b.WriteByte('^')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
