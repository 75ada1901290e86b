// Package sshclient launches the system ssh binary for tunnels and
// interactive sessions.
//
// This package does NOT implement the SSH protocol. It shells out to the
// user's OpenSSH client, so keys, agents, known_hosts and ~/.ssh/config all
// behave exactly as they do on the command line.
//
// There are two kinds of process:
//
//   - Tunnel processes: StartTunnel() launches "ssh -N ..." in the background
//     with stdout and stderr merged into a single pipe, so the caller
//     (internal/tunnel) sees one ordered log stream. Stdin stays open for the
//     life of the process; ssh needs it for the askpass prompt mechanism.
//
//   - Interactive sessions: RunInteractive() allocates a PTY and connects the
//     user's terminal to a live ssh session for "sshtunnel shell".
//
// All arguments are passed as argv to exec.Command, never through a shell, so
// host names and extra arguments cannot inject shell syntax.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// TunnelProcess is a running tunnel process.
//
// The caller owns the lifecycle:
//   - It reads Output until EOF. Output carries stdout and stderr interleaved
//     in the order ssh wrote them.
//   - It then calls Cmd.Wait() to reap the process and read its exit code.
//   - It may signal Cmd.Process to stop the tunnel.
//
// Stdin is the write end of the process's standard input. Closing it is
// optional; it is closed when the process exits.
type TunnelProcess struct {
	Cmd    *exec.Cmd
	Output io.ReadCloser
	Stdin  io.WriteCloser
}

// Spec describes one tunnel process to start.
type Spec struct {
	// Binary is the ssh executable, usually from FindSSHBinary.
	Binary string
	// Args is the argument vector from BuildArgs.
	Args []string
	// Env entries are appended to the current environment.
	Env []string
}

// Client creates ssh processes. It is stateless and safe for concurrent use.
type Client struct{}

// New creates a new SSH client.
func New() *Client { return &Client{} }

// StartTunnel starts spec as a background process.
//
// The ctx parameter is passed to exec.CommandContext: cancelling it kills the
// process. tunnel.Manager uses a per-connect context for this.
//
// On success the caller must drain Output and then call Cmd.Wait().
func (c *Client) StartTunnel(ctx context.Context, spec Spec) (*TunnelProcess, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	// One pipe for both streams keeps ssh's own ordering of debug and error
	// lines, which two separate pipes would lose.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end. Closing ours means the
	// reader sees EOF as soon as the child exits.
	_ = pw.Close()

	return &TunnelProcess{Cmd: cmd, Output: pr, Stdin: stdin}, nil
}

// FindSSHBinary locates the ssh executable: the configured override if set,
// then PATH, then the usual install directories. If nothing is found it
// returns the bare name and lets the spawn fail with the OS error.
func FindSSHBinary(override string) string {
	if override != "" {
		return override
	}
	name := "ssh"
	if runtime.GOOS == "windows" {
		name = "ssh.exe"
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	for _, dir := range wellKnownDirs() {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return name
}

func wellKnownDirs() []string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return []string{filepath.Join(root, "System32", "OpenSSH")}
	}
	return []string{"/usr/bin", "/usr/local/bin", "/opt/homebrew/bin"}
}

// EnsureSSHBinary reports an error when no ssh executable can be found.
func EnsureSSHBinary(override string) (string, error) {
	bin := FindSSHBinary(override)
	if filepath.IsAbs(bin) {
		if _, err := os.Stat(bin); err != nil {
			return bin, fmt.Errorf("ssh binary %s: %w", bin, err)
		}
		return bin, nil
	}
	p, err := exec.LookPath(bin)
	if err != nil {
		return bin, fmt.Errorf("ssh binary not found in PATH")
	}
	return p, nil
}
