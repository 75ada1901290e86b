package sshclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// RunInteractive runs ssh with args inside a PTY attached to the user's
// terminal and blocks until the session ends.
//
// The local terminal is put into raw mode for the duration so keystrokes
// (Ctrl-C included) reach the remote shell. If ctx is cancelled the ssh
// process is killed.
func (c *Client) RunInteractive(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)

	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer f.Close()

	syncSize(f)
	stopResize := watchResize(f)
	defer stopResize()

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if old, err := term.MakeRaw(fd); err == nil {
			defer func() { _ = term.Restore(fd, old) }()
		}
	}

	go func() {
		_, _ = io.Copy(f, os.Stdin)
	}()
	_, _ = io.Copy(os.Stdout, f)

	return cmd.Wait()
}

// syncSize copies the current terminal size onto the PTY.
func syncSize(f *os.File) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || rows <= 0 || cols <= 0 {
		return
	}
	_ = pty.Setsize(f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}
