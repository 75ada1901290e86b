//go:build windows

package sshclient

import "os"

// Windows has no SIGWINCH; the PTY keeps its initial size.
func watchResize(*os.File) func() { return func() {} }
