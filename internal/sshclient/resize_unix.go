//go:build !windows

package sshclient

import (
	"os"
	"os/signal"
	"syscall"
)

// watchResize keeps the PTY size in sync with the terminal until the returned
// function is called.
func watchResize(f *os.File) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		for range ch {
			syncSize(f)
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
