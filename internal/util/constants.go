// Package util holds constants and small helpers shared by the sshtunnel
// packages. It imports nothing from internal/ so any package may depend on it.
package util

import "time"

const (
	// DefaultSSHPort is used when a tunnel or share string omits the port.
	DefaultSSHPort = 22

	// DefaultConnectTimeout is how long a freshly spawned ssh process must stay
	// alive before its tunnel is reported as connected. The process gives no
	// handshake signal, so survival is the only evidence available.
	DefaultConnectTimeout = 3 * time.Second

	// ErrorLogTailLines is the number of captured log lines appended to the
	// error message of a connect attempt that fails while still connecting.
	ErrorLogTailLines = 5

	// KeepAliveInterval and KeepAliveCountMax feed ServerAliveInterval and
	// ServerAliveCountMax on every tunnel process.
	KeepAliveInterval = 30
	KeepAliveCountMax = 3

	// DefaultRefreshSeconds is the dashboard redraw interval used when
	// config.yaml has no usable ui.refresh_seconds.
	DefaultRefreshSeconds = 3
)
