package model

import (
	"fmt"
	"strings"
)

// ForwardType selects the ssh forwarding flag for a rule.
type ForwardType string

const (
	ForwardLocal   ForwardType = "local"
	ForwardRemote  ForwardType = "remote"
	ForwardDynamic ForwardType = "dynamic"
)

// Flag returns the ssh command-line flag for the forwarding type.
func (t ForwardType) Flag() string {
	switch t {
	case ForwardLocal:
		return "-L"
	case ForwardRemote:
		return "-R"
	case ForwardDynamic:
		return "-D"
	default:
		return ""
	}
}

// Valid reports whether t is one of the known forwarding types.
func (t ForwardType) Valid() bool {
	return t == ForwardLocal || t == ForwardRemote || t == ForwardDynamic
}

// ForwardRule defines one -L/-R/-D mapping of a tunnel.
type ForwardRule struct {
	ID          string      `json:"id"`
	Type        ForwardType `json:"type"`
	LocalPort   uint16      `json:"localPort"`
	RemoteHost  string      `json:"remoteHost"`
	RemotePort  uint16      `json:"remotePort"`
	BindAddress string      `json:"bindAddress"`
}

// Argument renders the value passed after the rule's flag:
// [bind:]local[:remoteHost:remotePort].
func (r ForwardRule) Argument() string {
	bind := ""
	if strings.TrimSpace(r.BindAddress) != "" {
		bind = r.BindAddress + ":"
	}
	switch r.Type {
	case ForwardLocal, ForwardRemote:
		return fmt.Sprintf("%s%d:%s:%d", bind, r.LocalPort, r.RemoteHost, r.RemotePort)
	case ForwardDynamic:
		return fmt.Sprintf("%s%d", bind, r.LocalPort)
	default:
		return ""
	}
}

// Validate checks the rule invariants: local and remote rules need a remote
// endpoint, dynamic rules only a local port.
func (r ForwardRule) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unknown forward type %q", r.Type)
	}
	if r.LocalPort == 0 {
		return fmt.Errorf("%s forward: local port is required", r.Type)
	}
	if r.Type == ForwardDynamic {
		return nil
	}
	if strings.TrimSpace(r.RemoteHost) == "" {
		return fmt.Errorf("%s forward: remote host is required", r.Type)
	}
	if r.RemotePort == 0 {
		return fmt.Errorf("%s forward: remote port is required", r.Type)
	}
	return nil
}

// AuthMethod is how the ssh client authenticates to the target host.
type AuthMethod string

const (
	AuthIdentityFile AuthMethod = "identityFile"
	AuthPassword     AuthMethod = "password"
)

// TunnelConfig is one persisted tunnel definition.
type TunnelConfig struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Host             string        `json:"host"`
	Port             uint16        `json:"port"`
	Username         string        `json:"username"`
	AuthMethod       AuthMethod    `json:"authMethod"`
	IdentityFile     string        `json:"identityFile"`
	Tunnels          []ForwardRule `json:"tunnels"`
	AutoConnect      bool          `json:"autoConnect"`
	DisconnectOnQuit bool          `json:"disconnectOnQuit"`
	// AutoReconnect is stored but not acted on by the supervisor.
	AutoReconnect  bool   `json:"autoReconnect"`
	AdditionalArgs string `json:"additionalArgs"`
}

// NewTunnelConfig returns a config with the defaults used for new tunnels.
func NewTunnelConfig(id, name string) TunnelConfig {
	return TunnelConfig{
		ID:               id,
		Name:             name,
		Port:             22,
		AuthMethod:       AuthIdentityFile,
		DisconnectOnQuit: true,
		AutoReconnect:    true,
	}
}

// Target returns the user@host positional argument.
func (c TunnelConfig) Target() string {
	return c.Username + "@" + c.Host
}

// DisplayName falls back to the target when the tunnel has no name.
func (c TunnelConfig) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	return c.Target()
}

// Clone returns a deep copy.
func (c TunnelConfig) Clone() TunnelConfig {
	out := c
	if c.Tunnels != nil {
		out.Tunnels = append([]ForwardRule(nil), c.Tunnels...)
	}
	return out
}

// Validate checks the fields required to build a usable command line.
func (c TunnelConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if c.AuthMethod != AuthIdentityFile && c.AuthMethod != AuthPassword {
		return fmt.Errorf("unknown auth method %q", c.AuthMethod)
	}
	for i, r := range c.Tunnels {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("forward %d: %w", i, err)
		}
	}
	return nil
}

// ConnectionState is the lifecycle state of one tunnel's ssh process.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Error        ConnectionState = "error"
)

// IsActive is true while a process is starting or running.
func (s ConnectionState) IsActive() bool {
	return s == Connecting || s == Connected
}
