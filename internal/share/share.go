// Package share converts tunnel configs to and from copyable text: the
// sshtunnel:// share string and a plain ssh command line.
package share

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/util"
)

// Scheme prefixes every share string.
const Scheme = "sshtunnel://"

// Encode renders cfg as a share string: a "sshtunnel://user@host:port/name"
// header followed by one line per forwarding rule. Bind addresses are not
// carried.
func Encode(cfg model.TunnelConfig) string {
	lines := []string{fmt.Sprintf("%s%s@%s:%d/%s", Scheme, cfg.Username, cfg.Host, cfg.Port, url.PathEscape(cfg.Name))}
	for _, r := range cfg.Tunnels {
		switch r.Type {
		case model.ForwardLocal:
			lines = append(lines, fmt.Sprintf("L:%d:%s:%d", r.LocalPort, r.RemoteHost, r.RemotePort))
		case model.ForwardRemote:
			lines = append(lines, fmt.Sprintf("R:%d:%s:%d", r.LocalPort, r.RemoteHost, r.RemotePort))
		case model.ForwardDynamic:
			lines = append(lines, fmt.Sprintf("D:%d", r.LocalPort))
		}
	}
	return strings.Join(lines, "\n")
}

// Decode parses a share string into a new config with a fresh id. Rule
// lines that do not parse are skipped. A string with the scheme but no "@"
// is read as the legacy base64-encoded JSON form.
func Decode(s string) (model.TunnelConfig, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, Scheme) {
		return model.TunnelConfig{}, fmt.Errorf("share string must start with %s", Scheme)
	}
	if !strings.Contains(raw, "@") {
		return decodeLegacy(strings.TrimPrefix(raw, Scheme))
	}

	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	uri := strings.TrimPrefix(lines[0], Scheme)
	at := strings.Index(uri, "@")
	if at < 0 {
		return model.TunnelConfig{}, fmt.Errorf("share string header has no user@host")
	}
	user, rest := uri[:at], uri[at+1:]

	hostPart, name := rest, ""
	if slash := strings.Index(rest, "/"); slash >= 0 {
		hostPart = rest[:slash]
		unescaped, err := url.PathUnescape(rest[slash+1:])
		if err != nil {
			return model.TunnelConfig{}, fmt.Errorf("decode name: %w", err)
		}
		name = unescaped
	}
	host, portStr, hasPort := strings.Cut(hostPart, ":")
	port := uint16(util.DefaultSSHPort)
	if hasPort {
		if p, err := strconv.ParseUint(portStr, 10, 16); err == nil {
			port = uint16(p)
		}
	}

	cfg := model.NewTunnelConfig(uuid.NewString(), name)
	cfg.Username = user
	cfg.Host = host
	cfg.Port = port
	for _, l := range lines[1:] {
		if r, ok := parseRuleLine(l); ok {
			cfg.Tunnels = append(cfg.Tunnels, r)
		}
	}
	return cfg, nil
}

func parseRuleLine(line string) (model.ForwardRule, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 2 {
		return model.ForwardRule{}, false
	}
	r := model.ForwardRule{ID: uuid.NewString()}
	switch strings.ToUpper(parts[0]) {
	case "L", "R":
		r.Type = model.ForwardLocal
		if strings.EqualFold(parts[0], "R") {
			r.Type = model.ForwardRemote
		}
		if len(parts) != 4 {
			return model.ForwardRule{}, false
		}
		lp, err1 := strconv.ParseUint(parts[1], 10, 16)
		rp, err2 := strconv.ParseUint(parts[3], 10, 16)
		if err1 != nil || err2 != nil {
			return model.ForwardRule{}, false
		}
		r.LocalPort, r.RemoteHost, r.RemotePort = uint16(lp), parts[2], uint16(rp)
	case "D":
		lp, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return model.ForwardRule{}, false
		}
		r.Type = model.ForwardDynamic
		r.LocalPort = uint16(lp)
	default:
		return model.ForwardRule{}, false
	}
	return r, true
}

// BuildCLI renders an ssh command line that runs the tunnel without this
// tool. AdditionalArgs is inserted as written.
func BuildCLI(cfg model.TunnelConfig) string {
	args := []string{"ssh", "-N"}
	if cfg.Port != util.DefaultSSHPort {
		args = append(args, "-p", strconv.Itoa(int(cfg.Port)))
	}
	switch cfg.AuthMethod {
	case model.AuthIdentityFile:
		if cfg.IdentityFile != "" {
			args = append(args, "-i", cfg.IdentityFile)
		}
	case model.AuthPassword:
		args = append(args, "-o", "PreferredAuthentications=password,keyboard-interactive")
	}
	for _, r := range cfg.Tunnels {
		args = append(args, r.Type.Flag(), r.Argument())
	}
	out := shellquote.Join(args...)
	if extra := strings.TrimSpace(cfg.AdditionalArgs); extra != "" {
		out += " " + extra
	}
	return out + " " + shellquote.Join(cfg.Target())
}

// legacyEnum accepts the enum spellings older exports used: lower or
// Pascal case strings, or the numeric ordinal.
type legacyEnum string

func (e *legacyEnum) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = legacyEnum(strings.ToLower(s))
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*e = legacyEnum(strconv.Itoa(n))
	return nil
}

type legacyRule struct {
	Type        legacyEnum `json:"type"`
	LocalPort   uint16     `json:"localPort"`
	RemoteHost  string     `json:"remoteHost"`
	RemotePort  uint16     `json:"remotePort"`
	BindAddress string     `json:"bindAddress"`
}

type legacyConfig struct {
	Name             string       `json:"name"`
	Host             string       `json:"host"`
	Port             uint16       `json:"port"`
	Username         string       `json:"username"`
	AuthMethod       legacyEnum   `json:"authMethod"`
	IdentityFile     string       `json:"identityFile"`
	Tunnels          []legacyRule `json:"tunnels"`
	AutoConnect      bool         `json:"autoConnect"`
	DisconnectOnQuit *bool        `json:"disconnectOnQuit"`
	AutoReconnect    *bool        `json:"autoReconnect"`
	AdditionalArgs   string       `json:"additionalArgs"`
}

func decodeLegacy(payload string) (model.TunnelConfig, error) {
	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err = enc.DecodeString(payload); err == nil {
			break
		}
	}
	if err != nil {
		return model.TunnelConfig{}, fmt.Errorf("decode legacy share string: %w", err)
	}
	var lc legacyConfig
	if err := json.Unmarshal(data, &lc); err != nil {
		return model.TunnelConfig{}, fmt.Errorf("decode legacy share payload: %w", err)
	}

	cfg := model.NewTunnelConfig(uuid.NewString(), lc.Name)
	cfg.Host = lc.Host
	if lc.Port != 0 {
		cfg.Port = lc.Port
	}
	cfg.Username = lc.Username
	cfg.IdentityFile = lc.IdentityFile
	cfg.AutoConnect = lc.AutoConnect
	cfg.AdditionalArgs = lc.AdditionalArgs
	if lc.DisconnectOnQuit != nil {
		cfg.DisconnectOnQuit = *lc.DisconnectOnQuit
	}
	if lc.AutoReconnect != nil {
		cfg.AutoReconnect = *lc.AutoReconnect
	}
	if lc.AuthMethod == "password" || lc.AuthMethod == "1" {
		cfg.AuthMethod = model.AuthPassword
	}
	for _, lr := range lc.Tunnels {
		kind, ok := legacyForwardType(lr.Type)
		if !ok {
			continue
		}
		cfg.Tunnels = append(cfg.Tunnels, model.ForwardRule{
			ID:          uuid.NewString(),
			Type:        kind,
			LocalPort:   lr.LocalPort,
			RemoteHost:  lr.RemoteHost,
			RemotePort:  lr.RemotePort,
			BindAddress: lr.BindAddress,
		})
	}
	return cfg, nil
}

func legacyForwardType(e legacyEnum) (model.ForwardType, bool) {
	switch e {
	case "local", "0":
		return model.ForwardLocal, true
	case "remote", "1":
		return model.ForwardRemote, true
	case "dynamic", "2":
		return model.ForwardDynamic, true
	}
	return "", false
}
