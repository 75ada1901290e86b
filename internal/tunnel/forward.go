package tunnel

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/util"
)

// PortConflict is a forwarding rule whose local port could not be bound.
type PortConflict struct {
	RuleID string
	Port   uint16
	Err    error
}

func (c PortConflict) String() string {
	return fmt.Sprintf("local port %d is already in use", c.Port)
}

// CheckPortConflicts tries to bind each rule's local port on the loopback
// interface. Conflicts are advisory: the caller decides whether to connect
// anyway. Rules with port 0 are skipped.
func CheckPortConflicts(cfg model.TunnelConfig) []PortConflict {
	var out []PortConflict
	for _, r := range cfg.Tunnels {
		if r.LocalPort == 0 {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(r.LocalPort))))
		if err != nil {
			out = append(out, PortConflict{RuleID: r.ID, Port: r.LocalPort, Err: err})
			continue
		}
		_ = ln.Close()
	}
	return out
}

// ParseForwardArg parses a forward specification string from the command
// line. Local and remote rules accept "localPort:remoteHost:remotePort" or
// "bindAddr:localPort:remoteHost:remotePort"; dynamic rules accept
// "localPort" or "bindAddr:localPort". The rule gets a fresh id.
func ParseForwardArg(kind model.ForwardType, s string) (model.ForwardRule, error) {
	if !kind.Valid() {
		return model.ForwardRule{}, fmt.Errorf("unknown forward type %q", kind)
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	rule := model.ForwardRule{ID: uuid.NewString(), Type: kind}

	if kind == model.ForwardDynamic {
		switch len(parts) {
		case 1:
		case 2:
			rule.BindAddress = parts[0]
			parts = parts[1:]
		default:
			return model.ForwardRule{}, fmt.Errorf("dynamic forward format must be localPort or bindAddr:localPort")
		}
		lp, err := util.ParsePort(parts[0])
		if err != nil {
			return model.ForwardRule{}, fmt.Errorf("invalid local port: %w", err)
		}
		rule.LocalPort = lp
		return rule, nil
	}

	switch len(parts) {
	case 3:
	case 4:
		rule.BindAddress = parts[0]
		parts = parts[1:]
	default:
		return model.ForwardRule{}, fmt.Errorf("forward format must be localPort:remoteHost:remotePort or bindAddr:localPort:remoteHost:remotePort")
	}
	lp, err := util.ParsePort(parts[0])
	if err != nil {
		return model.ForwardRule{}, fmt.Errorf("invalid local port: %w", err)
	}
	rp, err := util.ParsePort(parts[2])
	if err != nil {
		return model.ForwardRule{}, fmt.Errorf("invalid remote port: %w", err)
	}
	if strings.TrimSpace(parts[1]) == "" {
		return model.ForwardRule{}, fmt.Errorf("remote host is required")
	}
	rule.LocalPort = lp
	rule.RemoteHost = parts[1]
	rule.RemotePort = rp
	return rule, nil
}
