package sshclient

import (
	"strconv"
	"strings"

	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/util"
)

// KeyResolver maps a configured identity file to the path handed to ssh.
// keystage.Stager.Resolve satisfies it.
type KeyResolver func(keyPath, tunnelID string) string

// BuildArgs returns the ssh argument vector for a tunnel:
//
//	-N -v -o ExitOnForwardFailure=yes -o ServerAliveInterval=30
//	-o ServerAliveCountMax=3 -o StrictHostKeyChecking=accept-new -p <port>
//	<auth flags> <one flag/argument pair per rule> <extra args> user@host
//
// It performs no validation; an empty host or user surfaces later as an ssh
// failure. resolve may be nil, in which case the identity file is used as is.
func BuildArgs(cfg model.TunnelConfig, resolve KeyResolver) []string {
	args := []string{
		"-N",
		"-v",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=" + strconv.Itoa(util.KeepAliveInterval),
		"-o", "ServerAliveCountMax=" + strconv.Itoa(util.KeepAliveCountMax),
		"-o", "StrictHostKeyChecking=accept-new",
		"-p", strconv.Itoa(int(cfg.Port)),
	}
	args = append(args, authArgs(cfg, resolve)...)
	for _, r := range cfg.Tunnels {
		args = append(args, r.Type.Flag(), r.Argument())
	}
	args = append(args, strings.Fields(cfg.AdditionalArgs)...)
	return append(args, cfg.Target())
}

// InteractiveArgs returns the argument vector for a login shell on the
// tunnel's target: same port, auth and extra arguments, no forwards.
func InteractiveArgs(cfg model.TunnelConfig, resolve KeyResolver) []string {
	args := []string{"-p", strconv.Itoa(int(cfg.Port))}
	args = append(args, authArgs(cfg, resolve)...)
	args = append(args, strings.Fields(cfg.AdditionalArgs)...)
	return append(args, cfg.Target())
}

func authArgs(cfg model.TunnelConfig, resolve KeyResolver) []string {
	switch cfg.AuthMethod {
	case model.AuthIdentityFile:
		var out []string
		if cfg.IdentityFile != "" {
			key := cfg.IdentityFile
			if resolve != nil {
				key = resolve(key, cfg.ID)
			}
			out = append(out, "-i", key)
		}
		return append(out, "-o", "PasswordAuthentication=no")
	case model.AuthPassword:
		return []string{"-o", "PreferredAuthentications=password,keyboard-interactive"}
	}
	return nil
}
