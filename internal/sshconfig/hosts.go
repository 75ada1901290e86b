package sshconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Host is the reduced view of a Host block used by the host picker.
type Host struct {
	Name         string
	HostName     string
	Port         int
	User         string
	IdentityFile string
}

// ParseHosts extracts Host, HostName, Port, User and IdentityFile from
// content. Comments and commented blocks are ignored, HostName defaults to
// the Host pattern, an unparsable Port falls back to 22 and a leading ~ in
// IdentityFile is expanded.
func ParseHosts(content string) []Host {
	var (
		hosts []Host
		cur   *Host
	)
	flush := func() {
		if cur != nil && !isGlobalHost(cur.Name) {
			if cur.HostName == "" {
				cur.HostName = cur.Name
			}
			hosts = append(hosts, *cur)
		}
		cur = nil
	}
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		if strings.EqualFold(key, "host") {
			flush()
			cur = &Host{Name: value, Port: 22}
			continue
		}
		if cur == nil {
			continue
		}
		switch strings.ToLower(key) {
		case "hostname":
			cur.HostName = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil && p > 0 && p <= 65535 {
				cur.Port = p
			} else {
				cur.Port = 22
			}
		case "user":
			cur.User = value
		case "identityfile":
			cur.IdentityFile = expandHome(value)
		}
	}
	flush()
	return hosts
}

// LoadHosts parses every file with ParseHosts, in order. Missing files are
// skipped.
func LoadHosts(files []string) ([]Host, error) {
	var hosts []Host
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return hosts, fmt.Errorf("read %s: %w", f, err)
		}
		hosts = append(hosts, ParseHosts(string(b))...)
	}
	return hosts, nil
}
