// Package appconfig manages application configuration and the paths of the
// files sshtunnel keeps next to it.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/treykane/sshtunnel/internal/util"
)

// SSHConfig locates the ssh binary and the ssh client configuration.
type SSHConfig struct {
	Binary     string `yaml:"binary"`
	ConfigPath string `yaml:"config_path"`
	ConfigDir  string `yaml:"config_dir"`
}

// TunnelSettings tunes the supervisor.
type TunnelSettings struct {
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// StartupConfig controls what happens when the dashboard or `run` starts.
type StartupConfig struct {
	AutoConnect   bool `yaml:"auto_connect"`
	OpenDashboard bool `yaml:"open_dashboard"`
}

// LogConfig configures the rotating application log.
type LogConfig struct {
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// SecurityConfig controls how errors are shown to the user.
type SecurityConfig struct {
	RedactErrors bool `yaml:"redact_errors"`
}

// Config holds application-level configuration.
type Config struct {
	SSH      SSHConfig      `yaml:"ssh"`
	Tunnel   TunnelSettings `yaml:"tunnel"`
	Startup  StartupConfig  `yaml:"startup"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
	Security SecurityConfig `yaml:"security"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Tunnel:   TunnelSettings{ConnectTimeoutSeconds: int(util.DefaultConnectTimeout / time.Second)},
		Startup:  StartupConfig{AutoConnect: true, OpenDashboard: true},
		Log:      LogConfig{Level: "info", MaxSizeMB: 5, MaxBackups: 3},
		UI:       UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
		Security: SecurityConfig{RedactErrors: true},
	}
}

// ConnectTimeout returns the connect heuristic as a duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Tunnel.ConnectTimeoutSeconds) * time.Second
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/sshtunnel.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sshtunnel"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "sshtunnel"), nil
}

// DataPath returns the path of a named file in the config directory, such
// as tunnels.json or events.jsonl.
func DataPath(name string) (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	path, err := DataPath("config.yaml")
	if err != nil {
		return Config{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Tunnel.ConnectTimeoutSeconds <= 0 {
		cfg.Tunnel.ConnectTimeoutSeconds = def.Tunnel.ConnectTimeoutSeconds
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = 0
	}
	cfg.SSH.Binary = strings.TrimSpace(cfg.SSH.Binary)
	cfg.SSH.ConfigPath = expandHome(strings.TrimSpace(cfg.SSH.ConfigPath))
	cfg.SSH.ConfigDir = expandHome(strings.TrimSpace(cfg.SSH.ConfigDir))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	path, err := DataPath("config.yaml")
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, b, 0o600)
}
