// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/juju/lumberjack/v2"

	"github.com/treykane/sshtunnel/internal/appconfig"
)

// FileName is the rotating log file inside the config directory.
const FileName = "sshtunnel.log"

// Setup points the default slog logger at a rotating file in the config
// directory. verbose forces debug level and mirrors records to stderr. The
// returned closer flushes and closes the log file.
func Setup(cfg appconfig.LogConfig, verbose bool) (io.Closer, error) {
	path, err := appconfig.DataPath(FileName)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	level := ParseLevel(cfg.Level)
	var w io.Writer = file
	if verbose {
		level = slog.LevelDebug
		w = io.MultiWriter(file, os.Stderr)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return file, nil
}

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
