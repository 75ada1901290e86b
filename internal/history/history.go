// Package history remembers when each tunnel last reached the connected
// state.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/status"
	"github.com/treykane/sshtunnel/internal/util"
)

type store struct {
	LastConnected map[string]int64 `json:"last_connected"`
}

func filePath() (string, error) {
	return appconfig.DataPath("history.json")
}

// Touch records a successful connection for a tunnel id.
func Touch(tunnelID string) error {
	st, err := load()
	if err != nil {
		return err
	}
	st.LastConnected[tunnelID] = time.Now().Unix()
	return save(st)
}

// Forget drops the record of a deleted tunnel.
func Forget(tunnelID string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if _, ok := st.LastConnected[tunnelID]; !ok {
		return nil
	}
	delete(st.LastConnected, tunnelID)
	return save(st)
}

// LastConnected returns last connection timestamps by tunnel id.
func LastConnected() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastConnected, nil
}

// Track touches a tunnel every time the registry reports it Connected. The
// returned function stops tracking.
func Track(reg *status.Registry) func() {
	return reg.Subscribe(func(ch status.Change) {
		if ch.State != model.Connected || ch.Previous == model.Connected {
			return
		}
		if err := Touch(ch.ID); err != nil {
			slog.Warn("failed to record tunnel history", "tunnel", ch.ID, "error", err)
		}
	})
}

// SortRecent returns a new slice sorted by last connection (desc), then name.
func SortRecent(tunnels []model.TunnelConfig, last map[string]int64) []model.TunnelConfig {
	out := append([]model.TunnelConfig(nil), tunnels...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := last[out[i].ID]
		tj := last[out[j].ID]
		if ti != tj {
			return ti > tj
		}
		return strings.ToLower(out[i].DisplayName()) < strings.ToLower(out[j].DisplayName())
	})
	return out
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastConnected: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastConnected: map[string]int64{}}, nil
	}
	if st.LastConnected == nil {
		st.LastConnected = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, b, 0o600)
}
