// Package bundle stores named groups of tunnels that are connected together.
package bundle

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/treykane/sshtunnel/internal/appconfig"
	"github.com/treykane/sshtunnel/internal/model"
	"github.com/treykane/sshtunnel/internal/util"
)

// Definition is a named list of tunnel ids.
type Definition struct {
	Name    string   `yaml:"name" json:"name"`
	Tunnels []string `yaml:"tunnels" json:"tunnels"`
}

type fileModel struct {
	Bundles map[string]Definition `yaml:"bundles"`
}

func filePath() (string, error) {
	return appconfig.DataPath("bundles.yaml")
}

// LoadAll returns all bundles sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Bundles))
	for _, b := range fm.Bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one bundle by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	b, ok := fm.Bundles[name]
	if !ok {
		return Definition{}, fmt.Errorf("bundle not found: %s", name)
	}
	return b, nil
}

// Create adds or replaces a bundle definition. Duplicate ids are dropped.
func Create(name string, tunnelIDs []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bundle name cannot be empty")
	}
	if len(tunnelIDs) == 0 {
		return fmt.Errorf("bundle must include at least one tunnel")
	}
	seen := map[string]bool{}
	var ids []string
	for i, id := range tunnelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("bundle entry %d missing tunnel id", i)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Bundles[name] = Definition{Name: name, Tunnels: ids}
	return saveFile(fm)
}

// Delete removes a bundle by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Bundles[name]; !ok {
		return fmt.Errorf("bundle not found: %s", name)
	}
	delete(fm.Bundles, name)
	return saveFile(fm)
}

// RemoveTunnel drops a deleted tunnel from every bundle. Bundles left empty
// are removed.
func RemoveTunnel(tunnelID string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	changed := false
	for name, def := range fm.Bundles {
		kept := def.Tunnels[:0:0]
		for _, id := range def.Tunnels {
			if id != tunnelID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(def.Tunnels) {
			continue
		}
		changed = true
		if len(kept) == 0 {
			delete(fm.Bundles, name)
			continue
		}
		def.Tunnels = kept
		fm.Bundles[name] = def
	}
	if !changed {
		return nil
	}
	return saveFile(fm)
}

// Resolve maps the bundle's ids to configs with lookup. Ids that fail to
// resolve are returned separately with their errors.
func Resolve(def Definition, lookup func(id string) (model.TunnelConfig, error)) ([]model.TunnelConfig, map[string]error) {
	var out []model.TunnelConfig
	missing := map[string]error{}
	for _, id := range def.Tunnels {
		cfg, err := lookup(id)
		if err != nil {
			missing[id] = err
			continue
		}
		out = append(out, cfg)
	}
	return out, missing
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Bundles: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse bundles: %w", err)
	}
	if fm.Bundles == nil {
		fm.Bundles = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, b, 0o600)
}
