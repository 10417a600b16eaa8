package game

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CatalogueEntry describes one script-defined game kind.
type CatalogueEntry struct {
	Name string `yaml:"name"`
	// Script is the Lua source path, relative to the catalogue file when not absolute.
	Script   string `yaml:"script"`
	Capacity int    `yaml:"capacity"`
}

// Catalogue is the top-level structure of a game kind catalogue file.
type Catalogue struct {
	Kinds []CatalogueEntry `yaml:"kinds"`
}

// LoadCatalogue reads and validates the catalogue at path. Relative script
// paths are resolved against the catalogue's directory.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a catalogue whose entries have unique non-empty names,
// non-empty script paths and non-negative capacities, or a non-nil error.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue %s: %w", path, err)
	}
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalogue %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]bool, len(c.Kinds))
	for i := range c.Kinds {
		e := &c.Kinds[i]
		if e.Name == "" {
			return nil, fmt.Errorf("catalogue %s: entry %d: name must not be empty", path, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("catalogue %s: duplicate kind %q", path, e.Name)
		}
		seen[e.Name] = true
		if e.Script == "" {
			return nil, fmt.Errorf("catalogue %s: kind %q: script must not be empty", path, e.Name)
		}
		if e.Capacity < 0 {
			return nil, fmt.Errorf("catalogue %s: kind %q: capacity must be >= 0, got %d", path, e.Name, e.Capacity)
		}
		if !filepath.IsAbs(e.Script) {
			e.Script = filepath.Join(dir, e.Script)
		}
	}
	return &c, nil
}
