package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pantierra/efast-tool/internal/pipeline"
)

// LoadSites reads a site registry: a YAML document mapping site names
// to WGS84 positions. Every entry is validated before it is returned.
func LoadSites(path string) (map[string]pipeline.Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site registry: %w", err)
	}

	var raw map[string]pipeline.Site
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse site registry %s: %w", filepath.Base(path), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("site registry %s lists no sites", filepath.Base(path))
	}

	sites := make(map[string]pipeline.Site, len(raw))
	for name, site := range raw {
		site.Name = name
		if err := site.Validate(); err != nil {
			return nil, fmt.Errorf("site registry %s: %w", filepath.Base(path), err)
		}
		sites[name] = site
	}
	return sites, nil
}
