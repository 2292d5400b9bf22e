package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// applyFile overlays the settings in path onto c. Files ending in .yaml or
// .yml are read as YAML; .json and .jsonc are read as JSON with comments
// and trailing commas allowed. Keys missing from the file keep their
// current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: invalid YAML in %s: %w", path, err)
		}
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("config: invalid JSONC in %s: %w", path, err)
		}
		if err := json.Unmarshal(standardized, c); err != nil {
			return fmt.Errorf("config: invalid JSON in %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported config file extension %q", ext)
	}
	return nil
}

// UnmarshalYAML reads a duration scalar such as "30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
