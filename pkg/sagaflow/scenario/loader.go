package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// extensions tried by Load, in order.
var extensions = []string{".json", ".yaml", ".yml"}

// Load resolves a named scenario document from a resource directory
// (filename = scenario name, extension .json/.yaml/.yml) and returns the
// validated Scenario.
func Load(dir, name string) (*Scenario, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read scenario file: %w", err)
		}
		return FromFile(path, data)
	}
	return nil, fmt.Errorf("scenario %q not found in %s", name, dir)
}

// FromFile parses scenario data, auto-detecting the format by extension.
func FromFile(path string, data []byte) (*Scenario, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported scenario file extension: %s", filepath.Ext(path))
	}
}

// FromJSON parses and normalizes a JSON scenario document.
func FromJSON(data []byte) (*Scenario, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return Normalize(raw)
}

// FromYAML parses and normalizes a YAML scenario document.
func FromYAML(data []byte) (*Scenario, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return Normalize(raw)
}
