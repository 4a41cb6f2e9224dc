package scope

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTable reads an implication table from a YAML file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scope table: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse scope table %s: %w", path, err)
	}

	return &table, nil
}
