package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/credential-engine/go-core/pkg/types"
)

// PolicyFile is the on-disk representation of a policy set
type PolicyFile struct {
	Policies []*types.Policy `yaml:"policies"`
}

// Loader loads and parses policy files from disk
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new policy loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFromFile loads a policy set from a single YAML/JSON file
func (l *Loader) LoadFromFile(path string) ([]*types.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	// yaml.Unmarshal handles JSON as a subset
	var file PolicyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	for _, p := range file.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy file %s: %w", path, err)
		}
	}

	return file.Policies, nil
}

// LoadFromDirectory loads all policy files from a directory, skipping
// files that fail to parse
func (l *Loader) LoadFromDirectory(dir string) ([]*types.Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy directory: %w", err)
	}

	var policies []*types.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		loaded, err := l.LoadFromFile(path)
		if err != nil {
			l.logger.Warn("Failed to load policy file",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		policies = append(policies, loaded...)
	}

	return policies, nil
}
