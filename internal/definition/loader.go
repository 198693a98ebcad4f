// Package definition loads wizard variant YAML files, validates them, and
// provides a fast-lookup registry with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mosaicfin/onboard/model"
)

// Loader scans directories for YAML wizard files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new wizard Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a WizardDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.WizardDefinition, error) {
	var defs []model.WizardDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML wizard file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.WizardDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WizardDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.WizardDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.WizardDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
