package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const presetsVersion = 1

//go:embed presets.yaml
var embeddedPresets []byte

type presetFile struct {
	Version int                   `yaml:"version"`
	Presets []domain.DomainPreset `yaml:"presets"`
}

// LoadPresets returns the bootstrap domain table. An empty path selects the
// table compiled into the binary.
func LoadPresets(path string) ([]domain.DomainPreset, error) {
	raw := embeddedPresets
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read presets %s: %w", path, err)
		}
		raw = data
	}
	return ParsePresets(raw)
}

func ParsePresets(raw []byte) ([]domain.DomainPreset, error) {
	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	if file.Version != presetsVersion {
		return nil, fmt.Errorf("unsupported presets version %d", file.Version)
	}
	seen := make(map[string]struct{}, len(file.Presets))
	for i, preset := range file.Presets {
		key := domain.NormalizeName(preset.Name)
		if key == "" {
			return nil, fmt.Errorf("preset %d has no name", i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate preset %q", preset.Name)
		}
		seen[key] = struct{}{}
	}
	return file.Presets, nil
}
