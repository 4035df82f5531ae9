package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSources reads the source configuration file. The file holds either
// a bare array of sources or an object with a "sources" key. Disabled
// sources are kept; the orchestrator filters on Enabled.
func LoadSources(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a source list.
func ParseSources(data []byte) ([]SourceConfig, error) {
	var wrapper struct {
		Sources []SourceConfig `json:"sources"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Sources == nil {
		var list []SourceConfig
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
		wrapper.Sources = list
	}

	seen := make(map[string]struct{}, len(wrapper.Sources))
	for _, src := range wrapper.Sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source name: %q", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return wrapper.Sources, nil
}
