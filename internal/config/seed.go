package config

import (
	"fmt"
	"go-poll/internal/model"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeed reads a flat YAML mapping of config keys to values and overlays it on the defaults.
// An empty path yields the defaults unchanged.
func LoadSeed(path string) ([]model.ConfigEntry, error) {
	entries := Defaults()
	if path == "" {
		return entries, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading config seed file: %w", err)
	}
	return overlaySeed(entries, content)
}

func overlaySeed(entries []model.ConfigEntry, content []byte) ([]model.ConfigEntry, error) {
	values := make(map[string]any)
	if err := yaml.Unmarshal(content, &values); err != nil {
		return nil, fmt.Errorf("failed parsing config seed file: %w", err)
	}

	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		index[entry.Key] = i
	}
	for key, raw := range values {
		value := ""
		if raw != nil {
			value = Normalize(key, fmt.Sprint(raw))
		}
		if i, ok := index[key]; ok {
			entries[i].Value = value
			continue
		}
		index[key] = len(entries)
		entries = append(entries, model.ConfigEntry{Key: key, Value: value})
	}
	return entries, nil
}
