// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rootgate/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Tools []catalogTool `yaml:"tools"`
}

type catalogTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Endpoint    string         `yaml:"endpoint"`
	Level       string         `yaml:"level"`
	Credits     int            `yaml:"credits"`
	Category    string         `yaml:"category"`
	Schema      map[string]any `yaml:"schema"`
}

// DefaultCatalog returns the built-in tool catalogue.
func DefaultCatalog() []model.ToolSpec {
	tools, err := ParseCatalog(defaultCatalog)
	if err != nil {
		// the embedded file is covered by tests
		panic(fmt.Sprintf("provider: built-in catalogue: %v", err))
	}
	return tools
}

// LoadCatalog reads a catalogue file.
func LoadCatalog(path string) ([]model.ToolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	tools, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tools, nil
}

// ParseCatalog decodes and validates a YAML catalogue.
func ParseCatalog(data []byte) ([]model.ToolSpec, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if len(file.Tools) == 0 {
		return nil, fmt.Errorf("catalogue has no tools")
	}

	seen := make(map[string]bool, len(file.Tools))
	tools := make([]model.ToolSpec, 0, len(file.Tools))
	for i, t := range file.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool %d: missing name", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tool %s: duplicate name", t.Name)
		}
		seen[t.Name] = true
		if t.Endpoint == "" {
			return nil, fmt.Errorf("tool %s: missing endpoint", t.Name)
		}
		if t.Credits < 0 {
			return nil, fmt.Errorf("tool %s: negative credits", t.Name)
		}
		level, err := model.ParseLevel(t.Level)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}

		spec := model.ToolSpec{
			Name:           t.Name,
			Description:    t.Description,
			EndpointID:     t.Endpoint,
			RequiredLevel:  level,
			CreditsPerCall: t.Credits,
			Category:       t.Category,
		}
		if t.Schema != nil {
			raw, err := json.Marshal(t.Schema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: schema: %w", t.Name, err)
			}
			spec.InputSchema = raw
		}
		tools = append(tools, spec)
	}
	return tools, nil
}
