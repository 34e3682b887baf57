// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package downstream

import "fmt"

type shape int

const (
	shapeAny shape = iota
	shapeList
	shapeObject
)

func (s shape) String() string {
	switch s {
	case shapeList:
		return "list"
	case shapeObject:
		return "object"
	}
	return "any"
}

// endpointShape is the expected top-level type of each endpoint's data,
// plus object keys that must be present.
var endpointShape = map[string]struct {
	shape    shape
	required []string
}{
	"ser_inv":       {shape: shapeList},
	"get_item":      {shape: shapeObject, required: []string{"project_name"}},
	"get_org":       {shape: shapeObject, required: []string{"org_name"}},
	"get_people":    {shape: shapeObject, required: []string{"people_name"}},
	"quotacredits":  {shape: shapeObject, required: []string{"credits"}},
	"get_fac":       {shape: shapeObject, required: []string{"items"}},
	"ecosystem_map": {shape: shapeList},
	"hot_index":     {shape: shapeList},
}

// Validate checks data against the endpoint's expected shape. Unknown
// endpoints always pass.
func Validate(endpoint string, data any) *ValidationWarning {
	spec, ok := endpointShape[endpoint]
	if !ok {
		return nil
	}

	switch spec.shape {
	case shapeList:
		if _, ok := data.([]any); !ok {
			return &ValidationWarning{Endpoint: endpoint, Problem: fmt.Sprintf("expected %s, got %s", spec.shape, typeName(data))}
		}
	case shapeObject:
		obj, ok := data.(map[string]any)
		if !ok {
			return &ValidationWarning{Endpoint: endpoint, Problem: fmt.Sprintf("expected %s, got %s", spec.shape, typeName(data))}
		}
		for _, key := range spec.required {
			if _, present := obj[key]; !present {
				return &ValidationWarning{Endpoint: endpoint, Problem: fmt.Sprintf("missing field %q", key)}
			}
		}
	}
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	}
	return fmt.Sprintf("%T", v)
}
