// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"fmt"
	"regexp"
	"sort"
)

// Field is the form-renderable description of one config property,
// derived from the connector's config schema.
type Field struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Label       string        `json:"label,omitempty"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Sensitive   bool          `json:"sensitive"`
	Options     []FieldOption `json:"options,omitempty"`
	Default     any           `json:"default,omitempty"`
}

// FieldOption is one allowed value of an enum field.
type FieldOption struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// sensitiveNamePattern marks fields whose values should be masked in UIs
// and encrypted at rest.
var sensitiveNamePattern = regexp.MustCompile(`(?i)(secret|token|key|password|credential)`)

// Fields introspects the connector's config schema into an ordered field
// list. Defaults from DefaultConfig win over schema defaults. Connectors
// without an object-shaped config schema yield nil.
func Fields(c *Connector) []Field {
	if c.ConfigSchema == nil {
		return nil
	}
	raw := c.ConfigSchema.Raw()
	properties, ok := raw["properties"].(map[string]any)
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if list, ok := raw["required"].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	fields := make([]Field, 0, len(properties))
	for name, prop := range properties {
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		field := Field{
			Name:        name,
			Type:        stringProp(propMap, "type"),
			Label:       stringProp(propMap, "title"),
			Description: stringProp(propMap, "description"),
			Required:    required[name],
			Sensitive:   isSensitive(name, propMap),
			Default:     propMap["default"],
		}
		if enum, ok := propMap["enum"].([]any); ok {
			for _, value := range enum {
				field.Options = append(field.Options, FieldOption{
					Label: optionLabel(value),
					Value: value,
				})
			}
		}
		if c.DefaultConfig != nil {
			if v, ok := c.DefaultConfig[name]; ok {
				field.Default = v
			}
		}
		fields = append(fields, field)
	}

	// Schema properties are an unordered map; sort for a stable rendering.
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

func isSensitive(name string, prop map[string]any) bool {
	if stringProp(prop, "format") == "password" {
		return true
	}
	return sensitiveNamePattern.MatchString(name)
}

func stringProp(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func optionLabel(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
