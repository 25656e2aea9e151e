package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Field types understood by Schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Field describes one request field. It is advisory metadata: handlers do their
// own presence checks and the registry never enforces it.
type Field struct {
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Schema maps request field names to their descriptions.
type Schema map[string]Field

// Fields returns the field names in sorted order.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Required returns the sorted names of required fields.
func (s Schema) Required() []string {
	var names []string
	for _, name := range s.Fields() {
		if s[name].Required {
			names = append(names, name)
		}
	}
	return names
}

// JSONSchema renders the schema as a draft-07 JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s))
	for name, field := range s {
		prop := map[string]any{}
		if field.Type != "" {
			if field.Nullable {
				prop["type"] = []string{field.Type, "null"}
			} else {
				prop["type"] = field.Type
			}
		}
		if len(field.Enum) > 0 {
			enum := append([]any(nil), field.Enum...)
			if field.Nullable {
				enum = append(enum, nil)
			}
			prop["enum"] = enum
		}
		if field.Default != nil {
			prop["default"] = field.Default
		}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		properties[name] = prop
	}

	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if required := s.Required(); len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// ValidateRequest checks req against schema. The registry does not call this;
// hosts opt in (see the gateway's validate_requests option).
func ValidateRequest(schema Schema, req Request) error {
	if len(schema) == 0 {
		return nil
	}
	if req == nil {
		req = Request{}
	}

	schemaJSON, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	docJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(docJSON),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("request validation failed: %s", strings.Join(msgs, "; "))
}
