package integration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fanex-id/integrations/pkg/services"
)

var domainRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Manifest is the static metadata shipped with every integration as manifest.json.
type Manifest struct {
	Domain       string         `json:"domain"`
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Description  string         `json:"description,omitempty"`
	Author       string         `json:"author,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Requirements []string       `json:"requirements,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	Services     []string       `json:"services,omitempty"`
	Events       []string       `json:"events,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// Dependency declares that an integration needs another one set up first.
type Dependency struct {
	Domain string `json:"domain"`
	// Version is an optional semver constraint such as "^1.0.0".
	Version string `json:"version,omitempty"`
}

// ManifestSchema is the JSON Schema every manifest.json must satisfy.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["domain", "name", "version"],
  "properties": {
    "domain": {
      "type": "string",
      "pattern": "^[a-z][a-z0-9_]*$",
      "description": "Registry namespace of the integration"
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "description": { "type": "string" },
    "author": { "type": "string" },
    "capabilities": {
      "type": "array",
      "items": { "type": "string" }
    },
    "requirements": {
      "type": "array",
      "items": { "type": "string" }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["domain"],
        "properties": {
          "domain": { "type": "string", "minLength": 1 },
          "version": { "type": "string" }
        }
      }
    },
    "services": {
      "type": "array",
      "items": { "type": "string" }
    },
    "events": {
      "type": "array",
      "items": { "type": "string" }
    },
    "config": {
      "type": "object",
      "description": "JSON Schema for the integration configuration"
    }
  }
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(ManifestSchema)

// ParseManifest decodes and validates manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := validateSchema(manifestSchemaLoader, data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}
	return &manifest, nil
}

// Validate performs checks beyond the JSON schema.
func (m *Manifest) Validate() error {
	if !domainRegex.MatchString(m.Domain) {
		return fmt.Errorf("invalid domain %q (must be lowercase alphanumeric with underscores)", m.Domain)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", m.Version, err)
	}

	for i, dep := range m.Dependencies {
		if dep.Domain == "" {
			return fmt.Errorf("dependency %d: domain cannot be empty", i)
		}
		if dep.Domain == m.Domain {
			return fmt.Errorf("dependency %d: %s cannot depend on itself", i, dep.Domain)
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				return fmt.Errorf("dependency %d: invalid version constraint %q: %w", i, dep.Version, err)
			}
		}
	}
	return nil
}

// DependsOn returns the domains this manifest depends on.
func (m *Manifest) DependsOn() []string {
	domains := make([]string, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		domains = append(domains, dep.Domain)
	}
	return domains
}

// ValidateConfig checks cfg against the manifest's config schema, if any.
func (m *Manifest) ValidateConfig(cfg services.Values) error {
	if len(m.Config) == 0 {
		return nil
	}
	schema, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config schema: %w", err)
	}
	if cfg == nil {
		cfg = services.Values{}
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return validateSchema(gojsonschema.NewBytesLoader(schema), doc)
}

func validateSchema(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
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
	return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
}
