package persona

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// schema is compiled once at init; the embedded document is trusted input,
// so a compile failure is a programming error.
var schema = jsonschema.MustCompileString("persona-v1.json", schemaJSON)

// Parse decodes a persona YAML document, validates it against the kokoro/v1
// schema, applies defaults, and returns the result. It is the canonical
// entry point for loading persona configurations.
func Parse(data []byte) (*Spec, error) {
	// Validate against the JSON schema first so unknown keys and type
	// mismatches are reported with schema paths rather than as zero values.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if err := schema.Validate(jsonify(doc)); err != nil {
		return nil, fmt.Errorf("persona schema: %w", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if err := Validate(&spec); err != nil {
		return nil, err
	}
	spec.Normalize()
	return &spec, nil
}

// Validate checks a Spec for semantic correctness beyond what the JSON
// schema expresses. It returns the first validation error encountered, or
// nil if the spec is valid.
func Validate(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("persona must not be nil")
	}
	if spec.APIVersion != SpecVersion {
		return fmt.Errorf("apiVersion must be %q, got %q", SpecVersion, spec.APIVersion)
	}
	if strings.TrimSpace(spec.Metadata.Name) == "" {
		return fmt.Errorf("metadata.name must not be empty")
	}
	if err := validateBackend(spec.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := validateRetention(spec.Retention); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}

func validateBackend(b Backend) error {
	if b.Temperature != nil && (*b.Temperature < 0 || *b.Temperature > 2.0) {
		return fmt.Errorf("temperature %.2f is outside valid range [0.0, 2.0]", *b.Temperature)
	}
	if b.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must be >= 0")
	}
	if b.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("requestTimeoutSeconds must be >= 0")
	}
	if b.BaseURL != "" && !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
		return fmt.Errorf("baseURL %q must start with http:// or https://", b.BaseURL)
	}
	return nil
}

func validateRetention(r Retention) error {
	if r.TranscriptDays < 0 {
		return fmt.Errorf("transcriptDays must be >= 0")
	}
	return nil
}

// jsonify converts a yaml-decoded value into the shape the schema validator
// expects (the same types encoding/json produces). YAML decodes integers as
// int and nested maps as map[string]any; a JSON round trip normalises both.
func jsonify(doc any) any {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return doc
	}
	return out
}
