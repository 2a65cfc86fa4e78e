// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// SchemaValidator validates settings against one JSON schema per device type.
// Types without a schema accept any settings.
type SchemaValidator struct {
	schemas map[string]*openapi3.Schema
}

// NewSchemaValidator compiles schema documents keyed by device type. Each
// document may be JSON or YAML.
func NewSchemaValidator(docs map[string][]byte) (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[string]*openapi3.Schema, len(docs))}
	for typ, doc := range docs {
		s, err := compileSchema(doc)
		if err != nil {
			return nil, fmt.Errorf("schema for device type %q: %w", typ, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// LoadSchemaDir reads <type>.json, <type>.yaml and <type>.yml files from dir.
func LoadSchemaDir(dir string) (*SchemaValidator, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	docs := make(map[string][]byte)
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := filepath.Ext(ent.Name())
		switch ext {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		docs[strings.TrimSuffix(ent.Name(), ext)] = b
	}
	return NewSchemaValidator(docs)
}

func compileSchema(doc []byte) (*openapi3.Schema, error) {
	var generic any
	if err := yaml.Unmarshal(doc, &generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	s := openapi3.NewSchema()
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, nil
}

// ValidateSettings implements SettingsValidator.
func (v *SchemaValidator) ValidateSettings(deviceType string, settings map[string]any) error {
	s, ok := v.schemas[deviceType]
	if !ok {
		return nil
	}
	// Round-trip through JSON so numbers and nested maps have the shapes the validator expects.
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if value == nil {
		value = map[string]any{}
	}
	return s.VisitJSON(value, openapi3.MultiErrors())
}

// Types lists device types with a registered schema.
func (v *SchemaValidator) Types() []string {
	out := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	return out
}
