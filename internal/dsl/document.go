// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"path/filepath"
	"strings"
)

// ParseDocument parses either form. A document whose first significant line
// starts with the "pipeline" keyword followed by a name is text, anything
// else is YAML.
func ParseDocument(data []byte) (*Definition, error) {
	if isText(string(data)) {
		return Parse(string(data))
	}
	return ParseYAML(data)
}

func isText(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "pipeline")
		if !ok || rest == "" {
			return false
		}
		return rest[0] == ' ' || rest[0] == '\t' || rest[0] == '"'
	}
	return false
}

// IsDefinitionFile reports whether path has an extension used for pipeline
// definitions: .pipeline, .yaml or .yml.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pipeline", ".yaml", ".yml":
		return true
	}
	return false
}
