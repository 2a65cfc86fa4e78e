// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// Sentinels returned by Loader. Callers match them with errors.Is; the
// wrapped text carries the offending key or extension.
var (
	// ErrUnknownConfigField marks a key in avbridge.yaml that no Config
	// field accepts. Typos fail the load instead of being ignored.
	ErrUnknownConfigField = errors.New("avbridge config: unknown field")

	// ErrUnsupportedFormat marks a config path whose extension is not
	// .yaml or .yml.
	ErrUnsupportedFormat = errors.New("avbridge config: unsupported format")

	// ErrMultipleDocuments marks a config file holding more than one YAML
	// document or trailing content after the first.
	ErrMultipleDocuments = errors.New("avbridge config: multiple documents")
)
