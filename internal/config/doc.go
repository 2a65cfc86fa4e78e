// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the avbridge daemon configuration.
//
// Precedence is defaults, then the YAML file (strict, unknown keys are
// rejected), then AVBRIDGE_* environment variables. The merged result is
// validated before it is returned; an invalid configuration is never
// partially applied.
package config
