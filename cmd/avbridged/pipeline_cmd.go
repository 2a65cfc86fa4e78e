// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/pipeline"
)

// runPipelineCLI implements "avbridged pipeline check|fmt <file>...".
// check parses, validates and verifies every kind against the built-in
// registry; fmt prints the canonical text form.
func runPipelineCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "usage: avbridged pipeline check|fmt <file>...")
		return 2
	}
	verb, files := args[0], args[1:]
	if verb != "check" && verb != "fmt" {
		_, _ = fmt.Fprintf(stderr, "unknown pipeline command %q\n", verb)
		return 2
	}
	fs := flag.NewFlagSet("pipeline "+verb, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(files); err != nil {
		return 2
	}

	reg := pipeline.NewDefaultRegistry()
	failed := false
	for _, path := range fs.Args() {
		def, err := loadDefinition(path)
		if err == nil && verb == "check" {
			err = reg.Check(def)
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		if verb == "fmt" {
			_, _ = io.WriteString(stdout, dsl.Format(def))
			continue
		}
		_, _ = fmt.Fprintf(stdout, "%s: ok (%s)\n", path, def.ID)
	}
	if failed {
		return 1
	}
	return 0
}

func loadDefinition(path string) (*dsl.Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, err
	}
	def, err := dsl.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if err := dsl.Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}
