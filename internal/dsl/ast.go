// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dsl parses pipeline definitions.
//
// A definition names an input source, an ordered set of processing stages,
// one or more outputs and optional queue settings:
//
//	pipeline cam_motion {
//	  input: {device: "cam1", protocol: "rtsp"},
//	  stages: [
//	    {name: "gray", kind: "convert"},
//	    {name: "blur", kind: "filter", radius: 3},
//	  ],
//	  output: [{name: "rec", kind: "record", path: "/var/lib/avbridge/rec"}],
//	}
//
// Stages without declared inputs consume the previous stage (the first stage
// consumes the input). The same document can be written in YAML, see ParseYAML.
// Every successful parse yields a Definition with explicit inputs that passes
// Validate.
package dsl

import "time"

// SourceName is the reserved stage name referring to the pipeline input.
const SourceName = "input"

// Backpressure policies for inter-stage queues.
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
)

// Definition is a parsed pipeline.
type Definition struct {
	ID      string
	Input   Source
	Stages  []Stage
	Outputs []Stage
	Options Options
}

// Source describes where frames come from. Device and Protocol select a
// running device stream; Kind selects a source implementation.
type Source struct {
	Kind     string
	Device   string
	Protocol string
	Params   Params
}

// Stage is one processing step or output. Kind is kept verbatim; resolving
// it to an implementation happens when the pipeline is built.
type Stage struct {
	Name       string
	Kind       string
	Inputs     []string
	Params     Params
	MaxRetries *int
}

// Options tune the executor. Zero values select executor defaults.
type Options struct {
	QueueSize    int
	Backpressure string
	BlockTimeout time.Duration
}

// Stage looks up a stage or output by name.
func (d *Definition) Stage(name string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	for _, s := range d.Outputs {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// StageNames lists processing stages then outputs in declaration order.
func (d *Definition) StageNames() []string {
	out := make([]string, 0, len(d.Stages)+len(d.Outputs))
	for _, s := range d.Stages {
		out = append(out, s.Name)
	}
	for _, s := range d.Outputs {
		out = append(out, s.Name)
	}
	return out
}

// TopoOrder is shorthand for TopoOrder(d).
func (d *Definition) TopoOrder() ([]string, error) { return TopoOrder(d) }
