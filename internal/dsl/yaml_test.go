// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLMatchesText(t *testing.T) {
	doc := `
pipeline: cam_motion
input:
  device: cam1
  protocol: rtsp
stages:
  - name: gray
    kind: convert
  - name: blur
    kind: filter
    radius: 3
output:
  - name: rec
    kind: record
    path: /tmp/rec
`
	fromYAML, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	fromText, err := Parse(camMotion)
	require.NoError(t, err)

	if diff := cmp.Diff(fromText, fromYAML); diff != "" {
		t.Errorf("yaml and text differ (-text +yaml):\n%s", diff)
	}
}

func TestParseYAMLLinksAndOptions(t *testing.T) {
	doc := `
id: linked
input: {kind: synthetic}
stages:
  - {name: a, kind: passthrough, inputs: [input]}
  - {name: b, kind: passthrough, inputs: [input]}
  - {name: c, kind: annotate, inputs: []}
output:
  - {name: out, kind: discard, inputs: []}
links:
  - a -> c
  - [b, c, out]
options:
  queue_size: 2
  backpressure: drop_oldest
  block_timeout: 100ms
`
	def, err := ParseYAML([]byte(doc))
	require.NoError(t, err)

	c, _ := def.Stage("c")
	out, _ := def.Stage("out")
	assert.Equal(t, []string{"a", "b"}, c.Inputs)
	assert.Equal(t, []string{"c"}, out.Inputs)
	assert.Equal(t, PolicyDropOldest, def.Options.Backpressure)
	assert.Equal(t, 2, def.Options.QueueSize)

	again, err := Parse(Format(def))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(def, again))
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		line int
	}{
		{"missing id", "input: {device: x}\noutput: [{name: o, kind: d}]\n", 1},
		{"not a mapping", "- a\n- b\n", 1},
		{"null value", "pipeline: p\ninput: {device: ~}\noutput: [{name: o, kind: d}]\n", 2},
		{"short link", "pipeline: p\ninput: {device: x}\noutput: [{name: o, kind: d}]\nlinks: [\"o\"]\n", 4},
		{"invalid yaml", "pipeline: [\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, def)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
			assert.Equal(t, tt.line, pe.Token.Pos.Line)
		})
	}
}

func TestParseYAMLStructureError(t *testing.T) {
	doc := "pipeline: p\ninput: {device: x}\nstages: [{name: s, kind: k, inputs: [missing]}]\noutput: [{name: o, kind: d}]\n"
	def, err := ParseYAML([]byte(doc))
	require.Error(t, err)
	assert.Nil(t, def)

	var se *StructureError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonUndeclared, se.Reason)
}
