// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRoundTrip(t *testing.T) {
	sources := map[string]string{
		"implicit chain": camMotion,
		"fan in": `pipeline fan {
  input: {kind: synthetic, params: {interval: "5ms"}},
  stages: [
    {name: l, kind: passthrough, inputs: [input]},
    {name: r, kind: sample, inputs: [input], every: 3, max_retries: 1},
    {name: m, kind: annotate, inputs: [l, r], labels: {"site id": "lab", weight: 1.0, list: [1, -2, 3.5e10]}},
  ],
  output: [{name: out, kind: publish, topic: "frames/fan"}],
  options: {queue_size: 4, backpressure: block, block_timeout: "1.5s"},
}`,
		"quoted names": `pipeline "cam.front-door" {
  input: {device: "front door", protocol: rtsp, quality: "hd"},
  output: [{name: "sink", kind: discard, note: "line\nbreak \"quoted\""}],
}`,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			def, err := Parse(src)
			require.NoError(t, err)

			text := Format(def)
			again, err := Parse(text)
			require.NoError(t, err, "formatted text:\n%s", text)
			if diff := cmp.Diff(def, again); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s\nformatted:\n%s", diff, text)
			}
			assert.Equal(t, text, Format(again), "format is not stable")
		})
	}
}

func TestFormatExplicitInputs(t *testing.T) {
	def, err := Parse(camMotion)
	require.NoError(t, err)

	want := `pipeline cam_motion {
  input: {kind: "stream", device: "cam1", protocol: "rtsp"},
  stages: [
    {name: "gray", kind: "convert", inputs: ["input"]},
    {name: "blur", kind: "filter", inputs: ["gray"], params: {radius: 3}},
  ],
  output: [
    {name: "rec", kind: "record", inputs: ["blur"], params: {path: "/tmp/rec"}},
  ],
}
`
	assert.Equal(t, want, Format(def))
}

func TestFormatBuiltDefinition(t *testing.T) {
	def := &Definition{
		ID:    "built",
		Input: Source{Kind: "synthetic", Params: Params{"n": FloatValue(2)}},
		Outputs: []Stage{{
			Name:       "o",
			Kind:       "discard",
			Inputs:     []string{SourceName},
			Params:     Params{"big": FloatValue(1e21), "inf": FloatValue(math.Inf(1))},
			MaxRetries: intp(5),
		}},
		Options: Options{BlockTimeout: 2 * time.Second},
	}
	require.NoError(t, Validate(def))

	again, err := Parse(Format(def))
	require.NoError(t, err)
	assert.Equal(t, FloatValue(2), again.Input.Params["n"], "integral floats keep their type")
	assert.Equal(t, FloatValue(1e21), again.Outputs[0].Params["big"])
	assert.Equal(t, StringValue("+Inf"), again.Outputs[0].Params["inf"])
	assert.Equal(t, intp(5), again.Outputs[0].MaxRetries)
	assert.Equal(t, 2*time.Second, again.Options.BlockTimeout)
}

func TestParseDeterministic(t *testing.T) {
	first, err := Parse(camMotion)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		def, err := Parse(camMotion)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(first, def))
		require.Equal(t, Format(first), Format(def))
	}
}
