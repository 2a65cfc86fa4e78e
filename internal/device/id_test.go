// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"/dev/video0":       "dev_video0",
		"  Cam Lobby ":      "cam_lobby",
		"AA:BB:CC:00:11:22": "aa:bb:cc:00:11:22",
		"10.0.0.7:554":      "10.0.0.7:554",
		"ÅNGSTRÖM":          "ångström",
		"cam/*/#":           "cam",
		"a b/c":             "a_b_c",
		"":                  "",
		"///":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeID(in), "input %q", in)
	}
}

func TestNormalizeID_Idempotent(t *testing.T) {
	for _, in := range []string{"/dev/video0", "Cam Lobby", "ÅNGSTRÖM"} {
		once := NormalizeID(in)
		assert.Equal(t, once, NormalizeID(once))
	}
}

func TestDescriptorID_FallsBackToAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.9:80", descriptorID(Descriptor{Address: "10.0.0.9:80"}))
	assert.Equal(t, "hint", descriptorID(Descriptor{IDHint: "HINT", Address: "10.0.0.9:80"}))
}

func TestDescriptorHint(t *testing.T) {
	assert.Equal(t, "Cam 1", descriptorHint(Descriptor{IDHint: "Cam 1", Address: "10.0.0.9:80"}))
	assert.Equal(t, "10.0.0.9:80", descriptorHint(Descriptor{IDHint: "//", Address: "10.0.0.9:80"}))
}
