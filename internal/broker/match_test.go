// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"devices/cam1", "devices/cam1", true},
		{"devices/cam1", "devices/cam2", false},
		{"devices/*", "devices/cam1", true},
		{"devices/*", "devices/scan_complete", true},
		{"devices/*", "devices/cam1/status", false},
		{"devices/*", "devices", false},
		{"devices/*", "streams/cam1", false},
		{"devices/*/status", "devices/cam1/status", true},
		{"devices/*/status", "devices/cam1/configured", false},
		{"*/*/error", "streams/cam1.rtsp/error", true},
		{"devices/#", "devices/cam1", true},
		{"devices/#", "devices/cam1/status", true},
		{"devices/#", "devices", false},
		{"#", "anything/at/all", true},
		{"command/devices/*/start_stream", "command/devices/cam1/start_stream", true},
		{"devices/#/status", "devices/a/status", false}, // invalid pattern never matches
	}

	for _, tc := range cases {
		got := Match(tc.pattern, tc.topic)
		assert.Equalf(t, tc.want, got, "Match(%q, %q)", tc.pattern, tc.topic)
	}
}

func TestCompilePattern_Rejects(t *testing.T) {
	for _, p := range []string{"", "devices//x", "devices/#/x", "dev*ces/x", "a/b#"} {
		_, err := compilePattern(p)
		require.ErrorIsf(t, err, ErrInvalidPattern, "pattern %q", p)
	}
}

func TestValidateTopic_Rejects(t *testing.T) {
	for _, topic := range []string{"", "devices/*", "devices/#", "a//b", "/a"} {
		_, err := validateTopic(topic)
		require.ErrorIsf(t, err, ErrInvalidTopic, "topic %q", topic)
	}
}

func TestSegment(t *testing.T) {
	assert.Equal(t, "streams", Segment("streams/cam1.rtsp/started", 0))
	assert.Equal(t, "cam1.rtsp", Segment("streams/cam1.rtsp/started", 1))
	assert.Equal(t, "started", Segment("streams/cam1.rtsp/started", 2))
	assert.Equal(t, "", Segment("streams/cam1.rtsp/started", 3))
	assert.Equal(t, "cam1", Segment(TopicCommandStartStream("cam1"), 2))
}
