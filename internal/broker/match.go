// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// SingleWildcard matches exactly one topic segment.
	SingleWildcard = "*"
	// MultiWildcard matches one or more trailing topic segments. Only valid as the last segment.
	MultiWildcard = "#"
	separator     = "/"
)

var (
	ErrInvalidPattern = errors.New("invalid subscription pattern")
	ErrInvalidTopic   = errors.New("invalid topic")
)

// pattern is a pre-split subscription pattern.
type pattern struct {
	raw      string
	segments []string
	multi    bool // last segment is MultiWildcard
}

func compilePattern(raw string) (pattern, error) {
	if raw == "" {
		return pattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	segs := strings.Split(raw, separator)
	for i, s := range segs {
		if s == "" {
			return pattern{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPattern, raw)
		}
		if s == MultiWildcard && i != len(segs)-1 {
			return pattern{}, fmt.Errorf("%w: %q uses %q before the last segment", ErrInvalidPattern, raw, MultiWildcard)
		}
		if s != SingleWildcard && s != MultiWildcard && strings.ContainsAny(s, "*#") {
			return pattern{}, fmt.Errorf("%w: %q mixes wildcards into segment %q", ErrInvalidPattern, raw, s)
		}
	}
	p := pattern{raw: raw, segments: segs}
	if segs[len(segs)-1] == MultiWildcard {
		p.multi = true
		p.segments = segs[:len(segs)-1]
	}
	return p, nil
}

// matchSegments reports whether the split topic matches the pattern.
func (p pattern) matchSegments(topic []string) bool {
	if p.multi {
		// '#' needs at least one remaining segment.
		if len(topic) <= len(p.segments) {
			return false
		}
	} else if len(topic) != len(p.segments) {
		return false
	}
	for i, s := range p.segments {
		if s != SingleWildcard && s != topic[i] {
			return false
		}
	}
	return true
}

// Match reports whether topic matches pattern. Invalid patterns never match.
func Match(pat, topic string) bool {
	p, err := compilePattern(pat)
	if err != nil {
		return false
	}
	return p.matchSegments(strings.Split(topic, separator))
}

func validateTopic(topic string) ([]string, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "*#") {
		return nil, fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	segs := strings.Split(topic, separator)
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
	}
	return segs, nil
}

// topicRoot returns the first segment; it is the only topic part used as a metric label.
func topicRoot(topic string) string {
	if i := strings.Index(topic, separator); i >= 0 {
		return topic[:i]
	}
	return topic
}
