// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"sync"
)

// StaticDiscovery reports a fixed, replaceable descriptor list. It backs
// devices declared in the config file.
type StaticDiscovery struct {
	mu    sync.RWMutex
	descs []Descriptor
}

func NewStaticDiscovery(descs ...Descriptor) *StaticDiscovery {
	s := &StaticDiscovery{}
	s.Set(descs...)
	return s
}

// Set replaces the descriptor list. The next scan reflects it.
func (s *StaticDiscovery) Set(descs ...Descriptor) {
	cp := make([]Descriptor, len(descs))
	for i, d := range descs {
		d.Metadata = cloneAny(d.Metadata)
		cp[i] = d
	}
	s.mu.Lock()
	s.descs = cp
	s.mu.Unlock()
}

func (s *StaticDiscovery) Discover(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, len(s.descs))
	for i, d := range s.descs {
		d.Metadata = cloneAny(d.Metadata)
		out[i] = d
	}
	return out, nil
}

// MultiDiscovery concatenates the results of several sources. Any failing
// source fails the whole scan so that a partial result never marks healthy
// devices offline.
type MultiDiscovery []Discovery

func (md MultiDiscovery) Discover(ctx context.Context) ([]Descriptor, error) {
	var out []Descriptor
	for _, d := range md {
		descs, err := d.Discover(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, descs...)
	}
	return out, nil
}
