// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statusboard

import (
	"context"
	"maps"
	"strings"
	"sync"
)

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Put(_ context.Context, e Entry) error {
	e.Payload = maps.Clone(e.Payload)
	m.mu.Lock()
	m.entries[e.Topic] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, topic string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[topic]
	return e, ok, nil
}

func (m *MemoryBackend) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for topic, e := range m.entries {
		if strings.HasPrefix(topic, prefix) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
