// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"sort"
	"sync"
)

// Record is the persisted part of a device: identity and accepted settings.
// Lifecycle state is runtime-only.
type Record struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Protocol string         `json:"protocol"`
	Address  string         `json:"address"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Store persists configured devices across restarts.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps records in memory. Useful for tests and ephemeral setups.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Load(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.recs))
	for _, r := range s.recs {
		r.Settings = cloneAny(r.Settings)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	rec.Settings = cloneAny(rec.Settings)
	s.mu.Lock()
	s.recs[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
