// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StoredDefinition is a persisted definition in canonical text form.
type StoredDefinition struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefinitionStore persists applied definitions so they survive restarts.
type DefinitionStore interface {
	Load(ctx context.Context) ([]StoredDefinition, error)
	Save(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryDefinitionStore keeps definitions for the lifetime of the process.
type MemoryDefinitionStore struct {
	mu   sync.Mutex
	defs map[string]StoredDefinition
}

func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{defs: make(map[string]StoredDefinition)}
}

func (s *MemoryDefinitionStore) Load(_ context.Context) ([]StoredDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryDefinitionStore) Save(_ context.Context, id, text string) error {
	s.mu.Lock()
	s.defs[id] = StoredDefinition{ID: id, Text: text, UpdatedAt: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryDefinitionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.defs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDefinitionStore) Close() error { return nil }

const badgerKeyPrefix = "pipe:"

// BadgerDefinitionStore persists definitions in a badger database.
// key = "pipe:<id>", value = StoredDefinition as JSON.
type BadgerDefinitionStore struct {
	db *badger.DB
}

// OpenBadgerDefinitionStore opens the database at path. An empty path keeps the
// database in memory.
func OpenBadgerDefinitionStore(path string) (*BadgerDefinitionStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pipeline store: %w", err)
	}
	return &BadgerDefinitionStore{db: db}, nil
}

func (s *BadgerDefinitionStore) Close() error { return s.db.Close() }

func (s *BadgerDefinitionStore) Save(_ context.Context, id, text string) error {
	buf, err := json.Marshal(StoredDefinition{ID: id, Text: text, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+id), buf)
	})
}

func (s *BadgerDefinitionStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + id))
	})
}

// Get returns one stored definition.
func (s *BadgerDefinitionStore) Get(_ context.Context, id string) (StoredDefinition, error) {
	var out StoredDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return StoredDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, err
}

// Load returns every stored definition ordered by id.
func (s *BadgerDefinitionStore) Load(ctx context.Context) ([]StoredDefinition, error) {
	var out []StoredDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec StoredDefinition
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
