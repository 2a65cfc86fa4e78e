// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm provides a small, strict finite state machine.
// Unknown transitions are errors; there are no implicit edges.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned (wrapped) when no edge exists for (state, event).
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition; Action performs side-effects.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Table is an immutable transition index. It is safe for concurrent use and is
// meant for callers that keep the current state in their own records.
type Table[S ~string, E ~string] struct {
	index map[string]Transition[S, E]
}

// NewTable indexes transitions. Duplicate (From, Event) pairs are rejected.
func NewTable[S ~string, E ~string](transitions []Transition[S, E]) (*Table[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Table[S, E]{index: idx}, nil
}

// MustTable is NewTable for package-level tables; it panics on duplicates.
func MustTable[S ~string, E ~string](transitions []Transition[S, E]) *Table[S, E] {
	t, err := NewTable(transitions)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the edge for (from, event).
func (t *Table[S, E]) Lookup(from S, event E) (Transition[S, E], error) {
	tr, ok := t.index[key(from, event)]
	if !ok {
		return Transition[S, E]{}, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	return tr, nil
}

// Next returns the target state for (from, event) without running guards or actions.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	tr, err := t.Lookup(from, event)
	if err != nil {
		return from, err
	}
	return tr.To, nil
}

// Can reports whether event is accepted in state from.
func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.index[key(from, event)]
	return ok
}

// Machine is a small, test-friendly FSM runner owning its current state.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	table *Table[S, E]
}

// New builds a Machine starting in initial.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	t, err := NewTable(transitions)
	if err != nil {
		return nil, err
	}
	return &Machine[S, E]{state: initial, table: t}, nil
}

// NewWithTable builds a Machine over a shared table.
func NewWithTable[S ~string, E ~string](initial S, table *Table[S, E]) *Machine[S, E] {
	return &Machine[S, E]{state: initial, table: table}
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts to apply an event atomically.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, err := m.table.Lookup(from, event)
	if err != nil {
		m.mu.Unlock()
		return from, err
	}

	// Guard + Action run outside the critical section.
	to := t.To
	m.mu.Unlock()

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	m.mu.Unlock()

	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
