// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	StringKind ValueKind = iota
	IntKind
	FloatKind
	BoolKind
	ListKind
	MapKind
)

func (k ValueKind) String() string {
	switch k {
	case StringKind:
		return "string"
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case BoolKind:
		return "bool"
	case ListKind:
		return "list"
	case MapKind:
		return "map"
	}
	return "unknown"
}

// Value is a typed parameter value.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	List  []Value
	Map   map[string]Value
}

func StringValue(s string) Value        { return Value{Kind: StringKind, Str: s} }
func IntValue(n int64) Value            { return Value{Kind: IntKind, Int: n} }
func FloatValue(f float64) Value        { return Value{Kind: FloatKind, Float: f} }
func BoolValue(b bool) Value            { return Value{Kind: BoolKind, Bool: b} }
func ListValue(items ...Value) Value    { return Value{Kind: ListKind, List: items} }
func MapValue(m map[string]Value) Value { return Value{Kind: MapKind, Map: m} }

// Interface converts v to plain Go values (string, int64, float64, bool, []any, map[string]any).
func (v Value) Interface() any {
	switch v.Kind {
	case IntKind:
		return v.Int
	case FloatKind:
		return v.Float
	case BoolKind:
		return v.Bool
	case ListKind:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case MapKind:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Interface()
		}
		return out
	default:
		return v.Str
	}
}

func (v Value) String() string {
	switch v.Kind {
	case StringKind:
		return v.Str
	case IntKind:
		return strconv.FormatInt(v.Int, 10)
	case FloatKind:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case BoolKind:
		return strconv.FormatBool(v.Bool)
	}
	return fmt.Sprint(v.Interface())
}

// Params holds a stage's declared parameters.
type Params map[string]Value

func (p Params) lookup(key string, want ...ValueKind) (Value, bool, error) {
	v, ok := p[key]
	if !ok {
		return Value{}, false, nil
	}
	for _, k := range want {
		if v.Kind == k {
			return v, true, nil
		}
	}
	return Value{}, false, fmt.Errorf("param %s: expected %s, got %s", key, want[0], v.Kind)
}

// String returns the string param key, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok, err := p.lookup(key, StringKind)
	if err != nil || !ok {
		return def, err
	}
	return v.Str, nil
}

// Int returns the integer param key, or def when absent.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok, err := p.lookup(key, IntKind)
	if err != nil || !ok {
		return def, err
	}
	return v.Int, nil
}

// Float accepts both integer and float literals.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok, err := p.lookup(key, FloatKind, IntKind)
	if err != nil || !ok {
		return def, err
	}
	if v.Kind == IntKind {
		return float64(v.Int), nil
	}
	return v.Float, nil
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok, err := p.lookup(key, BoolKind)
	if err != nil || !ok {
		return def, err
	}
	return v.Bool, nil
}

// Duration accepts a Go duration string or an integer number of milliseconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok, err := p.lookup(key, StringKind, IntKind)
	if err != nil || !ok {
		return def, err
	}
	if v.Kind == IntKind {
		return time.Duration(v.Int) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v.Str)
	if err != nil {
		return def, fmt.Errorf("param %s: %w", key, err)
	}
	return d, nil
}

// Map returns the map param key as plain Go values.
func (p Params) Map(key string) (map[string]any, error) {
	v, ok, err := p.lookup(key, MapKind)
	if err != nil || !ok {
		return nil, err
	}
	return v.Interface().(map[string]any), nil
}

// Strings returns a list of strings. A single string is accepted as a one-element list.
func (p Params) Strings(key string) ([]string, error) {
	v, ok, err := p.lookup(key, ListKind, StringKind)
	if err != nil || !ok {
		return nil, err
	}
	if v.Kind == StringKind {
		return []string{v.Str}, nil
	}
	out := make([]string, 0, len(v.List))
	for _, item := range v.List {
		if item.Kind != StringKind {
			return nil, fmt.Errorf("param %s: expected list of string, got %s element", key, item.Kind)
		}
		out = append(out, item.Str)
	}
	return out, nil
}

// Plain converts all params to plain Go values.
func (p Params) Plain() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}
