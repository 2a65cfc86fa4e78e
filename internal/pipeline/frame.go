// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"maps"
	"time"
)

// Frame is one unit of media flowing between stages. Frames are shared
// between fan-out branches, so processors must not mutate Data or Meta in
// place; use WithMeta to derive an annotated copy.
type Frame struct {
	Seq      uint64
	Time     time.Time
	StreamID string
	Data     []byte
	Meta     map[string]any
}

// WithMeta returns a copy of f with kv merged into its metadata.
func (f Frame) WithMeta(kv map[string]any) Frame {
	meta := make(map[string]any, len(f.Meta)+len(kv))
	maps.Copy(meta, f.Meta)
	maps.Copy(meta, kv)
	f.Meta = meta
	return f
}
