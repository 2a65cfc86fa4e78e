// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/rs/zerolog"
)

// Processor applies one stage to a frame. Returning ok=false drops the frame.
type Processor interface {
	Process(ctx context.Context, f Frame) (out Frame, ok bool, err error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, f Frame) (Frame, bool, error)

func (fn ProcessorFunc) Process(ctx context.Context, f Frame) (Frame, bool, error) {
	return fn(ctx, f)
}

// Source produces frames. Next returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Sink is an output stage: the only place where a pipeline has side effects.
type Sink interface {
	Write(ctx context.Context, f Frame) error
	Close() error
}

// Publisher is the slice of the broker that publish sinks need.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any, senderID string) error
}

// StreamInfo describes the device stream feeding a pipeline.
type StreamInfo struct {
	DeviceID string
	StreamID string
	Protocol string
	Endpoint string
}

// StreamOpener turns a running device stream into a frame source.
type StreamOpener interface {
	Open(ctx context.Context, stream StreamInfo, params dsl.Params) (Source, error)
}

// Env is what a factory gets to build one stage of one instance.
type Env struct {
	PipelineID string
	InstanceID string
	Stage      string
	Stream     StreamInfo
	Bus        Publisher
	Opener     StreamOpener
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type (
	StageFactory  func(ctx context.Context, env Env, params dsl.Params) (Processor, error)
	SourceFactory func(ctx context.Context, env Env, src dsl.Source) (Source, error)
	SinkFactory   func(ctx context.Context, env Env, params dsl.Params) (Sink, error)
)

// Registry maps kind names to factories. Kinds are resolved when an instance
// is built, never while frames are flowing.
type Registry struct {
	mu      sync.RWMutex
	stages  map[string]StageFactory
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages:  make(map[string]StageFactory),
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
	}
}

// NewDefaultRegistry returns a registry with the built-in kinds.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, f := range builtinStages {
		r.stages[kind] = f
	}
	for kind, f := range builtinSources {
		r.sources[kind] = f
	}
	for kind, f := range builtinSinks {
		r.sinks[kind] = f
	}
	return r
}

func (r *Registry) RegisterStage(kind string, f StageFactory) error {
	return register(&r.mu, r.stages, "stage", kind, f)
}

func (r *Registry) RegisterSource(kind string, f SourceFactory) error {
	return register(&r.mu, r.sources, "source", kind, f)
}

func (r *Registry) RegisterSink(kind string, f SinkFactory) error {
	return register(&r.mu, r.sinks, "sink", kind, f)
}

func register[F any](mu *sync.RWMutex, m map[string]F, what, kind string, f F) error {
	if kind == "" {
		return fmt.Errorf("register %s: empty kind", what)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := m[kind]; dup {
		return fmt.Errorf("register %s: kind %q already registered", what, kind)
	}
	m[kind] = f
	return nil
}

func (r *Registry) stage(kind string) (StageFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.stages[kind]
	return f, ok
}

func (r *Registry) source(kind string) (SourceFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[kind]
	return f, ok
}

func (r *Registry) sink(kind string) (SinkFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sinks[kind]
	return f, ok
}

// Kinds lists registered kinds, sorted.
type Kinds struct {
	Stages  []string `json:"stages"`
	Sources []string `json:"sources"`
	Sinks   []string `json:"sinks"`
}

func (r *Registry) Kinds() Kinds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Kinds{
		Stages:  sortedKeys(r.stages),
		Sources: sortedKeys(r.sources),
		Sinks:   sortedKeys(r.sinks),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Check reports the first kind in def that has no registered factory.
func (r *Registry) Check(def *dsl.Definition) error {
	if _, ok := r.source(def.Input.Kind); !ok {
		return &BuildError{Pipeline: def.ID, Stage: dsl.SourceName, Kind: def.Input.Kind, Cause: errors.New("unknown source kind")}
	}
	for _, st := range def.Stages {
		if _, ok := r.stage(st.Kind); !ok {
			return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: errors.New("unknown stage kind")}
		}
	}
	for _, st := range def.Outputs {
		if _, ok := r.sink(st.Kind); !ok {
			return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: errors.New("unknown sink kind")}
		}
	}
	return nil
}
