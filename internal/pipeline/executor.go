// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline runs parsed pipeline definitions as graphs of concurrent
// stage workers connected by bounded queues.
//
// Each definition has at most one live Instance. Instances follow
// BUILDING → RUNNING → STOPPING → STOPPED, with ERROR reachable from BUILDING
// and RUNNING. A failing worker is restarted with exponential backoff up to
// its max_retries; after that the whole instance fails, every other worker is
// cancelled and exactly one pipeline/{id}/error event is published.
//
// A changed definition never mutates a running graph: the new instance is
// built first, then the old one is stopped and the new one started.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/ManuGH/avbridge/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// SenderID identifies the executor on the broker.
const SenderID = "pipeline-executor"

const streamEventBuffer = 256

// Bus is the slice of the broker the executor needs.
type Bus interface {
	Publisher
	SubscribeChan(subscriberID, pattern string, buffer int) (*broker.ChanSubscription, error)
}

// Options configures an Executor. Zero values select defaults.
type Options struct {
	Bus      Bus
	Registry *Registry
	Store    DefinitionStore
	Opener   StreamOpener
	// HTTPClient is used by webhook sinks.
	HTTPClient *http.Client

	QueueSize    int
	Backpressure string
	BlockTimeout time.Duration
	// MaxRetries applies to stages without their own max_retries.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// StopTimeout bounds how long a hot reload waits for the old instance.
	StopTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Registry == nil {
		o.Registry = NewDefaultRegistry()
	}
	if o.Store == nil {
		o.Store = NewMemoryDefinitionStore()
	}
	if o.Opener == nil {
		o.Opener = EndpointOpener{}
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.Backpressure == "" {
		o.Backpressure = dsl.PolicyBlock
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 100 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
}

// pipelineEntry is one registered definition. op serializes lifecycle
// operations on this pipeline; the executor-wide lock is never held while
// building or stopping.
type pipelineEntry struct {
	op      sync.Mutex
	def     *dsl.Definition
	inst    *Instance
	removed bool
}

// Executor owns pipeline definitions and their instances. Safe for concurrent use.
type Executor struct {
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer

	mu        sync.RWMutex
	pipelines map[string]*pipelineEntry
	// streams holds the running stream per device, fed by stream events.
	streams map[string]StreamInfo

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New builds an Executor. Call Run to reload persisted definitions and follow
// device streams.
func New(opts Options) *Executor {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		opts:      opts,
		logger:    log.WithComponent("pipeline"),
		tracer:    telemetry.Tracer(telemetry.ScopePipeline),
		pipelines: make(map[string]*pipelineEntry),
		streams:   make(map[string]StreamInfo),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry returns the kind registry used to build instances.
func (x *Executor) Registry() *Registry { return x.opts.Registry }

// ApplyText parses a text or YAML document and applies it.
func (x *Executor) ApplyText(ctx context.Context, doc []byte) (*dsl.Definition, error) {
	def, err := dsl.ParseDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := x.Apply(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Apply registers def or replaces the definition with the same id. A running
// instance is hot-reloaded; an idle pipeline starts when its input is
// available. Invalid definitions and unknown kinds are rejected before
// anything changes.
func (x *Executor) Apply(ctx context.Context, def *dsl.Definition) error {
	if err := dsl.Validate(def); err != nil {
		return err
	}
	if err := x.checkKinds(def); err != nil {
		return err
	}
	text := dsl.Format(def)

	e, err := x.entry(def.ID, true)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s removed concurrently", ErrNotFound, def.ID)
	}
	if e.def == nil {
		// A first Apply that fails leaves nothing registered.
		defer func() {
			if e.def == nil {
				x.forget(def.ID, e)
			}
		}()
	}

	running := e.inst != nil && e.inst.active()
	if running && dsl.Format(e.def) == text {
		return nil
	}
	if running {
		return x.reload(ctx, e, def, text)
	}
	if err := x.persist(ctx, def.ID, text); err != nil {
		return err
	}
	e.def = def

	stream, ok := x.streamFor(def)
	if !ok {
		x.logger.Info().Str(log.FieldPipelineID, def.ID).Str(log.FieldDeviceID, def.Input.Device).
			Str(log.FieldEvent, "pipeline.waiting").Msg("pipeline applied, waiting for input stream")
		return nil
	}
	return x.startLocked(ctx, e, stream)
}

func (x *Executor) persist(ctx context.Context, id, text string) error {
	if err := x.opts.Store.Save(ctx, id, text); err != nil {
		return fmt.Errorf("persist pipeline %s: %w", id, err)
	}
	return nil
}

// reload builds an instance of def, then swaps it for the running one. A
// failed build leaves the running instance and the stored definition as they
// were. Caller holds e.op.
func (x *Executor) reload(ctx context.Context, e *pipelineEntry, def *dsl.Definition, text string) error {
	old := e.inst
	stream, ok := x.streamFor(def)
	if !ok {
		// The new input is not available yet; the old graph must not outlive its definition.
		if err := x.persist(ctx, def.ID, text); err != nil {
			return err
		}
		e.def = def
		return x.stopInstance(ctx, old, model.RHotReload)
	}

	next, err := x.build(ctx, def, stream)
	if err != nil {
		return err
	}
	if err := x.persist(ctx, def.ID, text); err != nil {
		_ = next.stop(ctx, model.RHotReload)
		return err
	}
	e.def = def
	if err := x.stopInstance(ctx, old, model.RHotReload); err != nil {
		_ = next.stop(ctx, model.RHotReload)
		return err
	}
	if err := next.start(ctx); err != nil {
		return err
	}
	e.inst = next
	x.logger.Info().
		Str(log.FieldPipelineID, e.def.ID).
		Str(log.FieldInstanceID, next.id).
		Str("previous_instance", old.id).
		Str(log.FieldEvent, "pipeline.reloaded").
		Msg("pipeline hot-reloaded")
	return nil
}

func (x *Executor) stopInstance(ctx context.Context, inst *Instance, reason model.ReasonCode) error {
	ctx, cancel := context.WithTimeout(ctx, x.opts.StopTimeout)
	defer cancel()
	if err := inst.stop(ctx, reason); err != nil {
		return fmt.Errorf("stop instance %s: %w", inst.id, err)
	}
	return nil
}

// Start starts an idle pipeline. Starting a running pipeline is a no-op.
func (x *Executor) Start(ctx context.Context, id string) error {
	e, err := x.entry(id, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.def == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.inst != nil && e.inst.active() {
		return nil
	}
	stream, ok := x.streamFor(e.def)
	if !ok {
		return fmt.Errorf("pipeline %s: %w: device %s", id, ErrStreamNotRunning, e.def.Input.Device)
	}
	return x.startLocked(ctx, e, stream)
}

// startLocked builds and starts a fresh instance. Caller holds e.op.
func (x *Executor) startLocked(ctx context.Context, e *pipelineEntry, stream StreamInfo) error {
	if x.isClosed() {
		return ErrClosed
	}
	inst, err := x.build(ctx, e.def, stream)
	e.inst = inst
	if err != nil {
		return err
	}
	return inst.start(ctx)
}

// Stop stops the running instance and keeps the definition.
func (x *Executor) Stop(ctx context.Context, id string) error {
	e, err := x.entry(id, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.inst == nil {
		return nil
	}
	return x.stopInstance(ctx, e.inst, model.RClientStop)
}

// Remove stops the pipeline and deletes its definition.
func (x *Executor) Remove(ctx context.Context, id string) error {
	e, err := x.entry(id, false)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.inst != nil {
		if err := x.stopInstance(ctx, e.inst, model.RRemoved); err != nil {
			return err
		}
	}
	x.forget(id, e)

	if err := x.opts.Store.Delete(ctx, id); err != nil {
		x.logger.Warn().Err(err).Str(log.FieldPipelineID, id).Msg("failed to delete persisted pipeline")
	}
	x.logger.Info().Str(log.FieldPipelineID, id).Str(log.FieldEvent, "pipeline.removed").Msg("pipeline removed")
	return nil
}

// Status is a point-in-time view of one pipeline.
type Status struct {
	ID       string          `json:"id"`
	State    State           `json:"state"`
	Device   string          `json:"device,omitempty"`
	Stages   []string        `json:"stages"`
	Instance *InstanceStatus `json:"instance,omitempty"`
}

func (x *Executor) Status(id string) (Status, error) {
	e, err := x.entry(id, false)
	if err != nil {
		return Status{}, err
	}
	e.op.Lock()
	def, inst := e.def, e.inst
	e.op.Unlock()
	if def == nil {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return statusOf(def, inst), nil
}

func statusOf(def *dsl.Definition, inst *Instance) Status {
	st := Status{ID: def.ID, State: StateIdle, Device: def.Input.Device, Stages: def.StageNames()}
	if inst != nil {
		is := inst.Status()
		st.State = is.State
		st.Instance = &is
	}
	return st
}

// List returns the status of every pipeline, ordered by id.
func (x *Executor) List() []Status {
	x.mu.RLock()
	entries := make([]*pipelineEntry, 0, len(x.pipelines))
	for _, e := range x.pipelines {
		entries = append(entries, e)
	}
	x.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.op.Lock()
		def, inst, removed := e.def, e.inst, e.removed
		e.op.Unlock()
		if removed || def == nil {
			continue
		}
		out = append(out, statusOf(def, inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instance returns the current instance of a pipeline, if any.
func (x *Executor) Instance(id string) (*Instance, error) {
	e, err := x.entry(id, false)
	if err != nil {
		return nil, err
	}
	e.op.Lock()
	defer e.op.Unlock()
	if e.inst == nil {
		return nil, fmt.Errorf("%w: %s has no instance", ErrNotFound, id)
	}
	return e.inst, nil
}

// Run reloads persisted definitions and then follows stream events until ctx
// ends: a started stream starts the pipelines reading from its device, a
// stopped or failed stream stops them.
func (x *Executor) Run(ctx context.Context) error {
	if x.opts.Bus == nil {
		return errors.New("pipeline executor needs a bus")
	}
	sub, err := x.opts.Bus.SubscribeChan(SenderID, "streams/#", streamEventBuffer)
	if err != nil {
		return fmt.Errorf("subscribe stream events: %w", err)
	}
	defer func() { _ = sub.Close() }()

	if err := x.LoadStored(ctx); err != nil {
		x.logger.Warn().Err(err).Msg("failed to load persisted pipelines")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			x.handleStreamEvent(ctx, msg)
		}
	}
}

// LoadStored applies every persisted definition. Broken entries are logged and skipped.
func (x *Executor) LoadStored(ctx context.Context) error {
	recs, err := x.opts.Store.Load(ctx)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if _, err := x.ApplyText(ctx, []byte(r.Text)); err != nil {
			x.logger.Warn().Err(err).Str(log.FieldPipelineID, r.ID).Msg("skipping persisted pipeline")
		}
	}
	if len(recs) > 0 {
		x.logger.Info().Int("count", len(recs)).Msg("restored persisted pipelines")
	}
	return nil
}

func (x *Executor) handleStreamEvent(ctx context.Context, msg broker.Message) {
	verb := broker.Segment(msg.Topic, 2)
	info := StreamInfo{
		DeviceID: stringField(msg.Payload, "device_id"),
		StreamID: stringField(msg.Payload, "stream_id"),
		Protocol: stringField(msg.Payload, "protocol"),
		Endpoint: stringField(msg.Payload, "endpoint"),
	}
	if info.DeviceID == "" {
		return
	}
	if info.StreamID == "" {
		info.StreamID = broker.Segment(msg.Topic, 1)
	}

	switch verb {
	case "started":
		x.mu.Lock()
		x.streams[info.DeviceID] = info
		x.mu.Unlock()
		for _, e := range x.consumers(info) {
			x.onStreamStarted(ctx, e, info)
		}
	case "stopped", "error":
		x.mu.Lock()
		if cur, ok := x.streams[info.DeviceID]; ok && cur.StreamID == info.StreamID {
			delete(x.streams, info.DeviceID)
		}
		x.mu.Unlock()
		reason := model.RStreamStopped
		if verb == "error" {
			reason = model.RStreamFailed
		}
		for _, e := range x.consumers(info) {
			e.op.Lock()
			if e.inst != nil && e.inst.active() && e.inst.stream.StreamID == info.StreamID {
				if err := x.stopInstance(ctx, e.inst, reason); err != nil {
					x.logger.Warn().Err(err).Str(log.FieldPipelineID, e.def.ID).Msg("failed to stop pipeline after stream end")
				}
			}
			e.op.Unlock()
		}
	}
}

func (x *Executor) onStreamStarted(ctx context.Context, e *pipelineEntry, info StreamInfo) {
	e.op.Lock()
	defer e.op.Unlock()
	if e.removed {
		return
	}
	if e.inst != nil && e.inst.active() {
		if e.inst.stream == info {
			return
		}
		if err := x.stopInstance(ctx, e.inst, model.RStreamStopped); err != nil {
			x.logger.Warn().Err(err).Str(log.FieldPipelineID, e.def.ID).Msg("failed to stop pipeline on stream change")
			return
		}
	}
	if err := x.startLocked(ctx, e, info); err != nil {
		x.logger.Warn().Err(err).Str(log.FieldPipelineID, e.def.ID).Str(log.FieldStreamID, info.StreamID).
			Msg("failed to start pipeline for stream")
	}
}

// consumers lists pipelines reading from the device of info.
func (x *Executor) consumers(info StreamInfo) []*pipelineEntry {
	x.mu.RLock()
	entries := make([]*pipelineEntry, 0, len(x.pipelines))
	for _, e := range x.pipelines {
		entries = append(entries, e)
	}
	x.mu.RUnlock()

	var out []*pipelineEntry
	for _, e := range entries {
		e.op.Lock()
		def := e.def
		e.op.Unlock()
		if def != nil && matchesStream(def, info) {
			out = append(out, e)
		}
	}
	return out
}

func matchesStream(def *dsl.Definition, info StreamInfo) bool {
	if def.Input.Device == "" || def.Input.Device != info.DeviceID {
		return false
	}
	return def.Input.Protocol == "" || def.Input.Protocol == info.Protocol
}

// streamFor returns the stream a definition reads from. Definitions without
// an input device need none.
func (x *Executor) streamFor(def *dsl.Definition) (StreamInfo, bool) {
	if def.Input.Device == "" {
		return StreamInfo{}, true
	}
	x.mu.RLock()
	info, ok := x.streams[def.Input.Device]
	x.mu.RUnlock()
	if !ok || !matchesStream(def, info) {
		return StreamInfo{}, false
	}
	return info, true
}

func (x *Executor) checkKinds(def *dsl.Definition) error {
	return x.opts.Registry.Check(def)
}

func (x *Executor) entry(id string, create bool) (*pipelineEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrClosed
	}
	e, ok := x.pipelines[id]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		e = &pipelineEntry{}
		x.pipelines[id] = e
	}
	return e, nil
}

// forget unregisters e. Caller holds e.op.
func (x *Executor) forget(id string, e *pipelineEntry) {
	e.removed = true
	x.mu.Lock()
	if x.pipelines[id] == e {
		delete(x.pipelines, id)
	}
	x.mu.Unlock()
}

func (x *Executor) isClosed() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.closed
}

// Close stops every instance. Definitions stay persisted.
func (x *Executor) Close(ctx context.Context) error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	entries := make([]*pipelineEntry, 0, len(x.pipelines))
	for _, e := range x.pipelines {
		entries = append(entries, e)
	}
	x.mu.Unlock()

	var errs []error
	for _, e := range entries {
		e.op.Lock()
		if e.inst != nil {
			if err := x.stopInstance(ctx, e.inst, model.RCancelled); err != nil {
				errs = append(errs, err)
			}
		}
		e.op.Unlock()
	}
	x.cancel()
	return errors.Join(errs...)
}

func (x *Executor) emit(ctx context.Context, evs ...event) {
	if x.opts.Bus == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evs {
		if err := x.opts.Bus.Publish(ctx, ev.topic, ev.payload, SenderID); err != nil {
			x.logger.Warn().Err(err).Str(log.FieldTopic, ev.topic).Msg("publish failed")
		}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
