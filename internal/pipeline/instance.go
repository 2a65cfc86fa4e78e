// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/ManuGH/avbridge/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type role int

const (
	roleSource role = iota
	roleStage
	roleSink
)

// node is one worker of an instance. The source, processor or sink is built
// through its registry factory and rebuilt on every restart.
type node struct {
	name       string
	kind       string
	role       role
	maxRetries int

	in  *inbox
	out []*queue

	env       Env
	input     dsl.Source
	params    dsl.Params
	newSource SourceFactory
	newStage  StageFactory
	newSink   SinkFactory

	mu     sync.Mutex
	source Source
	proc   Processor
	sink   Sink
}

// open builds a fresh source, processor or sink for the node.
func (n *node) open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	switch n.role {
	case roleSource:
		n.source, err = n.newSource(ctx, n.env, n.input)
	case roleStage:
		n.proc, err = n.newStage(ctx, n.env, n.params)
	default:
		n.sink, err = n.newSink(ctx, n.env, n.params)
	}
	return err
}

// close releases the current source, processor or sink, if any.
func (n *node) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	switch {
	case n.source != nil:
		err = n.source.Close()
		n.source = nil
	case n.sink != nil:
		err = n.sink.Close()
		n.sink = nil
	case n.proc != nil:
		if c, ok := n.proc.(io.Closer); ok {
			err = c.Close()
		}
		n.proc = nil
	}
	return err
}

// reopen replaces a failed source, processor or sink with a new one.
func (n *node) reopen(ctx context.Context) error {
	if err := n.close(); err != nil {
		n.env.Logger.Debug().Err(err).Msg("failed to close stage before restart")
	}
	if err := n.open(ctx); err != nil {
		return fmt.Errorf("rebuild %s stage: %w", n.kind, err)
	}
	return nil
}

// current returns what the worker should run with.
func (n *node) current() (Source, Processor, Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.source, n.proc, n.sink
}

// Instance is one running realization of a definition. Instances are never
// modified after build; a changed definition gets a new instance.
type Instance struct {
	id     string
	def    *dsl.Definition
	stream StreamInfo
	nodes  []*node
	x      *Executor
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	reason     model.ReasonCode
	lastErr    error
	since      time.Time
	retries    map[string]int
	stopReason model.ReasonCode
	started    bool

	cancel      context.CancelFunc
	done        chan struct{}
	releaseOnce sync.Once
}

// InstanceStatus is a point-in-time view of an instance.
type InstanceStatus struct {
	InstanceID string         `json:"instance_id"`
	State      State          `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Since      time.Time      `json:"since"`
	Retries    map[string]int `json:"retries,omitempty"`
	StreamID   string         `json:"stream_id,omitempty"`
}

type event struct {
	topic   string
	payload map[string]any
}

// build resolves every kind, opens sources and sinks and wires the queues.
// A failed build leaves the instance in ERROR with everything released.
func (x *Executor) build(ctx context.Context, def *dsl.Definition, stream StreamInfo) (inst *Instance, err error) {
	inst = &Instance{
		id:      uuid.NewString(),
		def:     def,
		stream:  stream,
		x:       x,
		state:   StateBuilding,
		since:   time.Now(),
		retries: make(map[string]int),
		done:    make(chan struct{}),
	}
	inst.logger = x.logger.With().
		Str(log.FieldPipelineID, def.ID).
		Str(log.FieldInstanceID, inst.id).
		Logger()

	ctx, span := x.tracer.Start(ctx, "pipeline.build",
		trace.WithAttributes(telemetry.PipelineAttributes(def.ID, inst.id, len(def.Stages)+len(def.Outputs))...))
	defer span.End()

	x.emit(ctx, inst.statusEvent(""))

	defer func() {
		if err == nil {
			return
		}
		telemetry.RecordError(span, err)
		inst.release()
		inst.mu.Lock()
		from, _ := inst.fire(evFail)
		inst.reason = model.RBuildFailed
		inst.lastErr = err
		evs := []event{inst.statusEvent(from), inst.errorEvent("", model.RBuildFailed, err)}
		inst.mu.Unlock()
		close(inst.done)
		x.emit(ctx, evs...)
		inst.logger.Error().Err(err).Str(log.FieldEvent, "pipeline.build_failed").Msg("pipeline build failed")
	}()

	if err := inst.buildNodes(ctx); err != nil {
		return inst, err
	}
	return inst, nil
}

func (inst *Instance) buildNodes(ctx context.Context) error {
	def, x := inst.def, inst.x
	order, err := dsl.TopoOrder(def)
	if err != nil {
		return err
	}

	queueSize := def.Options.QueueSize
	if queueSize <= 0 {
		queueSize = x.opts.QueueSize
	}
	policy := def.Options.Backpressure
	if policy == "" {
		policy = x.opts.Backpressure
	}
	timeout := def.Options.BlockTimeout
	if timeout <= 0 {
		timeout = x.opts.BlockTimeout
	}

	env := func(stage string) Env {
		return Env{
			PipelineID: def.ID,
			InstanceID: inst.id,
			Stage:      stage,
			Stream:     inst.stream,
			Bus:        x.opts.Bus,
			Opener:     x.opts.Opener,
			HTTPClient: x.opts.HTTPClient,
			Logger:     inst.logger.With().Str(log.FieldStage, stage).Logger(),
		}
	}

	byName := make(map[string]*node, len(order)+1)
	srcFactory, ok := x.opts.Registry.source(def.Input.Kind)
	if !ok {
		return &BuildError{Pipeline: def.ID, Stage: dsl.SourceName, Kind: def.Input.Kind, Cause: errors.New("unknown source kind")}
	}
	srcNode := &node{
		name:       dsl.SourceName,
		kind:       def.Input.Kind,
		role:       roleSource,
		maxRetries: x.opts.MaxRetries,
		env:        env(dsl.SourceName),
		input:      def.Input,
		newSource:  srcFactory,
	}
	if err := srcNode.open(ctx); err != nil {
		return &BuildError{Pipeline: def.ID, Stage: dsl.SourceName, Kind: def.Input.Kind, Cause: err}
	}
	inst.nodes = append(inst.nodes, srcNode)
	byName[dsl.SourceName] = srcNode

	outputs := make(map[string]bool, len(def.Outputs))
	for _, o := range def.Outputs {
		outputs[o.Name] = true
	}

	for _, name := range order {
		st, _ := def.Stage(name)
		n := &node{name: st.Name, kind: st.Kind, maxRetries: x.opts.MaxRetries, env: env(st.Name), params: st.Params}
		if st.MaxRetries != nil {
			n.maxRetries = *st.MaxRetries
		}
		if outputs[name] {
			n.role = roleSink
			if n.newSink, ok = x.opts.Registry.sink(st.Kind); !ok {
				return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: errors.New("unknown sink kind")}
			}
		} else {
			n.role = roleStage
			if n.newStage, ok = x.opts.Registry.stage(st.Kind); !ok {
				return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: errors.New("unknown stage kind")}
			}
		}
		if err := n.open(ctx); err != nil {
			return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: err}
		}
		// Track the node before wiring so release covers it on failure.
		inst.nodes = append(inst.nodes, n)

		var ins []*queue
		for _, from := range st.Inputs {
			up, ok := byName[from]
			if !ok {
				return &BuildError{Pipeline: def.ID, Stage: st.Name, Kind: st.Kind, Cause: fmt.Errorf("input %q not built", from)}
			}
			q := newQueue(queueSize, policy, timeout, st.Kind)
			up.out = append(up.out, q)
			ins = append(ins, q)
		}
		n.in = newInbox(ins)
		byName[name] = n
	}
	return nil
}

// start launches the workers in dependency order, source first.
func (inst *Instance) start(ctx context.Context) error {
	inst.mu.Lock()
	from, err := inst.fire(evBuilt)
	if err != nil {
		inst.mu.Unlock()
		return err
	}
	inst.started = true
	runCtx, cancel := context.WithCancel(inst.x.ctx)
	inst.cancel = cancel
	evs := []event{inst.statusEvent(from)}
	inst.mu.Unlock()
	inst.x.emit(ctx, evs...)

	g, gctx := errgroup.WithContext(runCtx)
	for _, n := range inst.nodes {
		g.Go(func() error { return inst.runNode(gctx, n) })
	}
	go inst.supervise(g)

	inst.logger.Info().
		Str(log.FieldEvent, "pipeline.started").
		Str(log.FieldStreamID, inst.stream.StreamID).
		Int("workers", len(inst.nodes)).
		Msg("pipeline instance running")
	return nil
}

// supervise waits for the workers and settles the final state.
func (inst *Instance) supervise(g *errgroup.Group) {
	err := g.Wait()
	inst.release()

	inst.mu.Lock()
	var evs []event
	switch {
	case inst.state == StateStopping:
		from, _ := inst.fire(evStopped)
		inst.reason = inst.stopReason
		evs = append(evs, inst.statusEvent(from))
	case err != nil:
		from, _ := inst.fire(evFail)
		inst.reason = model.RRetriesExhausted
		inst.lastErr = err
		stage := ""
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		evs = append(evs, inst.statusEvent(from), inst.errorEvent(stage, model.RRetriesExhausted, err))
	default:
		from, _ := inst.fire(evStop)
		inst.reason = model.RSourceEnded
		evs = append(evs, inst.statusEvent(from))
		from, _ = inst.fire(evStopped)
		evs = append(evs, inst.statusEvent(from))
	}
	state := inst.state
	inst.mu.Unlock()

	inst.cancel()
	close(inst.done)
	inst.x.emit(context.Background(), evs...)

	if state == StateError {
		inst.logger.Error().Err(err).Str(log.FieldEvent, "pipeline.error").Msg("pipeline instance failed")
	} else {
		inst.logger.Info().Str(log.FieldEvent, "pipeline.stopped").Str(log.FieldReason, string(inst.Status().Reason)).Msg("pipeline instance stopped")
	}
}

// stop asks the workers to finish and waits for the instance to settle.
// Instances that already ended are left as they are.
func (inst *Instance) stop(ctx context.Context, reason model.ReasonCode) error {
	inst.mu.Lock()
	if !inst.started {
		inst.mu.Unlock()
		inst.release()
		return nil
	}
	var evs []event
	if inst.state == StateRunning {
		from, _ := inst.fire(evStop)
		inst.stopReason = reason
		evs = append(evs, inst.statusEvent(from))
	}
	inst.mu.Unlock()
	inst.x.emit(ctx, evs...)

	inst.cancel()
	select {
	case <-inst.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// active reports whether the instance is running or about to run.
func (inst *Instance) active() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state == StateRunning || inst.state == StateBuilding
}

// Done is closed once the instance reached STOPPED or ERROR.
func (inst *Instance) Done() <-chan struct{} { return inst.done }

func (inst *Instance) Status() InstanceStatus {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	st := InstanceStatus{
		InstanceID: inst.id,
		State:      inst.state,
		Reason:     string(inst.reason),
		Since:      inst.since,
		StreamID:   inst.stream.StreamID,
	}
	if inst.lastErr != nil {
		st.Error = inst.lastErr.Error()
	}
	if len(inst.retries) > 0 {
		st.Retries = maps.Clone(inst.retries)
	}
	return st
}

// fire applies ev. Caller holds inst.mu.
func (inst *Instance) fire(ev instanceEvent) (State, error) {
	from := inst.state
	to, err := instanceLifecycle.Next(from, ev)
	if err != nil {
		return from, err
	}
	inst.state = to
	inst.since = time.Now()
	metrics.RecordPipelineTransition(string(from), string(to))
	inst.logger.Debug().
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("pipeline transition")
	return from, nil
}

// statusEvent describes the current state. Caller holds inst.mu or owns inst exclusively.
func (inst *Instance) statusEvent(previous State) event {
	p := map[string]any{
		"pipeline_id": inst.def.ID,
		"instance_id": inst.id,
		"state":       string(inst.state),
	}
	if previous != "" {
		p["previous"] = string(previous)
	}
	if inst.reason != "" {
		p["reason"] = string(inst.reason)
	}
	return event{topic: broker.TopicPipelineStatus(inst.def.ID), payload: p}
}

func (inst *Instance) errorEvent(stage string, reason model.ReasonCode, err error) event {
	p := map[string]any{
		"pipeline_id": inst.def.ID,
		"instance_id": inst.id,
		"reason":      string(reason),
		"error":       err.Error(),
	}
	if stage != "" {
		p["stage"] = stage
	}
	return event{topic: broker.TopicPipelineError(inst.def.ID), payload: p}
}

// release closes every source, processor and sink exactly once.
func (inst *Instance) release() {
	inst.releaseOnce.Do(func() {
		for _, n := range inst.nodes {
			if err := n.close(); err != nil {
				inst.logger.Warn().Err(err).Str(log.FieldStage, n.name).Msg("failed to release stage")
			}
		}
	})
}

func (inst *Instance) recordRetry(stage string, attempt int) {
	inst.mu.Lock()
	inst.retries[stage] = attempt
	inst.mu.Unlock()
}

// runNode runs one worker, restarting it with backoff until it succeeds,
// the instance is cancelled, or it exhausts maxRetries. Each restart runs on
// a freshly built source, processor or sink.
func (inst *Instance) runNode(ctx context.Context, n *node) error {
	if n.role == roleSource {
		// Closing the source unblocks a Next stuck in I/O.
		stop := context.AfterFunc(ctx, func() {
			if src, _, _ := n.current(); src != nil {
				_ = src.Close()
			}
		})
		defer stop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = inst.x.opts.RetryInitial
	bo.MaxInterval = inst.x.opts.RetryMax

	for attempt := 1; ; attempt++ {
		var err error
		if attempt > 1 {
			err = n.reopen(ctx)
			if ctx.Err() != nil {
				return nil
			}
		}
		if err == nil {
			err = inst.runOnce(ctx, n)
		}
		if err == nil {
			for _, q := range n.out {
				q.close()
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		metrics.IncStageFailure(n.kind, failureCause(err))
		if attempt > n.maxRetries {
			return &StageError{Pipeline: inst.def.ID, Stage: n.name, Kind: n.kind, Attempts: attempt, Cause: err}
		}
		inst.recordRetry(n.name, attempt)

		delay := bo.NextBackOff()
		inst.logger.Warn().
			Err(err).
			Str(log.FieldStage, n.name).
			Str(log.FieldKind, n.kind).
			Int(log.FieldAttempt, attempt).
			Dur("retry_in", delay).
			Msg("stage failed, restarting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, ErrQueueTimeout):
		return "queue_timeout"
	case errors.Is(err, errPanic):
		return "panic"
	default:
		return "error"
	}
}

var errPanic = errors.New("stage panicked")

func (inst *Instance) runOnce(ctx context.Context, n *node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	src, proc, sink := n.current()
	switch n.role {
	case roleSource:
		for {
			f, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := n.forward(ctx, f); err != nil {
				return err
			}
		}
	case roleStage:
		for {
			f, ok, err := n.in.recv(ctx)
			if err != nil || !ok {
				return err
			}
			out, keep, err := proc.Process(ctx, f)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
			if err := n.forward(ctx, out); err != nil {
				return err
			}
		}
	default:
		for {
			f, ok, err := n.in.recv(ctx)
			if err != nil || !ok {
				return err
			}
			if err := sink.Write(ctx, f); err != nil {
				return err
			}
			metrics.IncPipelineFrame(n.kind)
		}
	}
}

func (n *node) forward(ctx context.Context, f Frame) error {
	metrics.IncPipelineFrame(n.kind)
	for _, q := range n.out {
		if err := q.push(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
