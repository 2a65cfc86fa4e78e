// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/avbridge/internal/dsl"
	"golang.org/x/time/rate"
)

var builtinStages = map[string]StageFactory{
	"passthrough": newPassthrough,
	"sample":      newSample,
	"throttle":    newThrottle,
	"annotate":    newAnnotate,
}

func newPassthrough(context.Context, Env, dsl.Params) (Processor, error) {
	return ProcessorFunc(func(_ context.Context, f Frame) (Frame, bool, error) {
		return f, true, nil
	}), nil
}

// sample keeps every n-th frame, starting with the first.
type sample struct {
	every uint64
	seen  uint64
}

func newSample(_ context.Context, _ Env, p dsl.Params) (Processor, error) {
	every, err := p.Int("every", 2)
	if err != nil {
		return nil, err
	}
	if every < 1 {
		return nil, fmt.Errorf("every must be >= 1, got %d", every)
	}
	return &sample{every: uint64(every)}, nil
}

func (s *sample) Process(_ context.Context, f Frame) (Frame, bool, error) {
	keep := s.seen%s.every == 0
	s.seen++
	return f, keep, nil
}

// throttle limits the frame rate. In drop mode excess frames are discarded;
// in wait mode the stage blocks until the limiter admits the frame.
type throttle struct {
	limiter *rate.Limiter
	wait    bool
}

func newThrottle(_ context.Context, _ Env, p dsl.Params) (Processor, error) {
	fps, err := p.Float("fps", 0)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, errors.New("fps must be > 0")
	}
	burst, err := p.Int("burst", 1)
	if err != nil {
		return nil, err
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be >= 1, got %d", burst)
	}
	mode, err := p.String("mode", "drop")
	if err != nil {
		return nil, err
	}
	if mode != "drop" && mode != "wait" {
		return nil, fmt.Errorf("unknown throttle mode %q", mode)
	}
	return &throttle{limiter: rate.NewLimiter(rate.Limit(fps), int(burst)), wait: mode == "wait"}, nil
}

func (t *throttle) Process(ctx context.Context, f Frame) (Frame, bool, error) {
	if !t.wait {
		return f, t.limiter.Allow(), nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return f, false, err
	}
	return f, true, nil
}

// annotate merges static tags into frame metadata. Tags come from the "tags"
// map param, or from all params when no such map is given.
func newAnnotate(_ context.Context, _ Env, p dsl.Params) (Processor, error) {
	tags, err := p.Map("tags")
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = p.Plain()
	}
	if len(tags) == 0 {
		return nil, errors.New("annotate needs at least one tag")
	}
	return ProcessorFunc(func(_ context.Context, f Frame) (Frame, bool, error) {
		return f.WithMeta(tags), true, nil
	}), nil
}
