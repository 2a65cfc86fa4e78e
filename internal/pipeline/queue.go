// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/metrics"
)

// queue is a bounded edge between one producer and one consumer stage.
// The producer closes it once it will never send again.
type queue struct {
	ch      chan Frame
	policy  string
	timeout time.Duration
	// kind of the consuming stage, for drop metrics.
	kind string

	closeOnce sync.Once
}

func newQueue(size int, policy string, timeout time.Duration, consumerKind string) *queue {
	return &queue{ch: make(chan Frame, size), policy: policy, timeout: timeout, kind: consumerKind}
}

// push enqueues f. Under the block policy a queue that stays full for the
// block timeout fails with ErrQueueTimeout; under drop_oldest the oldest
// queued frame is evicted instead.
func (q *queue) push(ctx context.Context, f Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
	}

	if q.policy == dsl.PolicyDropOldest {
		for {
			select {
			case <-q.ch:
				metrics.IncQueueDrop(q.kind)
			default:
			}
			select {
			case q.ch <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueTimeout
	}
}

func (q *queue) close() { q.closeOnce.Do(func() { close(q.ch) }) }

// inbox fans in the input queues of one stage.
type inbox struct {
	queues []*queue
	open   []bool
	nOpen  int
}

func newInbox(qs []*queue) *inbox {
	in := &inbox{queues: qs, open: make([]bool, len(qs)), nOpen: len(qs)}
	for i := range in.open {
		in.open[i] = true
	}
	return in
}

// recv returns the next frame from any input. ok is false once every input
// is closed and drained.
func (in *inbox) recv(ctx context.Context) (Frame, bool, error) {
	if len(in.queues) == 1 {
		if in.nOpen == 0 {
			return Frame{}, false, nil
		}
		select {
		case f, ok := <-in.queues[0].ch:
			if !ok {
				in.open[0] = false
				in.nOpen = 0
			}
			return f, ok, nil
		case <-ctx.Done():
			return Frame{}, false, ctx.Err()
		}
	}

	for in.nOpen > 0 {
		cases := make([]reflect.SelectCase, 0, in.nOpen+1)
		idx := make([]int, 0, in.nOpen)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
		for i, q := range in.queues {
			if in.open[i] {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(q.ch)})
				idx = append(idx, i)
			}
		}
		chosen, v, ok := reflect.Select(cases)
		if chosen == 0 {
			return Frame{}, false, ctx.Err()
		}
		if !ok {
			in.open[idx[chosen-1]] = false
			in.nOpen--
			continue
		}
		return v.Interface().(Frame), true, nil
	}
	return Frame{}, false, nil
}
