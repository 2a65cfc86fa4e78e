// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broker is the in-process, topic-based publish/subscribe bus connecting
// the device manager, the pipeline executor and external status consumers.
//
// Delivery is at-most-once and synchronous: Publish invokes every matching handler
// inline on the caller's goroutine, so messages from one sender to one topic reach
// each subscriber in publish order. Handlers must not block; consumers that need to
// do real work use SubscribeChan or hand off to their own goroutine.
package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
	"github.com/ManuGH/avbridge/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnknownSubscription = errors.New("unknown subscription")

// Message is a single published event.
type Message struct {
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	SenderID  string         `json:"sender_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes a message. A returned error or panic is logged and counted,
// never propagated to the publisher.
type Handler func(ctx context.Context, msg Message) error

// DispatchError describes a failed handler invocation.
type DispatchError struct {
	SubscriptionID string
	Topic          string
	Cause          error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %q to subscription %s: %v", e.Topic, e.SubscriptionID, e.Cause)
}

func (e *DispatchError) Unwrap() []error { return []error{model.ErrBrokerDispatch, e.Cause} }

type subscription struct {
	id           string
	subscriberID string
	pattern      pattern
	handler      Handler

	// inflight counts running handler calls, including calls re-entered from
	// the handler itself. Unsubscribe waits on idle until it drops to zero.
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	closed   atomic.Bool
}

// enter registers a handler call. It fails once the subscription is removed.
func (s *subscription) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.inflight++
	return true
}

func (s *subscription) leave() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// drain blocks until no handler call is running. Caller has set closed.
func (s *subscription) drain() {
	s.mu.Lock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Stats is a point-in-time view of broker counters.
type Stats struct {
	Subscriptions  int    `json:"subscriptions"`
	Published      uint64 `json:"published"`
	Delivered      uint64 `json:"delivered"`
	DispatchErrors uint64 `json:"dispatch_errors"`
}

// Broker is safe for concurrent use. Create one per process and pass it to
// every component that needs it.
type Broker struct {
	mu   sync.RWMutex
	subs []*subscription
	byID map[string]*subscription

	logger zerolog.Logger
	now    func() time.Time

	published      atomic.Uint64
	delivered      atomic.Uint64
	dispatchErrors atomic.Uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		byID:   make(map[string]*subscription),
		logger: log.WithComponent("broker"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every topic matching pattern and returns the
// subscription id.
func (b *Broker) Subscribe(subscriberID, pat string, handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("%w: nil handler", ErrInvalidPattern)
	}
	p, err := compilePattern(pat)
	if err != nil {
		return "", err
	}
	sub := &subscription{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		pattern:      p,
		handler:      handler,
	}
	sub.idle = sync.NewCond(&sub.mu)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()
	metrics.BrokerSubscriptions.Inc()

	b.logger.Debug().
		Str(log.FieldSubscriptionID, sub.id).
		Str(log.FieldPattern, pat).
		Str("subscriber", subscriberID).
		Msg("subscribed")
	return sub.id, nil
}

// Unsubscribe removes the subscription and waits for its in-flight handler calls
// to finish; once it returns the handler is never invoked again. Deliveries
// started while it waits, including re-entrant publishes from the handler, are
// skipped. A handler must not unsubscribe itself with this method (it would
// wait on its own call); use UnsubscribeAsync from inside handlers.
func (b *Broker) Unsubscribe(id string) error {
	sub, err := b.remove(id)
	if err != nil {
		return err
	}
	sub.drain()
	return nil
}

// UnsubscribeAsync removes the subscription without waiting for in-flight calls.
func (b *Broker) UnsubscribeAsync(id string) error {
	_, err := b.remove(id)
	return err
}

func (b *Broker) remove(id string) (*subscription, error) {
	b.mu.Lock()
	sub, ok := b.byID[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	delete(b.byID, id)
	out := b.subs[:0]
	for _, s := range b.subs {
		if s != sub {
			out = append(out, s)
		}
	}
	// Clear the tail so removed subscriptions are not retained by the backing array.
	for i := len(out); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = out
	sub.closed.Store(true)
	b.mu.Unlock()

	metrics.BrokerSubscriptions.Dec()
	b.logger.Debug().Str(log.FieldSubscriptionID, id).Msg("unsubscribed")
	return sub, nil
}

// Publish delivers payload to every subscription whose pattern matches topic.
// Zero matching subscriptions is not an error. Handler failures are isolated.
func (b *Broker) Publish(ctx context.Context, topic string, payload map[string]any, senderID string) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	segs, err := validateTopic(topic)
	if err != nil {
		return err
	}

	msg := Message{
		Topic:     topic,
		Payload:   payload,
		SenderID:  senderID,
		Timestamp: b.now(),
	}

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.pattern.matchSegments(segs) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	root := topicRoot(topic)
	b.published.Add(1)
	metrics.IncBrokerPublished(root)

	for _, s := range matched {
		if ctx.Err() != nil {
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
		// Each subscriber gets its own top-level payload map.
		m := msg
		m.Payload = maps.Clone(payload)
		b.deliver(ctx, s, m, root)
	}
	return nil
}

func (b *Broker) deliver(ctx context.Context, s *subscription, msg Message, root string) {
	if !s.enter() {
		return
	}
	defer s.leave()

	defer func() {
		if r := recover(); r != nil {
			b.dispatchErrors.Add(1)
			metrics.IncBrokerDispatchError(root, "panic")
			err := &DispatchError{SubscriptionID: s.id, Topic: msg.Topic, Cause: fmt.Errorf("panic: %v", r)}
			b.logger.Error().
				Err(err).
				Str(log.FieldEvent, "broker.handler_panic").
				Str(log.FieldTopic, msg.Topic).
				Str(log.FieldSubscriptionID, s.id).
				Msg("subscriber handler panicked")
		}
	}()

	b.delivered.Add(1)
	metrics.IncBrokerDelivered(root)
	if err := s.handler(ctx, msg); err != nil {
		b.dispatchErrors.Add(1)
		metrics.IncBrokerDispatchError(root, "error")
		derr := &DispatchError{SubscriptionID: s.id, Topic: msg.Topic, Cause: err}
		b.logger.Warn().
			Err(derr).
			Str(log.FieldEvent, "broker.handler_error").
			Str(log.FieldTopic, msg.Topic).
			Str(log.FieldSubscriptionID, s.id).
			Msg("subscriber handler failed")
	}
}

// Stats returns current counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscriptions:  n,
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		DispatchErrors: b.dispatchErrors.Load(),
	}
}

// Patterns lists active subscription patterns, mainly for diagnostics.
func (b *Broker) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.pattern.raw)
	}
	return out
}

// String implements fmt.Stringer for debug logging.
func (b *Broker) String() string {
	return "broker[" + strings.Join(b.Patterns(), ",") + "]"
}
