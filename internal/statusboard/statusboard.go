// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package statusboard keeps the last message seen on each status topic so
// late readers (the ops API, dashboards) can see current state without
// replaying the broker.
package statusboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/rs/zerolog"
)

// SubscriberID identifies the board on the broker.
const SubscriberID = "statusboard"

// DefaultPatterns are the topics mirrored by default.
var DefaultPatterns = []string{
	broker.PatternDevices,
	broker.PatternDeviceStatus,
	"streams/#",
	broker.PatternPipelineStatus,
	"pipeline/*/error",
	broker.TopicScanComplete,
}

// Entry is the last message seen on one topic.
type Entry struct {
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	SenderID  string         `json:"sender_id"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Backend stores entries keyed by topic.
type Backend interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, topic string) (Entry, bool, error)
	// List returns all entries whose topic starts with prefix, ordered by topic.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Board mirrors broker traffic into a Backend.
type Board struct {
	backend  Backend
	patterns []string
	buffer   int
	logger   zerolog.Logger

	subscribed     chan struct{}
	subscribedOnce sync.Once
}

// Option configures a Board.
type Option func(*Board)

// WithPatterns replaces DefaultPatterns.
func WithPatterns(patterns ...string) Option {
	return func(b *Board) { b.patterns = patterns }
}

// WithBuffer sets the channel buffer of each subscription.
func WithBuffer(n int) Option {
	return func(b *Board) { b.buffer = n }
}

func New(backend Backend, opts ...Option) *Board {
	b := &Board{
		backend:  backend,
		patterns: DefaultPatterns,
		buffer:     512,
		logger:     log.WithComponent("statusboard"),
		subscribed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscriber is the slice of the broker the board needs.
type Subscriber interface {
	SubscribeChan(subscriberID, pattern string, buffer int) (*broker.ChanSubscription, error)
}

// Run subscribes to the configured patterns and records every message until
// ctx ends. Backend write failures are logged and do not stop the board.
func (b *Board) Run(ctx context.Context, bus Subscriber) error {
	merged := make(chan broker.Message, b.buffer)
	subs := make([]*broker.ChanSubscription, 0, len(b.patterns))
	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()
	for _, p := range b.patterns {
		s, err := bus.SubscribeChan(SubscriberID, p, b.buffer)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", p, err)
		}
		subs = append(subs, s)
	}

	b.subscribedOnce.Do(func() { close(b.subscribed) })

	// One reader per subscription keeps ordering per pattern.
	done := make(chan struct{})
	defer close(done)
	for _, s := range subs {
		go func(c <-chan broker.Message) {
			for {
				select {
				case <-done:
					return
				case m, ok := <-c:
					if !ok {
						return
					}
					select {
					case merged <- m:
					case <-done:
						return
					}
				}
			}
		}(s.C())
	}

	b.logger.Info().Strs("patterns", b.patterns).Str(log.FieldEvent, "statusboard.started").Msg("status board running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			b.Record(ctx, m)
		}
	}
}

// Subscribed is closed once Run has registered every subscription.
func (b *Board) Subscribed() <-chan struct{} { return b.subscribed }

// Record stores msg as the latest entry for its topic.
func (b *Board) Record(ctx context.Context, msg broker.Message) {
	e := Entry{Topic: msg.Topic, Payload: msg.Payload, SenderID: msg.SenderID, UpdatedAt: msg.Timestamp}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	if err := b.backend.Put(ctx, e); err != nil {
		b.logger.Warn().Err(err).Str(log.FieldTopic, msg.Topic).Msg("failed to record status")
	}
}

func (b *Board) Get(ctx context.Context, topic string) (Entry, bool, error) {
	return b.backend.Get(ctx, topic)
}

// List returns entries under prefix, e.g. "devices/" or "pipeline/".
func (b *Board) List(ctx context.Context, prefix string) ([]Entry, error) {
	return b.backend.List(ctx, prefix)
}

// Snapshot groups every entry by its top-level topic segment.
func (b *Board) Snapshot(ctx context.Context) (map[string][]Entry, error) {
	all, err := b.backend.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Entry)
	for _, e := range all {
		root, _, _ := strings.Cut(e.Topic, "/")
		out[root] = append(out[root], e)
	}
	return out, nil
}

func (b *Board) Close() error { return b.backend.Close() }

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Topic < es[j].Topic })
}
