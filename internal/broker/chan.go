// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/metrics"
)

const dropLogEvery = 100

// ChanSubscription delivers matching messages into a buffered channel.
// The broker-side handler never blocks: when the buffer is full the message is
// dropped and counted.
type ChanSubscription struct {
	b       *Broker
	id      string
	ch      chan Message
	once    sync.Once
	dropped atomic.Uint64
}

// SubscribeChan registers a channel-backed subscription with the given buffer size.
func (b *Broker) SubscribeChan(subscriberID, pat string, buffer int) (*ChanSubscription, error) {
	if buffer <= 0 {
		buffer = 64
	}
	cs := &ChanSubscription{b: b, ch: make(chan Message, buffer)}
	id, err := b.Subscribe(subscriberID, pat, func(_ context.Context, msg Message) error {
		select {
		case cs.ch <- msg:
		default:
			root := topicRoot(msg.Topic)
			metrics.IncBrokerDropped(root)
			if n := cs.dropped.Add(1); n%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldTopic, msg.Topic).
					Str("subscriber", subscriberID).
					Uint64("dropped", n).
					Msg("channel subscription buffer full, dropping message")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cs.id = id
	return cs, nil
}

// ID returns the broker subscription id.
func (s *ChanSubscription) ID() string { return s.id }

// C returns a read-only message channel. It is closed by Close.
func (s *ChanSubscription) C() <-chan Message { return s.ch }

// Dropped returns the number of messages dropped because the buffer was full.
func (s *ChanSubscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *ChanSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.b.Unsubscribe(s.id)
		// Unsubscribe waited for in-flight sends, so closing cannot race a send.
		close(s.ch)
	})
	return err
}
