// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"errors"
	"sync"
)

// Subscription is a live query. Each value received from Updates is a full
// snapshot of the query result. A consumer that falls behind only sees the
// latest snapshot. The owner must call Close when done with it.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Watch runs listen in the background until it returns or the subscription
// is closed. listen calls publish for every snapshot.
func Watch[T any](ctx context.Context, listen func(ctx context.Context, publish func(T)) error) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.updates)
		err := listen(ctx, s.publish)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

// publish is only called from the listen goroutine, so after draining a
// stale snapshot the buffered send cannot block.
func (s *Subscription[T]) publish(v T) {
	select {
	case s.updates <- v:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- v
	}
}

// Updates returns the channel of snapshots. It is closed when the
// subscription ends, after which Err reports why.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Err returns the error that ended the subscription, or nil if it is still
// running or was closed by its owner.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription and waits for its listener to exit.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}
