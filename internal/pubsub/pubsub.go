// Package pubsub is a small in-process publish/subscribe broker. Listeners
// get a buffered channel and an unsubscribe handle instead of callbacks.
package pubsub

import (
	"context"
	"sync"
)

const defaultBuffer = 32

// Broker fans messages of type T out to subscribers of a topic.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription[T]]struct{}
	buffer      int
	shutdown    chan struct{}
	isShutdown  bool
}

// Subscription is one listener. Its channel is closed on Unsubscribe,
// on cancellation of the subscribe context, or on broker Shutdown.
type Subscription[T any] struct {
	topic     string
	ch        chan T
	b         *Broker[T]
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func New[T any]() *Broker[T] {
	return NewWithBuffer[T](defaultBuffer)
}

// NewWithBuffer sets the per-subscriber channel size. Publishing to a full
// subscriber drops the message for that subscriber.
func NewWithBuffer[T any](buffer int) *Broker[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker[T]{
		subscribers: make(map[string]map[*Subscription[T]]struct{}),
		buffer:      buffer,
		shutdown:    make(chan struct{}),
	}
}

// Subscribe registers a listener on topic. It returns nil after Shutdown.
func (b *Broker[T]) Subscribe(ctx context.Context, topic string) *Subscription[T] {
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		topic:  topic,
		ch:     make(chan T, b.buffer),
		b:      b,
		cancel: cancel,
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscription[T]]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-b.shutdown:
			cancel()
		}
	}()

	return sub
}

// Publish delivers msg to every current subscriber of topic without
// blocking. It returns the number of subscribers that received it.
func (b *Broker[T]) Publish(topic string, msg T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isShutdown {
		return 0
	}
	delivered := 0
	for sub := range b.subscribers[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

func (b *Broker[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Shutdown closes every subscription. It is idempotent.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		return
	}
	b.isShutdown = true
	close(b.shutdown)

	for topic, subs := range b.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(b.subscribers, topic)
	}
}

func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe removes the listener and closes its channel. Safe to call
// more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()

	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if subs := s.b.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.b.subscribers, s.topic)
		}
	}
	s.close()
}

// close must be called with the broker lock held for writing.
func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
