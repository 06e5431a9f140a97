package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, sub *Subscription[T]) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		return v, ok
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	var zero T
	return zero, false
}

func TestPublishSubscribe(t *testing.T) {
	b := New[string]()
	defer b.Shutdown()

	sub := b.Subscribe(context.Background(), "auth")
	require.NotNil(t, sub)

	assert.Equal(t, 1, b.Publish("auth", "signed_in"))
	assert.Equal(t, 0, b.Publish("other", "ignored"))

	v, ok := recv(t, sub)
	require.True(t, ok)
	assert.Equal(t, "signed_in", v)
}

func TestMultipleSubscribers(t *testing.T) {
	b := New[int]()
	defer b.Shutdown()

	subs := make([]*Subscription[int], 5)
	for i := range subs {
		subs[i] = b.Subscribe(context.Background(), "t")
	}
	assert.Equal(t, 5, b.SubscriberCount("t"))
	assert.Equal(t, 5, b.Publish("t", 42))

	for _, s := range subs {
		v, ok := recv(t, s)
		require.True(t, ok)
		assert.Equal(t, 42, v)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New[string]()
	defer b.Shutdown()

	sub := b.Subscribe(context.Background(), "t")
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := recv(t, sub)
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("t"))
	assert.Equal(t, 0, b.Publish("t", "x"))
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := New[string]()
	defer b.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, "t")
	cancel()

	_, ok := recv(t, sub)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return b.SubscriberCount("t") == 0 }, time.Second, 5*time.Millisecond)
}

func TestFullSubscriberDropsMessages(t *testing.T) {
	b := NewWithBuffer[int](1)
	defer b.Shutdown()

	sub := b.Subscribe(context.Background(), "t")
	assert.Equal(t, 1, b.Publish("t", 1))
	assert.Equal(t, 0, b.Publish("t", 2))

	v, _ := recv(t, sub)
	assert.Equal(t, 1, v)
}

func TestShutdown(t *testing.T) {
	b := New[string]()
	sub := b.Subscribe(context.Background(), "t")

	b.Shutdown()
	b.Shutdown()

	_, ok := recv(t, sub)
	assert.False(t, ok)
	assert.Nil(t, b.Subscribe(context.Background(), "t"))
	assert.Equal(t, 0, b.Publish("t", "x"))

	// unsubscribe after shutdown is harmless
	sub.Unsubscribe()
}

func TestConcurrentPublishUnsubscribe(t *testing.T) {
	b := New[int]()
	defer b.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		sub := b.Subscribe(context.Background(), "t")
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish("t", j)
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()
}
