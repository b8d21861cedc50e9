package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncDeliveryPreservesOrder(t *testing.T) {
	s := NewSubject(WithSyncDelivery(), WithBufferSize(16))
	defer Complete(s)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	Subscribe[int](s, ClientTopic("a"), func(_ context.Context, v int) error {
		mu.Lock()
		got = append(got, v)
		n := len(got)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
		return nil
	})

	for i := 1; i <= 5; i++ {
		require.NoError(t, Emit(s, ClientTopic("a"), i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestTopicsAreIsolated(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	gotB := make(chan string, 4)
	Subscribe[string](s, ClientTopic("b"), func(_ context.Context, v string) error {
		gotB <- v
		return nil
	})

	require.NoError(t, Emit(s, ClientTopic("a"), "for-a"))
	require.NoError(t, Emit(s, ClientTopic("b"), "for-b"))

	select {
	case v := <-gotB:
		assert.Equal(t, "for-b", v)
	case <-time.After(2 * time.Second):
		t.Fatal("event for b not delivered")
	}
	assert.Eventually(t, func() bool { return s.Delivered() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, gotB, 0)
}

func TestUnsubscribe(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	topic := ClientTopic("c")
	calls := make(chan any, 4)
	sub := Subscribe[any](s, topic, func(_ context.Context, v any) error {
		calls <- v
		return errors.New("ignored")
	})
	assert.True(t, s.HasSubscribers(topic))

	sub.Unsubscribe()
	assert.False(t, s.HasSubscribers(topic))

	require.NoError(t, Emit[any](s, topic, 1))
	assert.Eventually(t, func() bool { return s.Delivered() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, calls, 0)
}

func TestEmitAfterComplete(t *testing.T) {
	s := NewSubject()
	Complete(s)
	Complete(s)

	assert.ErrorIs(t, Emit(s, "x", 1), ErrClosed)
}

func TestTryEmitNeverWaits(t *testing.T) {
	s := NewSubject(WithSyncDelivery(), WithBufferSize(1))
	defer Complete(s)

	started := make(chan struct{})
	release := make(chan struct{})
	Subscribe[int](s, "slow", func(_ context.Context, v int) error {
		if v == 1 {
			close(started)
			<-release
		}
		return nil
	})

	require.NoError(t, TryEmit(s, "slow", 1))
	<-started

	require.NoError(t, TryEmit(s, "slow", 2))

	begin := time.Now()
	err := TryEmit(s, "slow", 3)
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(release)
	assert.Eventually(t, func() bool { return s.Delivered() == 2 }, time.Second, 5*time.Millisecond)
}
