package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.Error(t, err)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("marketd:lock:archive"))

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("marketd:lock:archive"))

	unlock2, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockReleaseKeepsForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "migrate", time.Second)
	require.NoError(t, err)

	// The lock expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("marketd:lock:migrate", "other-holder"))

	unlock()
	got, err := mr.Get("marketd:lock:migrate")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestWithLock(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	ran := false
	held, err := WithLock(ctx, lm, "job", time.Minute, func(ctx context.Context) error {
		nestedHeld, err := WithLock(ctx, lm, "job", time.Minute, func(context.Context) error {
			t.Fatal("must not run while the lock is held")
			return nil
		})
		assert.False(t, nestedHeld)
		assert.NoError(t, err)
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, ran)

	boom := errors.New("boom")
	held, err = WithLock(ctx, lm, "job", time.Minute, func(context.Context) error { return boom })
	assert.True(t, held)
	assert.ErrorIs(t, err, boom)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the old requests")
}

func TestRateLimiterZeroLimitAllows(t *testing.T) {
	c, _ := newTestClient(t)
	ok, err := NewRateLimiter(c).Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.EventsStream, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.EventsStream, []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.EventsStream, []byte(`{"n":2}`)))

	msgs, err = bus.StreamRead(ctx, domain.EventsStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, domain.EventsStream, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
}

func TestEventBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.EventsChannel)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.EventsChannel, []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// drain a possible in-flight message, then expect close
			_, ok = <-ch
		}
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}
