package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/sysincident/pkg/storage"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStorage_IncrementExpire(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	got, err := store.IncrementExpire(ctx, []storage.Increment{
		{Key: "a", Amount: 2},
		{Key: "b", Amount: 1},
	}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, got)

	got, err = store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 5}}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.Found("7"), v)
}

func TestMemoryStorage_TTLRefreshedOnIncrement(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 1}}, time.Hour)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	_, err = store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 1}}, time.Hour)
	require.NoError(t, err)

	ttl, ok := store.TTL("a")
	require.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	clock.Advance(45 * time.Minute)
	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.Found("2"), v)
}

func TestMemoryStorage_ExpiredIsAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 3}}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SetExpire(ctx, "m", "1.5", time.Hour))

	clock.Advance(time.Hour)

	values, err := store.MGet(ctx, []string{"a", "m"})
	require.NoError(t, err)
	assert.Equal(t, []storage.Value{{}, {}}, values)
	assert.Equal(t, 0, store.Len())

	// A counter that expired starts again from zero.
	got, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 1}}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)
}

func TestMemoryStorage_MGetPreservesOrder(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.SetExpire(ctx, "one", "1", time.Hour))
	require.NoError(t, store.SetExpire(ctx, "three", "3", time.Hour))

	values, err := store.MGet(ctx, []string{"three", "missing", "one", "three"})
	require.NoError(t, err)
	assert.Equal(t, []storage.Value{
		storage.Found("3"),
		{},
		storage.Found("1"),
		storage.Found("3"),
	}, values)
}

func TestMemoryStorage_CorruptCounter(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.SetExpire(ctx, "a", "garbage", time.Hour))
	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 1}}, time.Hour)
	require.ErrorIs(t, err, storage.ErrCorruptValue)
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "a", Amount: 1}}, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.MGet(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.SetExpire(ctx, "a", "1", time.Hour), context.Canceled)
}

func TestMemoryStorage_ConcurrentIncrements(t *testing.T) {
	store := New()
	ctx := context.Background()

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "hot", Amount: 1}}, time.Hour)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := store.Get(ctx, "hot")
	require.NoError(t, err)
	n, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), n)
}
