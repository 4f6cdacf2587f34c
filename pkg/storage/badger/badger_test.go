package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/sysincident/pkg/storage"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_IncrementExpire(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.IncrementExpire(ctx, []storage.Increment{
		{Key: "volume_history:60", Amount: 2},
		{Key: "volume_history:120", Amount: 1},
	}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, got)

	got, err = store.IncrementExpire(ctx, []storage.Increment{{Key: "volume_history:60", Amount: 3}}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, got)

	v, err := store.Get(ctx, "volume_history:60")
	require.NoError(t, err)
	assert.Equal(t, storage.Found("5"), v)
}

func TestBadgerStorage_TTLIsSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before := time.Now()
	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "k", Amount: 1}}, 30*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SetExpire(ctx, "m", "-60", time.Hour))

	expiresAt, ok := store.ExpiresAt("k")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(30*24*time.Hour), expiresAt, 2*time.Second)

	expiresAt, ok = store.ExpiresAt("m")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Hour), expiresAt, 2*time.Second)

	_, ok = store.ExpiresAt("missing")
	assert.False(t, ok)
}

func TestBadgerStorage_MGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetExpire(ctx, "a", "1", time.Hour))
	require.NoError(t, store.SetExpire(ctx, "c", "3", time.Hour))

	values, err := store.MGet(ctx, []string{"c", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []storage.Value{storage.Found("3"), {}, storage.Found("1")}, values)
}

func TestBadgerStorage_Expired(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a one second TTL")
	}
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetExpire(ctx, "short", "1", time.Second))

	require.Eventually(t, func() bool {
		v, err := store.Get(ctx, "short")
		return err == nil && !v.Present
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBadgerStorage_CorruptCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetExpire(ctx, "bad", "not-a-number", time.Hour))
	_, err := store.IncrementExpire(ctx, []storage.Increment{{Key: "bad", Amount: 1}}, time.Hour)
	require.ErrorIs(t, err, storage.ErrCorruptValue)
}

func TestBadgerStorage_ConcurrentIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

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

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)
		_, err = store.IncrementExpire(ctx, []storage.Increment{{Key: "persisted", Amount: 4}}, time.Hour)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	v, err := store.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, storage.Found("4"), v)
}

func TestDo_CancelWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	errc := make(chan error, 1)
	var got storage.Value
	go func() {
		var err error
		got, err = do(ctx, "get", func() (storage.Value, error) {
			defer close(finished)
			close(started)
			<-release
			return storage.Found("late"), nil
		})
		errc <- err
	}()

	<-started
	cancel()
	err := <-errc
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-finished
	assert.Equal(t, storage.Value{}, got, "a result produced after cancellation must not reach the caller")
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.MGet(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
}
