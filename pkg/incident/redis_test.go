package incident

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/storage/redis"
)

func newRedisStore(t *testing.T) (*redis.Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := redis.NewFromClient(client, redis.Config{})
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRecord_RedisOutagePropagates(t *testing.T) {
	store, mr := newRedisStore(t)
	rec := NewRecorder(store, Options{})

	require.NoError(t, rec.Record(context.Background(), []time.Time{past}))
	assert.Equal(t, "1", mustGet(t, mr, bucket.Keys{}.Volume(bucket.Of(past))))

	mr.Close()
	err := rec.Record(context.Background(), []time.Time{past, past.Add(time.Second)})
	require.ErrorIs(t, err, redis.ErrUnavailable)
}

func TestEvaluateTick_RedisOutagePropagates(t *testing.T) {
	store, mr := newRedisStore(t)
	flags := config.NewStaticFlags(map[string]bool{config.FlagTickVolumeAnomalyDetection: true})
	scorer := NewScorer(store, flags, Options{})
	mr.Close()

	res, err := scorer.EvaluateTick(context.Background(), tick)
	require.ErrorIs(t, err, redis.ErrUnavailable)
	assert.Nil(t, res)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
