/*
Package storage provides the pluggable key-value abstraction behind the
check-in volume history.

# Store Interface

The core only needs a handful of operations, so backends implement a narrow
interface instead of exposing a full client:

	type Store interface {
	    IncrementExpire(ctx context.Context, incs []Increment, ttl time.Duration) ([]int64, error)
	    MGet(ctx context.Context, keys []string) ([]Value, error)
	    Get(ctx context.Context, key string) (Value, error)
	    SetExpire(ctx context.Context, key, value string, ttl time.Duration) error
	    Close() error
	}

Backends:
  - memory: sharded in-process map for tests and development
  - badger: BadgerDB (LSM tree) for a single embedded node
  - redis: Redis or Redis Cluster via go-redis, the production backend

# Expiration

Every write carries a TTL. Increment and expire are one logical unit: a
counter must never outlive its TTL because the expire step was lost. Redis
pipelines both commands and retries a failed EXPIRE; Badger and memory set
the TTL in the same write that stores the value.

Expired keys are indistinguishable from keys that were never written. Both
come back from MGet and Get with Present == false, never as zero.

# Values

Values are stored as decimal strings (the Redis wire format). Value.Int and
Value.Float parse them and wrap ErrCorruptValue on malformed data so callers
can tell corruption apart from connectivity failures:

	v, err := store.Get(ctx, key)
	if err != nil {
	    return err // store unavailable
	}
	if !v.Present {
	    return nil // never computed, or expired
	}
	f, err := v.Float()
	if errors.Is(err, storage.ErrCorruptValue) {
	    // data corruption
	}
*/
package storage
