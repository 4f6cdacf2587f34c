package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrCorruptValue is returned when a stored value cannot be parsed as a number.
var ErrCorruptValue = errors.New("corrupt stored value")

// Store is the key-value capability the volume history core depends on.
// Implementations: memory (testing), badger (embedded), redis (production)
type Store interface {
	// IncrementExpire atomically adds each increment's amount to its key and
	// resets the key's TTL. Returns the new values in input order.
	IncrementExpire(ctx context.Context, incs []Increment, ttl time.Duration) ([]int64, error)

	// MGet fetches keys in one round trip, preserving input order.
	// Missing or expired keys are returned as absent values.
	MGet(ctx context.Context, keys []string) ([]Value, error)

	// Get fetches a single key.
	Get(ctx context.Context, key string) (Value, error)

	// SetExpire writes value under key with the given TTL.
	SetExpire(ctx context.Context, key, value string, ttl time.Duration) error

	// Close cleanly shuts down the store
	Close() error
}

// Increment is one counter update.
type Increment struct {
	Key    string
	Amount int64
}

// Value is a raw stored value. Present is false for missing keys, which is
// distinct from a stored zero.
type Value struct {
	Data    string
	Present bool
}

// Found returns a present value holding data.
func Found(data string) Value {
	return Value{Data: data, Present: true}
}

// Int parses the value as a base-10 integer.
func (v Value) Int() (int64, error) {
	n, err := strconv.ParseInt(v.Data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrCorruptValue, v.Data)
	}
	return n, nil
}

// Float parses the value as a 64-bit float.
func (v Value) Float() (float64, error) {
	f, err := strconv.ParseFloat(v.Data, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a float", ErrCorruptValue, v.Data)
	}
	return f, nil
}
