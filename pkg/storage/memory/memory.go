package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/sysincident/pkg/storage"
)

const shardCount = 32

// Compile-time interface guard.
var _ storage.Store = (*Storage)(nil)

// Storage keeps keys in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	shards [shardCount]shard
	now    func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	data      string
	expiresAt time.Time // zero means no expiry
}

// Option configures a Storage.
type Option func(*Storage)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// New creates an in-memory storage backend
func New(opts ...Option) *Storage {
	s := &Storage{now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// lookup returns the live entry for key, evicting it if expired.
// Caller must hold sh.mu.
func (sh *shard) lookup(key string, now time.Time) (entry, bool) {
	e, ok := sh.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(sh.entries, key)
		return entry{}, false
	}
	return e, true
}

// IncrementExpire adds each amount to its counter and resets the TTL
func (s *Storage) IncrementExpire(ctx context.Context, incs []storage.Increment, ttl time.Duration) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	results := make([]int64, len(incs))
	for i, inc := range incs {
		sh := s.shardFor(inc.Key)
		sh.mu.Lock()

		var current int64
		if e, ok := sh.lookup(inc.Key, now); ok {
			n, err := storage.Found(e.data).Int()
			if err != nil {
				sh.mu.Unlock()
				return nil, err
			}
			current = n
		}

		current += inc.Amount
		sh.entries[inc.Key] = entry{
			data:      strconv.FormatInt(current, 10),
			expiresAt: expiry(now, ttl),
		}
		sh.mu.Unlock()

		results[i] = current
	}

	return results, nil
}

// MGet fetches keys preserving input order
func (s *Storage) MGet(ctx context.Context, keys []string) ([]storage.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	values := make([]storage.Value, len(keys))
	for i, key := range keys {
		values[i] = s.get(key, now)
	}
	return values, nil
}

// Get fetches a single key
func (s *Storage) Get(ctx context.Context, key string) (storage.Value, error) {
	if err := ctx.Err(); err != nil {
		return storage.Value{}, err
	}
	return s.get(key, s.now()), nil
}

func (s *Storage) get(key string, now time.Time) storage.Value {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lookup(key, now)
	if !ok {
		return storage.Value{}
	}
	return storage.Found(e.data)
}

// SetExpire stores value under key with a TTL
func (s *Storage) SetExpire(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entries[key] = entry{data: value, expiresAt: expiry(s.now(), ttl)}
	return nil
}

// TTL returns the remaining lifetime of key, or false if it is absent or
// has no expiry.
func (s *Storage) TTL(key string) (time.Duration, bool) {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lookup(key, now)
	if !ok || e.expiresAt.IsZero() {
		return 0, false
	}
	return e.expiresAt.Sub(now), true
}

// Len returns the number of live keys
func (s *Storage) Len() int {
	now := s.now()
	var n int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key := range sh.entries {
			if _, ok := sh.lookup(key, now); ok {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
