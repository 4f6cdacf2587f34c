package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/storage"
)

// maxConflictRetries bounds how often an increment transaction is replayed
// after losing an optimistic concurrency race.
const maxConflictRetries = 100

// Compile-time interface guard.
var _ storage.Store = (*Storage)(nil)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults).
	// Counters are tiny, so 32-64 MB is plenty for a month of minutes.
	MaxMemoryMB int64

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *zap.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(zapLogger{cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	// BadgerDB defaults to a 64 MB memtable and several hundred MB of caches.
	// One month of minute counters is ~86k small keys, so keep it small.
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

type result[T any] struct {
	val T
	err error
}

// do executes fn in the background and stops waiting once ctx is done.
// Badger transactions can't be interrupted, so fn may still finish after
// do has returned. fn owns everything it writes; only its return value
// crosses back to the caller.
func do[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// IncrementExpire adds each amount to its counter inside one transaction and
// rewrites the entry with a fresh TTL. Conflicting concurrent writers cause
// the whole transaction to be replayed.
func (s *Storage) IncrementExpire(ctx context.Context, incs []storage.Increment, ttl time.Duration) ([]int64, error) {
	return do(ctx, "increment", func() ([]int64, error) {
		results := make([]int64, len(incs))
		var err error
		for attempt := 0; attempt < maxConflictRetries; attempt++ {
			err = s.db.Update(func(txn *badger.Txn) error {
				for i, inc := range incs {
					current, err := readCounter(txn, inc.Key)
					if err != nil {
						return err
					}
					current += inc.Amount

					e := badger.NewEntry([]byte(inc.Key), []byte(strconv.FormatInt(current, 10)))
					if ttl > 0 {
						e = e.WithTTL(ttl)
					}
					if err := txn.SetEntry(e); err != nil {
						return fmt.Errorf("failed to write counter %s: %w", inc.Key, err)
					}
					results[i] = current
				}
				return nil
			})
			if !errors.Is(err, badger.ErrConflict) {
				break
			}
		}
		if err != nil {
			return nil, err
		}
		return results, nil
	})
}

func readCounter(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}

	var n int64
	err = item.Value(func(val []byte) error {
		var err error
		n, err = storage.Found(string(val)).Int()
		return err
	})
	return n, err
}

// MGet fetches all keys from a single read transaction
func (s *Storage) MGet(ctx context.Context, keys []string) ([]storage.Value, error) {
	return do(ctx, "mget", func() ([]storage.Value, error) {
		values := make([]storage.Value, len(keys))
		err := s.db.View(func(txn *badger.Txn) error {
			for i, key := range keys {
				v, err := readValue(txn, key)
				if err != nil {
					return err
				}
				values[i] = v
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return values, nil
	})
}

// Get fetches a single key
func (s *Storage) Get(ctx context.Context, key string) (storage.Value, error) {
	return do(ctx, "get", func() (storage.Value, error) {
		var v storage.Value
		err := s.db.View(func(txn *badger.Txn) error {
			var err error
			v, err = readValue(txn, key)
			return err
		})
		return v, err
	})
}

func readValue(txn *badger.Txn, key string) (storage.Value, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Badger hides expired entries behind ErrKeyNotFound as well.
		return storage.Value{}, nil
	}
	if err != nil {
		return storage.Value{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return storage.Value{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return storage.Found(string(val)), nil
}

// SetExpire writes value with a TTL in one entry
func (s *Storage) SetExpire(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := do(ctx, "set", func() (struct{}, error) {
		return struct{}{}, s.db.Update(func(txn *badger.Txn) error {
			e := badger.NewEntry([]byte(key), []byte(value))
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			return txn.SetEntry(e)
		})
	})
	return err
}

// ExpiresAt returns the unix time at which key expires, or false if the key
// is absent or has no TTL.
func (s *Storage) ExpiresAt(key string) (time.Time, bool) {
	var expiresAt uint64
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		expiresAt = item.ExpiresAt()
		return nil
	})
	if expiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(expiresAt), 0), true
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// This reclaims disk space from expired and overwritten counters.
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// zapLogger adapts a zap SugaredLogger to badger.Logger.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Errorf(format string, args ...interface{})   { z.l.Errorf(format, args...) }
func (z zapLogger) Warningf(format string, args ...interface{}) { z.l.Warnf(format, args...) }
func (z zapLogger) Infof(format string, args ...interface{})    { z.l.Infof(format, args...) }
func (z zapLogger) Debugf(format string, args ...interface{})   { z.l.Debugf(format, args...) }
