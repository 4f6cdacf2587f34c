package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/storage"
)

// Compile-time interface guard.
var _ storage.Store = (*Storage)(nil)

// Storage implements storage.Store on Redis or Redis Cluster.
type Storage struct {
	client        redis.UniversalClient
	pipelineGets  bool
	expireRetries uint64
	retryInterval time.Duration
	logger        *zap.Logger
}

// Config holds Redis connection settings
type Config struct {
	// Addrs is a single host:port for a standalone server, or several seed
	// nodes for a cluster.
	Addrs    []string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ExpireRetries is how many times a failed EXPIRE is retried after its
	// INCRBY succeeded. Zero uses config.StoreExpireRetries.
	ExpireRetries int

	Logger *zap.Logger
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout, config.StoreDialTimeout),
		ReadTimeout:  orDefault(cfg.ReadTimeout, config.StoreReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout, config.StoreWriteTimeout),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client. Connection fields of cfg are ignored.
func NewFromClient(client redis.UniversalClient, cfg Config) *Storage {
	retries := cfg.ExpireRetries
	if retries <= 0 {
		retries = config.StoreExpireRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	_, cluster := client.(*redis.ClusterClient)
	return &Storage{
		client:        client,
		pipelineGets:  cluster,
		expireRetries: uint64(retries),
		retryInterval: 50 * time.Millisecond,
		logger:        logger,
	}
}

// IncrementExpire pipelines INCRBY+EXPIRE for every increment in one round
// trip. INCRBY is never retried; an EXPIRE that fails after its INCRBY
// succeeded is retried with backoff so the counter can't outlive its TTL.
func (s *Storage) IncrementExpire(ctx context.Context, incs []storage.Increment, ttl time.Duration) ([]int64, error) {
	if len(incs) == 0 {
		return nil, nil
	}

	incrCmds := make([]*redis.IntCmd, len(incs))
	expireCmds := make([]*redis.BoolCmd, len(incs))

	pipe := s.client.Pipeline()
	for i, inc := range incs {
		incrCmds[i] = pipe.IncrBy(ctx, inc.Key, inc.Amount)
		expireCmds[i] = pipe.Expire(ctx, inc.Key, ttl)
	}
	// A connection failure surfaces only on Exec, leaving every command with
	// a nil error and a zero value.
	if err := pipelineFailure(pipe.Exec(ctx)); err != nil {
		return nil, fmt.Errorf("incrby pipeline: %w", err)
	}

	results := make([]int64, len(incs))
	for i, inc := range incs {
		n, err := incrCmds[i].Result()
		if err != nil {
			if strings.Contains(err.Error(), "not an integer") {
				return nil, fmt.Errorf("incrby %s: %w: %v", inc.Key, storage.ErrCorruptValue, err)
			}
			return nil, fmt.Errorf("incrby %s: %w", inc.Key, wrapError(err))
		}
		results[i] = n

		if err := expireCmds[i].Err(); err != nil {
			if err := s.retryExpire(ctx, inc.Key, ttl, err); err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}

func (s *Storage) retryExpire(ctx context.Context, key string, ttl time.Duration, cause error) error {
	s.logger.Warn("expire after increment failed, retrying",
		zap.String("key", key),
		zap.Error(cause),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.expireRetries), ctx)

	err := backoff.Retry(func() error {
		return s.client.Expire(ctx, key, ttl).Err()
	}, policy)
	if err != nil {
		s.logger.Error("counter left without TTL, next increment will reset it",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err),
		)
		return fmt.Errorf("expire %s: %w", key, wrapError(err))
	}
	return nil
}

// MGet fetches keys preserving input order. Cluster clients can't MGET keys
// spread over several slots, so they pipeline individual GETs instead.
func (s *Storage) MGet(ctx context.Context, keys []string) ([]storage.Value, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	if s.pipelineGets {
		return s.pipelinedGet(ctx, keys)
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", wrapError(err))
	}

	values := make([]storage.Value, len(raw))
	for i, r := range raw {
		switch v := r.(type) {
		case nil:
		case string:
			values[i] = storage.Found(v)
		default:
			values[i] = storage.Found(fmt.Sprint(v))
		}
	}
	return values, nil
}

func (s *Storage) pipelinedGet(ctx context.Context, keys []string) ([]storage.Value, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	pipe := s.client.Pipeline()
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if err := pipelineFailure(pipe.Exec(ctx)); err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}

	values := make([]storage.Value, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", keys[i], wrapError(err))
		}
		values[i] = storage.Found(v)
	}
	return values, nil
}

// Get fetches a single key
func (s *Storage) Get(ctx context.Context, key string) (storage.Value, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return storage.Value{}, nil
	}
	if err != nil {
		return storage.Value{}, fmt.Errorf("get %s: %w", key, wrapError(err))
	}
	return storage.Found(v), nil
}

// SetExpire uses SET with EX so value and TTL land in a single command.
func (s *Storage) SetExpire(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, wrapError(err))
	}
	return nil
}

// Ping checks that the server is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapError(err)
	}
	return nil
}

// Close closes the client connection pool
func (s *Storage) Close() error {
	return s.client.Close()
}

// ErrUnavailable wraps connection and timeout failures.
var ErrUnavailable = errors.New("redis unavailable")

func wrapError(err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// pipelineFailure returns the Exec error when it is not attributable to a
// single command. redis.Nil and server replies are left to per-command checks.
func pipelineFailure(_ []redis.Cmder, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return nil
	}
	return wrapError(err)
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
