// Package kvstore wraps the shared Redis-compatible key/value store that
// backs every durable structure in the worker: streams, lists, sorted
// sets, strings, and the Lua scripts used for atomic compare-and-delete.
// Higher-level packages (queue, convo, lock, ratelimit, registry) build
// on Store; for commands Store does not wrap, queue and convo call
// Client() and use go-redis types directly.
package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store wraps a *redis.Client with health checking and lifecycle management.
type Store struct {
	rdb    *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Config configures the underlying Redis connection.
type Config struct {
	URL                 string        `json:"url"`
	MaxRetries          int           `json:"max_retries"`
	PoolSize            int           `json:"pool_size"`
	MinIdleConns        int           `json:"min_idle_conns"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

// DefaultConfig returns sane defaults for production use.
func DefaultConfig() Config {
	return Config{
		URL:                 "redis://localhost:6379/0",
		MaxRetries:          3,
		PoolSize:            20,
		MinIdleConns:        4,
		HealthCheckInterval: 30 * time.Second,
	}
}

// New creates a Store, parsing cfg.URL as a standard redis:// connection
// string and verifying connectivity with a short-timeout PING.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &Store{
		rdb:    client,
		config: cfg,
		logger: logger.With(zap.String("component", "kvstore")),
	}

	if cfg.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	logger.Info("kvstore connected", zap.Int("pool_size", cfg.PoolSize))
	return s, nil
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// that point at a miniredis instance.
func NewFromClient(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: client, logger: logger.With(zap.String("component", "kvstore"))}
}

// Client returns the underlying go-redis client for packages that need
// direct access to commands Store does not wrap (e.g. XADD options).
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("kvstore is closed")
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing kvstore")
	return s.rdb.Close()
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("kvstore health check failed", zap.Error(err))
		}
		cancel()
	}
}

// --- String helpers used by onboarding state, rate limiting, caches ---

// Get returns the string value for key, or redis.Nil if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, key).Result()
}

// Set sets key to value with the given TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX sets key to value only if it does not already exist, returning
// whether the set happened. Used by the distributed lock.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Incr increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// Del deletes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// IsNil reports whether err is the go-redis "no such key" sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}

// EvalSha-style atomic scripts live in scripts.go.
