// Package cache keeps compiled trees and submission locks in Redis so
// several engine instances can share them. Every call goes through a circuit
// breaker; when Redis is unhealthy the cache degrades to a miss and the
// guard to a local-only check.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/terra-clan/treetest-engine/internal/models"
)

const (
	treeKeyPrefix  = "treetest:tree:"
	guardKeyPrefix = "treetest:submit:"
)

// Options configures the Redis connection
type Options struct {
	Address  string
	Password string
	DB       int
	// DialTimeout bounds connection attempts; zero uses the client default
	DialTimeout time.Duration
}

// NewClient creates a Redis client and verifies connectivity
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := newClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func newClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  -1,
	})
}

// newBreaker trips after five consecutive failures and probes again after ten seconds
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// a missing key is an answer, not a failure
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
}

// RedisTreeCache caches compiled trees by study id
type RedisTreeCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewRedisTreeCache creates a tree cache; ttl <= 0 keeps entries until invalidated
func NewRedisTreeCache(client *redis.Client, ttl time.Duration) *RedisTreeCache {
	return &RedisTreeCache{
		client:  client,
		breaker: newBreaker("tree-cache"),
		ttl:     ttl,
	}
}

// Get returns the cached tree. Any failure is reported as a miss.
func (c *RedisTreeCache) Get(ctx context.Context, studyID string) (*models.CompiledTree, bool) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, treeKeyPrefix+studyID).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("tree cache read failed", "study_id", studyID, "error", err)
		}
		return nil, false
	}

	var tree models.CompiledTree
	if err := json.Unmarshal(raw.([]byte), &tree); err != nil {
		slog.Warn("discarding undecodable cached tree", "study_id", studyID, "error", err)
		c.Invalidate(ctx, studyID)
		return nil, false
	}
	return &tree, true
}

// Set stores a tree; failures are logged and otherwise ignored
func (c *RedisTreeCache) Set(ctx context.Context, tree *models.CompiledTree) {
	data, err := json.Marshal(tree)
	if err != nil {
		slog.Warn("failed to encode tree for cache", "study_id", tree.StudyID, "error", err)
		return
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, treeKeyPrefix+tree.StudyID, data, c.ttl).Err()
	})
	if err != nil {
		slog.Warn("tree cache write failed", "study_id", tree.StudyID, "error", err)
	}
}

// Invalidate drops the cached tree of a study
func (c *RedisTreeCache) Invalidate(ctx context.Context, studyID string) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, treeKeyPrefix+studyID).Err()
	})
	if err != nil {
		slog.Warn("tree cache invalidation failed", "study_id", studyID, "error", err)
	}
}

// Flush removes every cached tree
func (c *RedisTreeCache) Flush(ctx context.Context) (int, error) {
	var cursor uint64
	var deleted int

	for {
		keys, next, err := c.client.Scan(ctx, cursor, treeKeyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("failed to delete some keys", "error", err)
			} else {
				deleted += len(keys)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// State reports the breaker state, for health output
func (c *RedisTreeCache) State() gobreaker.State {
	return c.breaker.State()
}

// RedisSubmissionGuard is a cross-instance lock taken before an outcome is
// written, so two engine instances cannot both accept a terminal action for
// the same attempt
type RedisSubmissionGuard struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewRedisSubmissionGuard creates a guard whose locks expire after ttl
func NewRedisSubmissionGuard(client *redis.Client, ttl time.Duration) *RedisSubmissionGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubmissionGuard{
		client:  client,
		breaker: newBreaker("submission-guard"),
		ttl:     ttl,
	}
}

// Acquire takes the lock for key. It returns false if another holder has it.
// When Redis is unavailable the lock is granted and only the in-process
// state machine guards the attempt.
func (g *RedisSubmissionGuard) Acquire(ctx context.Context, key string) bool {
	ok, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.SetNX(ctx, guardKeyPrefix+key, "1", g.ttl).Result()
	})
	if err != nil {
		slog.Warn("submission guard unavailable, falling back to local guard", "key", key, "error", err)
		return true
	}
	return ok.(bool)
}

// Release drops the lock for key, after a failed write
func (g *RedisSubmissionGuard) Release(ctx context.Context, key string) {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.client.Del(ctx, guardKeyPrefix+key).Err()
	})
	if err != nil {
		slog.Warn("failed to release submission guard", "key", key, "error", err)
	}
}
