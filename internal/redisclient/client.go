package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/increment_score.lua
var incrementScoreScript string

//go:embed scripts/increment_scores.lua
var incrementScoresScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	incrScript    *redis.Script
	batchScript   *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing go-redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		incrScript:    redis.NewScript(incrementScoreScript),
		batchScript:   redis.NewScript(incrementScoresScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IncrementScore atomically adds delta to member in the sorted set and
// refreshes the key's TTL. Returns the new score.
func (c *Client) IncrementScore(ctx context.Context, key, member string, delta float64, ttl time.Duration) (float64, error) {
	result, err := c.incrScript.Run(ctx, c.rdb, []string{key},
		strconv.FormatFloat(delta, 'f', -1, 64), member, int64(ttl/time.Second)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment score script failed: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", result)
	}
	return strconv.ParseFloat(raw, 64)
}

// IncrementScores adds every member's delta to the sorted set in one
// script call, so either all deltas land or none do.
func (c *Client) IncrementScores(ctx context.Context, key string, deltas map[string]float64, ttl time.Duration) error {
	if len(deltas) == 0 {
		return nil
	}

	members := make([]string, 0, len(deltas))
	for m := range deltas {
		members = append(members, m)
	}
	sort.Strings(members)

	args := make([]interface{}, 0, 1+2*len(members))
	args = append(args, int64(ttl/time.Second))
	for _, m := range members {
		args = append(args, m, strconv.FormatFloat(deltas[m], 'f', -1, 64))
	}

	if err := c.batchScript.Run(ctx, c.rdb, []string{key}, args...).Err(); err != nil {
		return fmt.Errorf("increment scores script failed: %w", err)
	}
	return nil
}

// TopScores returns members from start to stop (inclusive, 0-based) by
// descending score.
func (c *Client) TopScores(ctx context.Context, key string, start, stop int64) ([]redis.Z, error) {
	return c.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
}

// RevRank returns the 0-based descending rank of member. ok is false when
// the member is absent.
func (c *Client) RevRank(ctx context.Context, key, member string) (rank int64, ok bool, err error) {
	rank, err = c.rdb.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

// Count returns the cardinality of the sorted set
func (c *Client) Count(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// ClaimIdempotencyKey marks key as in flight for ttl. false means another
// request already holds it.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey drops an in-flight marker
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock and returns the owner token
// needed to release it. An empty token means the lock is held elsewhere.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", err
	}
	return token, nil
}

// ReleaseLock releases a lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
