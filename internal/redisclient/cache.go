package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const productDetailPrefix = "product:detail:"

// ProductDetailKey is the cache key of a product, product:detail:{id}
func ProductDetailKey(productID int64) string {
	return fmt.Sprintf("%s%d", productDetailPrefix, productID)
}

// GetJSON decodes the value at key into dest. ok is false on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (ok bool, err error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key as JSON for ttl
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}
