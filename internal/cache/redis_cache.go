package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"poscore/backend/internal/domain"
)

const catalogKeyPrefix = "poscore:catalog:item:"

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCatalogCache(client *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Get(ctx context.Context, itemID string) (*domain.Item, bool, error) {
	val, err := c.client.Get(ctx, catalogKeyPrefix+itemID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, item domain.Item, ttl time.Duration) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKeyPrefix+item.ID, payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, itemID string) error {
	return c.client.Del(ctx, catalogKeyPrefix+itemID).Err()
}
