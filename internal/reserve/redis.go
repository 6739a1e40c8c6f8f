package reserve

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPool reserve pool stored as a redis set. SPOP removes a random member
// atomically, so several engine processes can share one pool.
type RedisPool struct {
	client redis.UniversalClient
	key    string
}

// NewRedisPool pool over the set at key
func NewRedisPool(client redis.UniversalClient, key string) *RedisPool {
	return &RedisPool{client: client, key: key}
}

// Take pops one random member
func (p *RedisPool) Take(ctx context.Context) (string, error) {
	item, err := p.client.SPop(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis SPOP %s: %w", p.key, err)
	}
	return item, nil
}

// Add inserts items, returning how many were new
func (p *RedisPool) Add(ctx context.Context, items ...string) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	members := make([]interface{}, len(items))
	for i, item := range items {
		members[i] = item
	}
	n, err := p.client.SAdd(ctx, p.key, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis SADD %s: %w", p.key, err)
	}
	return int(n), nil
}

// Len number of members left
func (p *RedisPool) Len(ctx context.Context) (int, error) {
	n, err := p.client.SCard(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis SCARD %s: %w", p.key, err)
	}
	return int(n), nil
}
