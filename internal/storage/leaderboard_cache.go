package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/presence-engine/internal/types"
)

// LeaderboardCache stores the rendered leaderboard view per house so the read
// path does not recompute the ranking on every request. The cache is refreshed
// by leaderboard sync after every points change.
type LeaderboardCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(cache *RedisCache, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

func (c *LeaderboardCache) key(house types.House) string {
	return fmt.Sprintf("leaderboard:%s", house)
}

// Get retrieves the cached leaderboard for a house; the second return is false
// on a miss.
func (c *LeaderboardCache) Get(ctx context.Context, house types.House) (*types.Leaderboard, bool, error) {
	data, err := c.cache.Client().Get(ctx, c.key(house)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached leaderboard: %w", err)
	}

	var board types.Leaderboard
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached leaderboard: %w", err)
	}

	return &board, true, nil
}

// Set stores the rendered leaderboard for a house
func (c *LeaderboardCache) Set(ctx context.Context, board *types.Leaderboard) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	if err := c.cache.Client().Set(ctx, c.key(board.House), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache leaderboard: %w", err)
	}

	return nil
}

// Invalidate drops the cached leaderboard for a house
func (c *LeaderboardCache) Invalidate(ctx context.Context, house types.House) error {
	if err := c.cache.Client().Del(ctx, c.key(house)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate leaderboard cache: %w", err)
	}
	return nil
}
