package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-engine/internal/types"
)

func testLeaderboardCache(t *testing.T) *LeaderboardCache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLeaderboardCache(NewRedisCacheFromClient(client), time.Minute)
}

func TestLeaderboardCacheRoundTrip(t *testing.T) {
	c := testLeaderboardCache(t)
	ctx := testContext(t)

	board := &types.Leaderboard{
		House: "gryffin",
		Rows: []types.LeaderboardRow{
			{Rank: 1, UserID: "u1", DisplayName: "Alice", TotalPoints: 120},
			{Rank: 2, UserID: "u2", DisplayName: "Bob", TotalPoints: 80},
		},
		ComputedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, c.Set(ctx, board))

	got, found, err := c.Get(ctx, "gryffin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, board.House, got.House)
	assert.Equal(t, board.Rows, got.Rows)
}

func TestLeaderboardCacheMiss(t *testing.T) {
	c := testLeaderboardCache(t)

	_, found, err := c.Get(testContext(t), "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLeaderboardCacheInvalidate(t *testing.T) {
	c := testLeaderboardCache(t)
	ctx := testContext(t)

	board := &types.Leaderboard{House: "raven", Rows: nil, ComputedAt: time.Now()}
	require.NoError(t, c.Set(ctx, board))
	require.NoError(t, c.Invalidate(ctx, "raven"))

	_, found, err := c.Get(ctx, "raven")
	require.NoError(t, err)
	assert.False(t, found)
}
