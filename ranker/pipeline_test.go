package ranker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coconiss/WalkTracker/cache"
	"github.com/coconiss/WalkTracker/config"
	"github.com/coconiss/WalkTracker/model"
	"github.com/coconiss/WalkTracker/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankingCfg() config.RankingConfig {
	return config.RankingConfig{TopN: 0, WriteEmpty: true, PeriodTimeout: 30}
}

func newTestPipeline(t *testing.T, cfg config.RankingConfig) (*Pipeline, *redis.Client, *cache.NameCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	names, err := cache.New(config.CacheConfig{Enabled: true, MaxSizeMB: 8, TTLSeconds: 60, CounterSize: 1000})
	require.NoError(t, err)
	t.Cleanup(names.Close)

	pipeline := New(
		store.NewActivityStore(client),
		store.NewProfileStore(client),
		store.NewRankingStore(client),
		names,
		cfg,
	)
	return pipeline, client, names
}

func seedActivity(t *testing.T, ctx context.Context, rdb *redis.Client, date, userID string, distance float64) {
	t.Helper()
	data, err := json.Marshal(model.ActivityRecord{UserID: userID, Date: date, Distance: distance})
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(ctx, "activity:"+date, data).Err())
}

func seedProfile(t *testing.T, ctx context.Context, rdb *redis.Client, userID, displayName string) {
	t.Helper()
	data, err := json.Marshal(model.UserProfile{DisplayName: displayName})
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, "user:"+userID, data, 0).Err())
}

func readLeaderboard(t *testing.T, ctx context.Context, rdb *redis.Client, periodType, periodKey string) model.LeaderboardResponse {
	t.Helper()
	resp, err := store.NewRankingStore(rdb).Leaderboard(ctx, periodType, periodKey, 0)
	require.NoError(t, err)
	return resp
}

func TestRunPeriod_AggregatesAndRanks(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

	// Two records on the same day for alice are summed, not deduplicated.
	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 2.5)
	seedActivity(t, ctx, rdb, "2024-02-11", "bob", 10.0)
	seedActivity(t, ctx, rdb, "2024-02-29", "carol", 4.0) // leap day, inside the month
	seedActivity(t, ctx, rdb, "2024-03-01", "bob", 99.0)  // outside the window
	seedActivity(t, ctx, rdb, "2024-02-12", "", 50.0)     // anonymous record, skipped

	seedProfile(t, ctx, rdb, "alice", "Alice")
	seedProfile(t, ctx, rdb, "bob", "Bob")
	// carol has no profile document

	count, err := pipeline.RunPeriod(ctx, Period{Monthly, "2024-02"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	resp := readLeaderboard(t, ctx, rdb, "monthly", "2024-02")
	assert.Equal(t, 3, resp.TotalParticipants)
	require.Len(t, resp.Leaderboard, 3)

	// Descending by distance, ranks 1..n without gaps.
	assert.Equal(t, "bob", resp.Leaderboard[0].UserID)
	assert.Equal(t, 10.0, resp.Leaderboard[0].Distance)
	assert.Equal(t, "alice", resp.Leaderboard[1].UserID)
	assert.Equal(t, 5.5, resp.Leaderboard[1].Distance)
	assert.Equal(t, "carol", resp.Leaderboard[2].UserID)

	var total float64
	for i, entry := range resp.Leaderboard {
		assert.Equal(t, i+1, entry.Rank)
		total += entry.Distance
	}
	assert.Equal(t, 19.5, total, "persisted totals must equal the in-range record sum")

	assert.Equal(t, "Bob", resp.Leaderboard[0].DisplayName)
	assert.Equal(t, "Alice", resp.Leaderboard[1].DisplayName)
	assert.Equal(t, UnknownDisplayName, resp.Leaderboard[2].DisplayName)
	assert.Equal(t, "monthly", resp.Leaderboard[0].Period)
	assert.Equal(t, "2024-02", resp.Leaderboard[0].PeriodKey)
}

func TestRunPeriod_TieBreakByUserID(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

	seedActivity(t, ctx, rdb, "2024-02-10", "zoe", 7.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "adam", 7.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "mia", 7.0)

	_, err := pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
	require.NoError(t, err)

	resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
	require.Len(t, resp.Leaderboard, 3)
	assert.Equal(t, "adam", resp.Leaderboard[0].UserID)
	assert.Equal(t, "mia", resp.Leaderboard[1].UserID)
	assert.Equal(t, "zoe", resp.Leaderboard[2].UserID)
}

func TestRunPeriod_Idempotent(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "bob", 8.0)
	seedProfile(t, ctx, rdb, "alice", "Alice")
	seedProfile(t, ctx, rdb, "bob", "Bob")

	period := Period{Daily, "2024-02-10"}
	_, err := pipeline.RunPeriod(ctx, period)
	require.NoError(t, err)
	first := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")

	_, err = pipeline.RunPeriod(ctx, period)
	require.NoError(t, err)
	second := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")

	// Identical modulo the update timestamp.
	require.Equal(t, len(first.Leaderboard), len(second.Leaderboard))
	for i := range first.Leaderboard {
		a, b := first.Leaderboard[i], second.Leaderboard[i]
		a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
		assert.Equal(t, a, b)
	}
}

func TestRunPeriod_OverwriteDropsInactiveUsers(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "bob", 8.0)

	period := Period{Daily, "2024-02-10"}
	_, err := pipeline.RunPeriod(ctx, period)
	require.NoError(t, err)

	// bob's activity disappears (e.g. the record was retracted upstream).
	require.NoError(t, rdb.Del(ctx, "activity:2024-02-10").Err())
	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)

	count, err := pipeline.RunPeriod(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
	assert.Equal(t, 1, resp.TotalParticipants)
	require.Len(t, resp.Leaderboard, 1)
	assert.Equal(t, "alice", resp.Leaderboard[0].UserID)
}

func TestRunPeriod_EmptyWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteEmpty", func(t *testing.T) {
		pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

		count, err := pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
		assert.Equal(t, 0, resp.TotalParticipants)
		assert.Empty(t, resp.Leaderboard)
	})

	t.Run("SkipWrite", func(t *testing.T) {
		cfg := rankingCfg()
		cfg.WriteEmpty = false
		pipeline, rdb, _ := newTestPipeline(t, cfg)

		count, err := pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = store.NewRankingStore(rdb).Leaderboard(ctx, "daily", "2024-02-10", 0)
		assert.ErrorIs(t, err, store.ErrRankingNotFound)
	})
}

func TestRunPeriod_TopNTruncation(t *testing.T) {
	ctx := context.Background()
	cfg := rankingCfg()
	cfg.TopN = 2
	pipeline, rdb, _ := newTestPipeline(t, cfg)

	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "bob", 8.0)
	seedActivity(t, ctx, rdb, "2024-02-10", "carol", 5.0)

	count, err := pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
	require.Len(t, resp.Leaderboard, 2)
	assert.Equal(t, "bob", resp.Leaderboard[0].UserID)
	assert.Equal(t, "carol", resp.Leaderboard[1].UserID)
}

func TestRunPeriod_UnknownPeriodType(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _ := newTestPipeline(t, rankingCfg())

	_, err := pipeline.RunPeriod(ctx, Period{"weekly", "2024-W07"})
	assert.ErrorIs(t, err, ErrUnknownPeriodType)
}

func TestRunPeriod_CachesDisplayNames(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, names := newTestPipeline(t, rankingCfg())

	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)
	seedProfile(t, ctx, rdb, "alice", "Alice")

	_, err := pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
	require.NoError(t, err)

	names.Wait()
	name, found := names.Get("alice")
	assert.True(t, found, "successful lookups are memoized")
	assert.Equal(t, "Alice", name)

	// A vanished profile is shadowed by the cache within the TTL.
	require.NoError(t, rdb.Del(ctx, "user:alice").Err())
	_, err = pipeline.RunPeriod(ctx, Period{Daily, "2024-02-10"})
	require.NoError(t, err)

	resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
	require.Len(t, resp.Leaderboard, 1)
	assert.Equal(t, "Alice", resp.Leaderboard[0].DisplayName)
}

func TestRunAll_ContinuesPastFailedPeriod(t *testing.T) {
	ctx := context.Background()
	pipeline, rdb, _ := newTestPipeline(t, rankingCfg())

	seedActivity(t, ctx, rdb, "2024-02-10", "alice", 3.0)

	failed := pipeline.RunAll(ctx, []Period{
		{"weekly", "2024-W07"}, // unknown type, fails
		{Daily, "2024-02-10"},  // still runs
	})
	assert.Equal(t, 1, failed)

	resp := readLeaderboard(t, ctx, rdb, "daily", "2024-02-10")
	assert.Equal(t, 1, resp.TotalParticipants)
}
