package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coconiss/WalkTracker/model"

	"github.com/go-redis/redis/v8"
)

const (
	rankingKeyPrefix = "ranking:"
	metaKeyPrefix    = "ranking:meta:"

	// MaxOpsPerCommit is the hard limit on operations per commit batch.
	MaxOpsPerCommit = 500
)

var ErrRankingNotFound = errors.New("no ranking stored for period")

// RankingStore owns the persisted leaderboard documents: one entry document
// per (period, user) plus one meta document per period.
type RankingStore struct {
	redis *redis.Client
}

func NewRankingStore(rdb *redis.Client) *RankingStore {
	return &RankingStore{redis: rdb}
}

// WriteStats reports what one ReplaceRanking call committed.
type WriteStats struct {
	Written int // entry documents set
	Deleted int // stale entry documents removed
	Commits int // pipeline commits issued
}

func entryKey(periodType, periodKey, userID string) string {
	return fmt.Sprintf("%s%s_%s_%s", rankingKeyPrefix, periodType, periodKey, userID)
}

func entryKeyPrefix(periodType, periodKey string) string {
	return fmt.Sprintf("%s%s_%s_", rankingKeyPrefix, periodType, periodKey)
}

func metaKey(periodType, periodKey string) string {
	return fmt.Sprintf("%s%s_%s", metaKeyPrefix, periodType, periodKey)
}

// batch groups queued commands into bounded TxPipeline commits. It flushes
// whenever MaxOpsPerCommit operations are queued; the caller flushes the
// remainder.
type batch struct {
	redis   *redis.Client
	pipe    redis.Pipeliner
	ops     int
	commits int
}

func (b *batch) queue(ctx context.Context, add func(redis.Pipeliner)) error {
	if b.pipe == nil {
		b.pipe = b.redis.TxPipeline()
	}
	add(b.pipe)
	b.ops++
	if b.ops >= MaxOpsPerCommit {
		return b.flush(ctx)
	}
	return nil
}

func (b *batch) flush(ctx context.Context) error {
	if b.pipe == nil || b.ops == 0 {
		return nil
	}
	if _, err := b.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit batch of %d ops: %w", b.ops, err)
	}
	b.commits++
	b.ops = 0
	b.pipe = nil
	return nil
}

// ReplaceRanking fully overwrites the stored result for one period: entry
// documents are set in rank order, entries from a previous run whose users
// no longer rank are deleted, and the meta document is rewritten. Nothing is
// merged; rerunning a period with unchanged input reproduces the same state.
func (s *RankingStore) ReplaceRanking(ctx context.Context, periodType, periodKey string, entries []model.RankingEntry, now time.Time) (WriteStats, error) {
	var stats WriteStats

	keep := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		keep[entryKey(periodType, periodKey, entry.UserID)] = struct{}{}
	}

	// Discover leftovers from the previous run before queueing any write.
	var stale []string
	iter := s.redis.Scan(ctx, 0, entryKeyPrefix(periodType, periodKey)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if _, ok := keep[iter.Val()]; !ok {
			stale = append(stale, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("scan stale rankings %s/%s: %w", periodType, periodKey, err)
	}
	sort.Strings(stale)

	b := &batch{redis: s.redis}

	for _, key := range stale {
		key := key
		if err := b.queue(ctx, func(p redis.Pipeliner) { p.Del(ctx, key) }); err != nil {
			return stats, err
		}
		stats.Deleted++
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return stats, fmt.Errorf("encode ranking entry %s: %w", entry.UserID, err)
		}
		key := entryKey(periodType, periodKey, entry.UserID)
		if err := b.queue(ctx, func(p redis.Pipeliner) { p.Set(ctx, key, data, 0) }); err != nil {
			return stats, err
		}
		stats.Written++
	}

	meta := model.RankingMeta{
		Period:            periodType,
		PeriodKey:         periodKey,
		TotalParticipants: len(entries),
		UpdatedAt:         now,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return stats, fmt.Errorf("encode ranking meta: %w", err)
	}
	mkey := metaKey(periodType, periodKey)
	if err := b.queue(ctx, func(p redis.Pipeliner) { p.Set(ctx, mkey, metaData, 0) }); err != nil {
		return stats, err
	}

	if err := b.flush(ctx); err != nil {
		return stats, err
	}
	stats.Commits = b.commits
	return stats, nil
}

// Leaderboard returns the persisted result for one period, ordered by rank.
// limit > 0 caps the returned entries; the meta counts are unaffected.
func (s *RankingStore) Leaderboard(ctx context.Context, periodType, periodKey string, limit int) (model.LeaderboardResponse, error) {
	var resp model.LeaderboardResponse

	data, err := s.redis.Get(ctx, metaKey(periodType, periodKey)).Bytes()
	if err == redis.Nil {
		return resp, ErrRankingNotFound
	} else if err != nil {
		return resp, fmt.Errorf("read ranking meta %s/%s: %w", periodType, periodKey, err)
	}

	var meta model.RankingMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return resp, fmt.Errorf("decode ranking meta %s/%s: %w", periodType, periodKey, err)
	}

	entries := make([]model.RankingEntry, 0, meta.TotalParticipants)
	iter := s.redis.Scan(ctx, 0, entryKeyPrefix(periodType, periodKey)+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // deleted between scan and read
		} else if err != nil {
			return resp, fmt.Errorf("read ranking entry %s: %w", iter.Val(), err)
		}
		var entry model.RankingEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return resp, fmt.Errorf("decode ranking entry %s: %w", iter.Val(), err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return resp, fmt.Errorf("scan rankings %s/%s: %w", periodType, periodKey, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	resp = model.LeaderboardResponse{
		Period:            meta.Period,
		PeriodKey:         meta.PeriodKey,
		TotalParticipants: meta.TotalParticipants,
		UpdatedAt:         meta.UpdatedAt,
		Leaderboard:       entries,
	}
	return resp, nil
}
