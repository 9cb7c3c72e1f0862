package ranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coconiss/WalkTracker/cache"
	"github.com/coconiss/WalkTracker/config"
	"github.com/coconiss/WalkTracker/model"
	"github.com/coconiss/WalkTracker/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// UnknownDisplayName is persisted when a profile lookup finds nothing or
// fails; a missing name must never abort a run.
const UnknownDisplayName = "Unknown User"

// Pipeline recomputes one period's leaderboard in a single pass:
// resolve window, aggregate distances, sort and rank, enrich with display
// names, persist with full-overwrite semantics.
type Pipeline struct {
	activities *store.ActivityStore
	profiles   *store.ProfileStore
	rankings   *store.RankingStore
	names      *cache.NameCache // may be nil when the cache is disabled
	cfg        config.RankingConfig
}

func New(activities *store.ActivityStore, profiles *store.ProfileStore, rankings *store.RankingStore, names *cache.NameCache, cfg config.RankingConfig) *Pipeline {
	return &Pipeline{
		activities: activities,
		profiles:   profiles,
		rankings:   rankings,
		names:      names,
		cfg:        cfg,
	}
}

// aggregate sums per-user distance across the inclusive date range. Records
// without a userId are skipped. An empty result means zero participants,
// not a failure.
func (p *Pipeline) aggregate(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	totals := make(map[string]float64)
	err := p.activities.StreamRange(ctx, start, end, func(record model.ActivityRecord) {
		if record.UserID == "" {
			return
		}
		totals[record.UserID] += record.Distance
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// rank orders totals by distance descending, ties broken by userId
// ascending so recomputes are reproducible, and assigns 1-based ranks.
func rank(totals map[string]float64) []model.RankingEntry {
	entries := make([]model.RankingEntry, 0, len(totals))
	for userID, distance := range totals {
		entries = append(entries, model.RankingEntry{UserID: userID, Distance: distance})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Distance != entries[j].Distance {
			return entries[i].Distance > entries[j].Distance
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// displayName resolves a user's display name through the cache, then the
// profile store. Only successful lookups are cached.
func (p *Pipeline) displayName(ctx context.Context, userID string) string {
	if p.names != nil {
		if name, ok := p.names.Get(userID); ok {
			return name
		}
	}

	name, err := p.profiles.DisplayName(ctx, userID)
	if errors.Is(err, store.ErrProfileNotFound) {
		return UnknownDisplayName
	} else if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Profile lookup failed, using fallback name")
		return UnknownDisplayName
	}

	if p.names != nil {
		p.names.Set(userID, name)
	}
	return name
}

// RunPeriod recomputes and persists the leaderboard for one period and
// returns the number of entries written. Failures are scoped to this
// period; callers decide whether sibling periods still run.
func (p *Pipeline) RunPeriod(ctx context.Context, period Period) (int, error) {
	start, end, err := Resolve(period.Type, period.Key)
	if err != nil {
		return 0, err
	}

	if p.cfg.PeriodTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.PeriodTimeout)*time.Second)
		defer cancel()
	}

	totals, err := p.aggregate(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", period, err)
	}

	if len(totals) == 0 && !p.cfg.WriteEmpty {
		log.Info().Str("period", period.String()).Msg("No activities found, nothing to update")
		return 0, nil
	}

	entries := rank(totals)
	if p.cfg.TopN > 0 && len(entries) > p.cfg.TopN {
		entries = entries[:p.cfg.TopN]
	}

	now := time.Now().UTC()
	for i := range entries {
		entries[i].DisplayName = p.displayName(ctx, entries[i].UserID)
		entries[i].Period = string(period.Type)
		entries[i].PeriodKey = period.Key
		entries[i].UpdatedAt = now
	}

	stats, err := p.rankings.ReplaceRanking(ctx, string(period.Type), period.Key, entries, now)
	if err != nil {
		return 0, fmt.Errorf("persist %s: %w", period, err)
	}

	log.Info().
		Str("period", period.String()).
		Int("entries", stats.Written).
		Int("stale_deleted", stats.Deleted).
		Int("commits", stats.Commits).
		Msg("Ranking persisted")
	return stats.Written, nil
}

// RunAll runs the given periods sequentially. A failed period is logged and
// the remaining periods still run. Returns the number of failed periods.
func (p *Pipeline) RunAll(ctx context.Context, periods []Period) int {
	runLog := log.With().Str("run_id", uuid.New().String()).Logger()
	runLog.Info().Int("periods", len(periods)).Msg("Starting ranking run")

	failed := 0
	for _, period := range periods {
		started := time.Now()
		count, err := p.RunPeriod(ctx, period)
		if err != nil {
			failed++
			runLog.Error().Err(err).Str("period", period.String()).Msg("Ranking period failed")
			continue
		}
		if count == 0 {
			runLog.Warn().Str("period", period.String()).Msg("Ranking period has no participants")
		}
		runLog.Info().
			Str("period", period.String()).
			Int("entries", count).
			Dur("elapsed", time.Since(started)).
			Msg("Ranking period updated")
	}

	runLog.Info().Int("failed", failed).Msg("Ranking run finished")
	return failed
}
