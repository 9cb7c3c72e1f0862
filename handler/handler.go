package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coconiss/WalkTracker/cache"
	"github.com/coconiss/WalkTracker/config"
	"github.com/coconiss/WalkTracker/ranker"
	"github.com/coconiss/WalkTracker/store"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// LeaderboardHandler serves persisted leaderboards and operator endpoints
type LeaderboardHandler struct {
	redis    *redis.Client
	rankings *store.RankingStore
	pipeline *ranker.Pipeline
	names    *cache.NameCache
	config   config.Config
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(rdb *redis.Client, rankings *store.RankingStore, pipeline *ranker.Pipeline, names *cache.NameCache, cfg config.Config) *LeaderboardHandler {
	return &LeaderboardHandler{
		redis:    rdb,
		rankings: rankings,
		pipeline: pipeline,
		names:    names,
		config:   cfg,
	}
}

// periodFromRequest validates the {periodType}/{periodKey} route variables.
func periodFromRequest(r *http.Request) (ranker.Period, error) {
	vars := mux.Vars(r)
	period := ranker.Period{
		Type: ranker.PeriodType(vars["periodType"]),
		Key:  vars["periodKey"],
	}
	if _, _, err := ranker.Resolve(period.Type, period.Key); err != nil {
		return ranker.Period{}, err
	}
	return period, nil
}

// GetLeaderboard handles GET /leaderboard/{periodType}/{periodKey}
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, h.config.Redis.OperationTimeout)
	defer cancel()

	period, err := periodFromRequest(r)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid leaderboard request")
		SendJSONError(w, http.StatusBadRequest, err, "")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	resp, err := h.rankings.Leaderboard(ctx, string(period.Type), period.Key, limit)
	if errors.Is(err, store.ErrRankingNotFound) {
		SendJSONError(w, http.StatusNotFound, err, "No ranking has been computed for this period yet")
		return
	} else if err != nil {
		log.Error().Err(err).Str("period", period.String()).Msg("Failed to read leaderboard")
		SendJSONError(w, http.StatusInternalServerError, err, "Failed to read leaderboard")
		return
	}

	SendJSONSuccess(w, http.StatusOK, resp)
}

// Recompute handles POST /recompute/{periodType}/{periodKey}. It runs the
// full pipeline for one period on demand.
func (h *LeaderboardHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	period, err := periodFromRequest(r)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid recompute request")
		SendJSONError(w, http.StatusBadRequest, err, "")
		return
	}

	count, err := h.pipeline.RunPeriod(r.Context(), period)
	if err != nil {
		log.Error().Err(err).Str("period", period.String()).Msg("On-demand recompute failed")
		SendJSONError(w, http.StatusInternalServerError, err, "Recompute failed")
		return
	}

	SendJSONSuccess(w, http.StatusOK, RecomputeResponse{
		Period:    string(period.Type),
		PeriodKey: period.Key,
		Entries:   count,
	})
}

// HealthCheck handles GET /health
func (h *LeaderboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 2)
	defer cancel()

	// Check Redis connection
	if err := h.redis.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Redis health check failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "unhealthy",
			"redis":  "unavailable",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"redis":  "connected",
	})
}

// CacheMetrics handles GET /cache/metrics
func (h *LeaderboardHandler) CacheMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.config.Cache.Enabled || h.names == nil {
		SendJSONError(w, http.StatusServiceUnavailable, errors.New("cache is disabled"), "")
		return
	}

	metrics := h.names.GetMetricsSnapshot()
	SendJSONSuccess(w, http.StatusOK, metrics)
}

func contextWithTimeout(r *http.Request, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), time.Duration(seconds)*time.Second)
}
